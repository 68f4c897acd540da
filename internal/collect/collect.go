// Package collect builds execution payloads from user-collected input: named
// text fields become the stdin text, named file fields become multipart
// attachments. A set is consumed once and then discarded.
package collect

import (
	"strings"

	"github.com/runplane/runplane/internal/provider"
)

type Field struct {
	Name  string
	Value string
}

type File struct {
	Field    string
	Filename string
	Content  []byte
}

// InputSet accumulates collected input in collection order.
type InputSet struct {
	fields []Field
	files  []File
}

func (s *InputSet) AddField(name, value string) {
	s.fields = append(s.fields, Field{Name: name, Value: value})
}

func (s *InputSet) AddFile(field, filename string, content []byte) {
	s.files = append(s.files, File{Field: field, Filename: filename, Content: content})
}

// Empty reports whether nothing has been collected.
func (s *InputSet) Empty() bool {
	return len(s.fields) == 0 && len(s.files) == 0
}

// Build renders the stdin text and attachments and clears the set.
func (s *InputSet) Build() (stdin string, attachments []provider.Attachment) {
	values := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		values = append(values, f.Value)
	}
	stdin = strings.Join(values, "\n")

	attachments = make([]provider.Attachment, 0, len(s.files))
	for _, f := range s.files {
		attachments = append(attachments, provider.Attachment{
			Field:    f.Field,
			Filename: f.Filename,
			Content:  f.Content,
		})
	}

	s.fields = nil
	s.files = nil
	return stdin, attachments
}
