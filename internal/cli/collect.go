package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/runplane/runplane/internal/collect"
	"golang.org/x/term"
)

// collectInput assembles the run's input set from flags and, when the
// analyzer says the program reads stdin, from an interactive prompt.
func (r *RunCommand) collectInput(rc *runtimeContext, language, source string) (*collect.InputSet, error) {
	set := &collect.InputSet{}
	if r.Stdin != "" {
		set.AddField("stdin", r.Stdin)
	}
	for _, spec := range r.Attach {
		field, path, err := parseAttachSpec(spec)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment %q: %w", path, err)
		}
		set.AddFile(field, filepath.Base(path), content)
	}

	if r.Stdin == "" && rc.InputRequired != nil && rc.InputRequired(language, source) {
		value, err := promptForInput(rc.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		set.AddField("stdin", value)
	}
	return set, nil
}

// defaultInputRequired is a static heuristic for whether a program reads
// interactive input, keyed on the reading idiom of each language. A false
// negative just means the run proceeds with empty stdin.
func defaultInputRequired(language, source string) bool {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "py":
		return strings.Contains(source, "input(")
	case "javascript", "js", "node", "typescript", "ts":
		return strings.Contains(source, "readline") || strings.Contains(source, "prompt(")
	case "go":
		return strings.Contains(source, "fmt.Scan") || strings.Contains(source, "os.Stdin")
	case "java":
		return strings.Contains(source, "System.in")
	case "c", "c++", "cpp":
		return strings.Contains(source, "scanf") || strings.Contains(source, "cin >>") || strings.Contains(source, "cin>>")
	case "ruby", "rb":
		return strings.Contains(source, "gets")
	default:
		return false
	}
}

func parseAttachSpec(spec string) (field, path string, err error) {
	field, path, ok := strings.Cut(spec, "=")
	if !ok || field == "" || path == "" {
		return "", "", fmt.Errorf("invalid --attach %q (expected field=path)", spec)
	}
	return field, path, nil
}

// promptForInput reads program input from the user. A non-terminal stdin is
// consumed whole; a terminal is prompted line by line until an empty line.
func promptForInput(in *os.File, prompt io.Writer) (string, error) {
	if in == nil {
		return "", nil
	}
	if !term.IsTerminal(int(in.Fd())) {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read program input: %w", err)
		}
		return string(b), nil
	}

	if _, err := fmt.Fprintln(prompt, "program input (finish with an empty line):"); err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(in)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read program input: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}
