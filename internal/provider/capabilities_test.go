package provider

import "testing"

func TestCapabilityForPython(t *testing.T) {
	for _, language := range []string{"python", "py", "Python", " PY "} {
		cap := CapabilityFor(language)
		if cap.Primary != BackendSandbox {
			t.Fatalf("%q: expected sandbox primary, got %q", language, cap.Primary)
		}
		if cap.Fallback != BackendPiston {
			t.Fatalf("%q: expected piston fallback, got %q", language, cap.Fallback)
		}
		if !cap.Attachments {
			t.Fatalf("%q: expected attachment support", language)
		}
	}
}

func TestCapabilityForOtherLanguages(t *testing.T) {
	for _, language := range []string{"go", "rust", "javascript", "", "cobol"} {
		cap := CapabilityFor(language)
		if cap.Primary != BackendPiston {
			t.Fatalf("%q: expected piston primary, got %q", language, cap.Primary)
		}
		if cap.Fallback != "" {
			t.Fatalf("%q: expected no fallback, got %q", language, cap.Fallback)
		}
		if cap.Attachments {
			t.Fatalf("%q: attachments must be unsupported", language)
		}
	}
}
