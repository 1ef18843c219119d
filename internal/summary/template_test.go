package summary

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	cases := []struct {
		name, tmpl, want string
		wantErr          bool
	}{
		{name: "single field", tmpl: "Fasse zusammen: {transkript}", want: "Fasse zusammen: T"},
		{name: "twice", tmpl: "{transkript}/{transkript}", want: "T/T"},
		{name: "escaped braces", tmpl: "{{json}} {transkript} }}", want: "{json} T }"},
		{name: "no field", tmpl: "Nur Text", want: "Nur Text"},
		{name: "unknown field", tmpl: "{name}: {transkript}", wantErr: true},
		{name: "positional", tmpl: "{}", wantErr: true},
		{name: "format spec", tmpl: "{transkript:>10}", wantErr: true},
		{name: "empty format spec", tmpl: "{transkript:}", wantErr: true},
		{name: "conversion", tmpl: "{transkript!s}", wantErr: true},
		{name: "repr conversion", tmpl: "{transkript!r}", wantErr: true},
		{name: "unclosed", tmpl: "{transkript", wantErr: true},
		{name: "stray close", tmpl: "a } b", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Render(tc.tmpl, "T")
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedTemplate) {
					t.Fatalf("expected ErrMalformedTemplate, got %v (%q)", err, got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Render() = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestRenderDoesNotInterpretTranscriptBraces(t *testing.T) {
	got, err := Render("X {transkript} Y", "a {name} }")
	if err != nil || got != "X a {name} } Y" {
		t.Fatalf("Render() = %q, %v", got, err)
	}
}

func TestBuildPromptFallsBackOnMalformedTemplate(t *testing.T) {
	prompt, err := BuildPrompt("Hallo {name}", DefaultTemplate, "TRANSKRIPT")
	if err == nil {
		t.Fatal("expected the template error to be reported")
	}
	if strings.Count(prompt, "TRANSKRIPT") != 2 || !strings.Contains(prompt, "## Vollständiges Transkript") {
		t.Fatalf("default template not used: %q", prompt)
	}
}

func TestBuildPromptUsesUserTemplate(t *testing.T) {
	prompt, err := BuildPrompt("Kurz: {transkript}", DefaultTemplate, "T")
	if err != nil || prompt != "Kurz: T" {
		t.Fatalf("BuildPrompt() = %q, %v", prompt, err)
	}
	prompt, err = BuildPrompt("   ", DefaultTemplate, "T")
	if err != nil || !strings.HasPrefix(strings.TrimSpace(prompt), "Du bist ein KI-Protokoll-Assistent.") {
		t.Fatalf("blank template should use default: %q, %v", prompt, err)
	}
}

func TestLoadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	body := "system: Du bist Protokollführer.\ntemplate: |\n  Protokoll:\n  {transkript}\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts() error = %v", err)
	}
	if p.System != "Du bist Protokollführer." || p.Template != "Protokoll:\n{transkript}\n" {
		t.Fatalf("unexpected prompts: %+v", p)
	}
}

func TestLoadPromptsRejectsBrokenTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("template: \"{oops}\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPrompts(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.Template != DefaultTemplate {
		t.Fatal("defaults should be returned on error")
	}
}

func TestLoadPromptsEmptyPath(t *testing.T) {
	p, err := LoadPrompts("")
	if err != nil || p != DefaultPrompts() {
		t.Fatalf("LoadPrompts(\"\") = %+v, %v", p, err)
	}
}

func TestBuildPromptConversionFallsBackToDefault(t *testing.T) {
	prompt, err := BuildPrompt("Kurz: {transkript!s}", "Standard: {transkript}", "T")
	if !errors.Is(err, ErrMalformedTemplate) || prompt != "Standard: T" {
		t.Fatalf("BuildPrompt() = %q, %v", prompt, err)
	}
}
