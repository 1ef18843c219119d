package summary

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultSystemPrompt = "Du bist ein deutscher Meeting-Assistent."

// DefaultTemplate asks for summary, decisions and to-dos, and echoes the full
// transcript at the end.
const DefaultTemplate = `
Du bist ein KI-Protokoll-Assistent. Analysiere das folgende Meeting-Transkript und erstelle:
1. Eine Zusammenfassung der Hauptpunkte
2. Eine Liste der getroffenen Entscheidungen
3. Eine Liste aller To-Dos mit Namen (falls genannt)

Am Ende gib bitte zusätzlich das vollständige Transkript noch einmal aus.

Transkript:
{transkript}

Gib die Antwort im folgenden Format aus:

## Zusammenfassung
...

## Entscheidungen
- ...

## To-Dos
- [Name]: [Aufgabe]

## Vollständiges Transkript
{transkript}
`

// Prompts is the system prompt plus the default user template. Both can be
// replaced by a YAML file:
//
//	system: Du bist ...
//	template: |
//	  ... {transkript} ...
type Prompts struct {
	System   string `yaml:"system"`
	Template string `yaml:"template"`
}

func DefaultPrompts() Prompts {
	return Prompts{System: DefaultSystemPrompt, Template: DefaultTemplate}
}

// LoadPrompts reads a prompts file. Missing keys keep their defaults; a
// template that does not render is rejected so the fallback stays valid.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read prompts file: %w", err)
	}
	var file Prompts
	if err := yaml.Unmarshal(data, &file); err != nil {
		return p, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	if strings.TrimSpace(file.System) != "" {
		p.System = strings.TrimSpace(file.System)
	}
	if strings.TrimSpace(file.Template) != "" {
		if _, err := Render(file.Template, ""); err != nil {
			return DefaultPrompts(), fmt.Errorf("prompts file %s: template: %w", path, err)
		}
		p.Template = file.Template
	}
	return p, nil
}
