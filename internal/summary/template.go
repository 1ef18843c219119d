package summary

import (
	"errors"
	"fmt"
	"strings"
)

// Placeholder is the only field a template may reference.
const Placeholder = "transkript"

var ErrMalformedTemplate = errors.New("malformed prompt template")

// Render substitutes the transcript into tmpl using str.format rules for a
// single named field: "{transkript}" is replaced, "{{" and "}}" are literal
// braces. Any other field or an unbalanced brace is an error, and so is a
// conversion ("!s") or format spec (":>10"): the field must be written bare.
func Render(tmpl, transcript string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl) + len(transcript))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedTemplate, i)
			}
			field := tmpl[i+1 : i+1+end]
			if field != Placeholder {
				return "", fmt.Errorf("%w: unknown field {%s}", ErrMalformedTemplate, field)
			}
			b.WriteString(transcript)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrMalformedTemplate, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// BuildPrompt applies the caller's template and falls back to fallback when
// the caller gave none or it does not render. The prompt is always usable; a
// non-nil error only reports why the caller's template was rejected.
func BuildPrompt(userTemplate, fallback, transcript string) (string, error) {
	var templateErr error
	if strings.TrimSpace(userTemplate) != "" {
		p, err := Render(userTemplate, transcript)
		if err == nil {
			return p, nil
		}
		templateErr = err
	}
	p, err := Render(fallback, transcript)
	if err != nil {
		// fallback is validated at load time
		p = strings.ReplaceAll(fallback, "{"+Placeholder+"}", transcript)
	}
	return p, templateErr
}
