// Package template implements the stateless {{name}} substitution
// renderer, grounded on TemplateService.java.
package template

import (
	"regexp"

	"github.com/brightloom/notifyd/internal/model"
)

var variablePattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Rendered is the pair of subject/body produced by Render.
type Rendered struct {
	Subject string
	Body    string
}

// Render substitutes {{name}} tokens in t's subject and body templates.
// Substitution is left-to-right and non-recursive: a substituted value
// is never itself re-scanned for tokens. Missing variables are left as
// the literal token.
func Render(t *model.MessageTemplate, vars map[string]string) Rendered {
	return Rendered{
		Subject: renderText(t.SubjectTemplate, vars),
		Body:    renderText(t.BodyTemplate, vars),
	}
}

func renderText(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(token string) string {
		name := variablePattern.FindStringSubmatch(token)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return token
	})
}

// Validate checks that every name in t.Variables is present in vars,
// returning the list of missing names (empty when valid).
func Validate(t *model.MessageTemplate, vars map[string]string) []string {
	var missing []string
	for _, name := range t.Variables {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
