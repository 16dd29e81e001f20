package prompt

import (
	"strings"
	"text/template"

	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
)

// Render binds vars into tmpl. Every placeholder must have a value.
func Render(tmpl string, vars map[string]string) (string, error) {
	parsed, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeTemplateBinding, "prompt template is invalid", err)
	}
	if vars == nil {
		vars = map[string]string{}
	}
	var builder strings.Builder
	if err := parsed.Execute(&builder, vars); err != nil {
		return "", apperrors.Wrap(apperrors.CodeTemplateBinding, "prompt variables incomplete", err)
	}
	return builder.String(), nil
}
