// Package prompt loads the instruction templates that drive each pipeline
// stage and renders them with per-request variables.
package prompt

import (
	"fmt"
	"strings"
)

// ModelHint pins a template to a model of one provider family.
type ModelHint struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Template is an immutable system/user instruction pair with named
// placeholders and its generation settings.
type Template struct {
	Name        string
	SystemText  string
	UserText    string
	InputNames  []string
	Temperature float64
	JSONMode    bool
	ModelHint   *ModelHint
}

// Rendered is a template with its placeholders resolved.
type Rendered struct {
	System string
	User   string
}

// Render replaces every {{name}} occurrence for each supplied variable.
// Placeholders without a value are left verbatim; Render never fails.
func (t *Template) Render(vars map[string]any) Rendered {
	if len(vars) == 0 {
		return Rendered{System: t.SystemText, User: t.UserText}
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, v := range vars {
		pairs = append(pairs, "{{"+name+"}}", stringify(v))
	}
	r := strings.NewReplacer(pairs...)
	return Rendered{
		System: r.Replace(t.SystemText),
		User:   r.Replace(t.UserText),
	}
}

// HintFor returns the model the template asks for when the caller's provider
// matches the hint, or "" when the provider default applies.
func (t *Template) HintFor(provider string) string {
	if t.ModelHint == nil || t.ModelHint.Model == "" {
		return ""
	}
	if !strings.EqualFold(t.ModelHint.Provider, provider) {
		return ""
	}
	return t.ModelHint.Model
}

// MissingInputs lists declared inputs absent from vars. The orchestrator logs
// them; rendering still proceeds.
func (t *Template) MissingInputs(vars map[string]any) []string {
	var missing []string
	for _, name := range t.InputNames {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
