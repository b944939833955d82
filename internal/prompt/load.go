package prompt

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FormatError reports a template source missing a required structural field.
// It is fatal at load time.
type FormatError struct {
	Name   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("prompt: template %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("prompt: template %q: %s", e.Name, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// templateFile mirrors the Dataiku prompt studio export. The YAML form uses
// the same keys.
type templateFile struct {
	Prompt *struct {
		SystemTemplate *string `json:"textPromptSystemTemplate" yaml:"textPromptSystemTemplate"`
		UserTemplate   *string `json:"textPromptTemplate" yaml:"textPromptTemplate"`
		Inputs         *[]struct {
			Name string `json:"name" yaml:"name"`
		} `json:"textPromptTemplateInputs" yaml:"textPromptTemplateInputs"`
	} `json:"prompt" yaml:"prompt"`
	CompletionSettings struct {
		Temperature    *float64 `json:"temperature" yaml:"temperature"`
		ResponseFormat struct {
			Type string `json:"type" yaml:"type"`
		} `json:"responseFormat" yaml:"responseFormat"`
	} `json:"completionSettings" yaml:"completionSettings"`
	LLMHint *ModelHint `json:"llmHint,omitempty" yaml:"llmHint,omitempty"`
}

const (
	extPrompt = ".prompt"
	extJSON   = ".json"
	extYAML   = ".yaml"
	extYML    = ".yml"
)

// Parse decodes one template source. The file extension selects the codec:
// .prompt and .json are JSON, .yaml and .yml are YAML.
func Parse(filename string, data []byte) (*Template, error) {
	ext := strings.ToLower(path.Ext(filename))
	name := strings.TrimSuffix(path.Base(filename), path.Ext(filename))

	var f templateFile
	switch ext {
	case extPrompt, extJSON:
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &FormatError{Name: name, Reason: "invalid JSON", Err: err}
		}
	case extYAML, extYML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, &FormatError{Name: name, Reason: "invalid YAML", Err: err}
		}
	default:
		return nil, errors.Errorf("prompt: unsupported template extension %q", ext)
	}

	if f.Prompt == nil {
		return nil, &FormatError{Name: name, Reason: "missing prompt section"}
	}
	if f.Prompt.SystemTemplate == nil {
		return nil, &FormatError{Name: name, Reason: "missing textPromptSystemTemplate"}
	}
	if f.Prompt.UserTemplate == nil {
		return nil, &FormatError{Name: name, Reason: "missing textPromptTemplate"}
	}
	if f.Prompt.Inputs == nil {
		return nil, &FormatError{Name: name, Reason: "missing textPromptTemplateInputs"}
	}

	t := &Template{
		Name:       name,
		SystemText: *f.Prompt.SystemTemplate,
		UserText:   *f.Prompt.UserTemplate,
		JSONMode:   f.CompletionSettings.ResponseFormat.Type == "json_object",
		ModelHint:  f.LLMHint,
	}
	for _, in := range *f.Prompt.Inputs {
		if in.Name == "" {
			return nil, &FormatError{Name: name, Reason: "input without a name"}
		}
		t.InputNames = append(t.InputNames, in.Name)
	}
	if f.CompletionSettings.Temperature != nil {
		t.Temperature = *f.CompletionSettings.Temperature
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		return nil, &FormatError{Name: name, Reason: fmt.Sprintf("temperature %.2f outside [0,2]", t.Temperature)}
	}
	return t, nil
}

func isTemplateFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case extPrompt, extJSON, extYAML, extYML:
		return true
	}
	return false
}
