package usecase

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// fencedJSON matches the first ``` block, optionally tagged json, that wraps
// a JSON object.
var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// answerContract is the object the final-stage prompts ask for. A mismatch
// is only logged.
type answerContract struct {
	Comment     string `json:"comment"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var answerSchemaLoader = gojsonschema.NewGoLoader(answerSchema())

func answerSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	schema := r.Reflect(&answerContract{})
	schema.Version = ""
	return schema
}

// RecoverJSON extracts a JSON object from free-form model output. It tries
// the whole text, then the first fenced block, and finally wraps the raw text
// as {"comment": text}. It never fails.
func RecoverJSON(text string) map[string]any {
	if obj, ok := parseObject(text); ok {
		return obj
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if obj, ok := parseObject(m[1]); ok {
			return obj
		}
	}
	return map[string]any{"comment": text}
}

func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

// checkAnswerContract validates a recovered answer against answerContract and
// logs what is missing. The answer is used either way.
func checkAnswerContract(logger *zerolog.Logger, obj map[string]any) bool {
	res, err := gojsonschema.Validate(answerSchemaLoader, gojsonschema.NewGoLoader(obj))
	if err != nil {
		logger.Warn().Err(err).Msg("Could not validate answer contract")
		return false
	}
	if res.Valid() {
		return true
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	logger.Warn().Strs("problems", problems).Msg("Model answer does not match the expected contract")
	return false
}
