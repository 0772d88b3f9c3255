package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	schema "github.com/google/jsonschema-go/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// compiled holds the per-variant validators, keyed by strictness.
type compiled struct {
	strict map[Tag]*jsonschema.Schema
	input  map[Tag]*jsonschema.Schema
	err    error
}

var (
	schemasOnce sync.Once
	schemas     compiled
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func str() *schema.Schema       { return &schema.Schema{Type: "string"} }
func nonEmpty() *schema.Schema  { return &schema.Schema{Type: "string", MinLength: intPtr(1)} }
func boolean() *schema.Schema   { return &schema.Schema{Type: "boolean"} }
func atLeast(n float64) *schema.Schema {
	return &schema.Schema{Type: "integer", Minimum: floatPtr(n)}
}

// variantFields describes the fields each variant adds to the header, and
// which of them are required.
func variantFields(tag Tag) (map[string]*schema.Schema, []string) {
	switch tag {
	case TagSystemPrompt, TagUserMessage, TagAssistantMessage:
		return map[string]*schema.Schema{"content": str()}, []string{"content"}
	case TagTextDelta:
		return map[string]*schema.Schema{"delta": str()}, []string{"delta"}
	case TagSetLlmConfig:
		return map[string]*schema.Schema{
			"providerId": nonEmpty(),
			"model":      nonEmpty(),
			"apiKey":     str(),
			"baseUrl":    str(),
			"asFallback": boolean(),
		}, []string{"providerId", "model"}
	case TagSetTimeout:
		return map[string]*schema.Schema{"timeoutMs": atLeast(0)}, []string{"timeoutMs"}
	case TagAgentTurnStarted:
		return map[string]*schema.Schema{"turnNumber": atLeast(1)}, []string{"turnNumber"}
	case TagAgentTurnCompleted:
		return map[string]*schema.Schema{"turnNumber": atLeast(1), "durationMs": atLeast(0)}, []string{"turnNumber", "durationMs"}
	case TagAgentTurnInterrupted:
		return map[string]*schema.Schema{"turnNumber": atLeast(1), "reason": str(), "partialResponse": str()}, []string{"turnNumber", "reason"}
	case TagAgentTurnFailed:
		return map[string]*schema.Schema{"turnNumber": atLeast(1), "error": str()}, []string{"turnNumber", "error"}
	}
	return map[string]*schema.Schema{}, nil
}

// eventSchema builds the JSON schema of one variant. Strict schemas describe
// persisted events; input schemas leave the actor-assigned header optional.
func eventSchema(tag Tag, strict bool) *schema.Schema {
	props, required := variantFields(tag)
	props["_tag"] = &schema.Schema{Type: "string", Enum: []any{string(tag)}}
	props["id"] = str()
	props["timestamp"] = &schema.Schema{Type: "string", Format: "date-time"}
	props["agentName"] = str()
	props["parentEventId"] = str()
	props["triggersAgentTurn"] = boolean()
	req := append([]string{"_tag"}, required...)
	if strict {
		props["id"] = nonEmpty()
		req = append(req, "id", "timestamp", "agentName", "triggersAgentTurn")
	}
	return &schema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             req,
		AdditionalProperties: &schema.Schema{Not: &schema.Schema{}},
	}
}

func compileSchema(url string, s *schema.Schema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func loadSchemas() compiled {
	schemasOnce.Do(func() {
		schemas = compiled{
			strict: make(map[Tag]*jsonschema.Schema, len(Tags)),
			input:  make(map[Tag]*jsonschema.Schema, len(Tags)),
		}
		for _, tag := range Tags {
			s, err := compileSchema("mem://events/"+string(tag)+".json", eventSchema(tag, true))
			if err != nil {
				schemas.err = fmt.Errorf("compile %s schema: %w", tag, err)
				return
			}
			schemas.strict[tag] = s
			in, err := compileSchema("mem://input/"+string(tag)+".json", eventSchema(tag, false))
			if err != nil {
				schemas.err = fmt.Errorf("compile %s input schema: %w", tag, err)
				return
			}
			schemas.input[tag] = in
		}
	})
	return schemas
}

// SchemaFor returns the JSON schema of a variant as a JSON document.
func SchemaFor(tag Tag, strict bool) ([]byte, error) {
	if _, ok := knownTag(tag); !ok {
		return nil, fmt.Errorf("unknown event tag %q", tag)
	}
	return json.Marshal(eventSchema(tag, strict))
}

func knownTag(tag Tag) (int, bool) {
	for i, t := range Tags {
		if t == tag {
			return i, true
		}
	}
	return -1, false
}

func validateEvent(tag Tag, data []byte, strict bool) error {
	cs := loadSchemas()
	if cs.err != nil {
		return cs.err
	}
	set := cs.input
	if strict {
		set = cs.strict
	}
	sch, ok := set[tag]
	if !ok {
		return fmt.Errorf("unknown event tag %q", tag)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
