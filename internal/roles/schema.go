package roles

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"formpilot/internal/schema"
	"formpilot/internal/types"
)

var treeType = reflect.TypeOf(schema.Tree{})

// formTreeSchema describes a schema.Tree: an object whose values are strings
// or nested objects of the same kind.
func formTreeSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		AdditionalProperties: &jsonschema.Schema{
			AnyOf: []*jsonschema.Schema{
				{Type: "string"},
				{Type: "object"},
			},
		},
	}
}

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == treeType {
				return formTreeSchema()
			}
			return nil
		},
	}
}

// outputRecords maps each role to the record its response decodes into.
var outputRecords = map[Role]interface{}{
	RoleIntent:       &IntentOutput{},
	RoleExtraction:   &ExtractionOutcome{},
	RoleSpecialist:   &ClarificationOutcome{},
	RoleConversation: &ConversationOutput{},
}

// OutputSchema returns the JSON Schema of role's output record in the form
// structured-output providers accept.
func OutputSchema(role Role) (*types.ResponseSchema, error) {
	record, ok := outputRecords[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	s := newReflector().Reflect(record)
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", role, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", role, err)
	}
	delete(m, "$schema")
	delete(m, "$id")

	return &types.ResponseSchema{Name: string(role) + "_output", Schema: m}, nil
}

// OutputSchemas returns the schema of every role, keyed by role name.
func OutputSchemas() (map[Role]*types.ResponseSchema, error) {
	out := make(map[Role]*types.ResponseSchema, len(All))
	for _, role := range All {
		s, err := OutputSchema(role)
		if err != nil {
			return nil, err
		}
		out[role] = s
	}
	return out, nil
}
