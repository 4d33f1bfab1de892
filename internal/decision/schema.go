package decision

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 决策载荷的结构约束；业务约束（杠杆、仓位）由 Validate 负责。
var decisionSchemaDoc = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"actions"},
	"properties": map[string]interface{}{
		"summary":   map[string]interface{}{"type": "string"},
		"reasoning": map[string]interface{}{"type": "string"},
		"actions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"action"},
				"properties": map[string]interface{}{
					"symbol": map[string]interface{}{"type": "string"},
					"action": map[string]interface{}{
						"type": "string",
						"enum": []interface{}{
							"open_long", "open_short", "close_long", "close_short",
							"hold", "wait", "OPEN_LONG", "OPEN_SHORT", "CLOSE_LONG", "CLOSE_SHORT", "HOLD", "WAIT",
						},
					},
					"leverage":          map[string]interface{}{"type": "number"},
					"position_size_usd": map[string]interface{}{"type": "number"},
					"close_ratio":       map[string]interface{}{"type": "number"},
					"confidence":        map[string]interface{}{"type": "number"},
					"reasoning":         map[string]interface{}{"type": "string"},
				},
			},
		},
	},
}

var compiledSchema = mustCompileSchema(decisionSchemaDoc)

func mustCompileSchema(data map[string]interface{}) *jsonschema.Schema {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.json", strings.NewReader(string(raw))); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("decision.json")
	if err != nil {
		panic(err)
	}
	return schema
}

func validateSchema(raw string) error {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return err
	}
	return compiledSchema.Validate(doc)
}
