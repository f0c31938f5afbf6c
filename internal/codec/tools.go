package codec

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// NormalizeTool accepts any of the seven inbound tool shapes recognized by
// spec §4.3 and projects it to the canonical (name, description, inputSchema)
// shape. The second return value is false when the tool should be dropped
// (web_search/websearch, or a shape with no recognizable name).
func NormalizeTool(raw json.RawMessage) (domain.Tool, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.Tool{}, false
	}

	var tool domain.Tool

	switch {
	case has(probe, "inputSchema") && has(probe, "name"):
		// Already-normalized canonical shape (flat inputSchema key) — pass
		// through unchanged so normalization is idempotent (spec §8).
		var t struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema any    `json:"inputSchema"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}

	case has(probe, "function"):
		// 1. {type:"function", function:{name, description, parameters}}
		var fn struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Parameters  any    `json:"parameters"`
		}
		if err := json.Unmarshal(probe["function"], &fn); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: fn.Name, Description: fn.Description, InputSchema: fn.Parameters}

	case has(probe, "toolSpecification"):
		// 2. upstream-native; pass through.
		var spec struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				JSON any `json:"json"`
			} `json:"inputSchema"`
		}
		if err := json.Unmarshal(probe["toolSpecification"], &spec); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: spec.Name, Description: spec.Description, InputSchema: spec.InputSchema.JSON}

	case has(probe, "input_schema") || has(probe, "schema") && has(probe, "name") && !has(probe, "id"):
		// 3. {name, description, input_schema|schema}
		var t struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema any    `json:"input_schema"`
			Schema      any    `json:"schema"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return domain.Tool{}, false
		}
		schema := t.InputSchema
		if schema == nil {
			schema = t.Schema
		}
		tool = domain.Tool{Name: t.Name, Description: t.Description, InputSchema: schema}

	case has(probe, "parameters") && has(probe, "name"):
		// 4. {name, description, parameters}
		var t struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Parameters  any    `json:"parameters"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}

	case has(probe, "id") && has(probe, "parameters"):
		// 5. {id, parameters, description?} — id taken as name.
		var t struct {
			ID          string `json:"id"`
			Description string `json:"description"`
			Parameters  any    `json:"parameters"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: t.ID, Description: t.Description, InputSchema: t.Parameters}

	case has(probe, "id") && has(probe, "schema"):
		// 6. {id, schema, description?}
		var t struct {
			ID          string `json:"id"`
			Description string `json:"description"`
			Schema      any    `json:"schema"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: t.ID, Description: t.Description, InputSchema: t.Schema}

	case has(probe, "name"):
		// 7. {name, description?} — defaults to empty-object schema.
		var t struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return domain.Tool{}, false
		}
		tool = domain.Tool{Name: t.Name, Description: t.Description, InputSchema: map[string]any{}}

	default:
		return domain.Tool{}, false
	}

	if tool.InputSchema == nil {
		tool.InputSchema = map[string]any{}
	}

	nameLower := strings.ToLower(tool.Name)
	if nameLower == "web_search" || nameLower == "websearch" {
		return domain.Tool{}, false
	}

	return tool, tool.Name != ""
}

func has(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

// NormalizeTools applies NormalizeTool to every element of a raw JSON tools
// array, silently dropping unrecognized or filtered entries.
func NormalizeTools(raw json.RawMessage) []domain.Tool {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	tools := make([]domain.Tool, 0, len(items))
	for _, item := range items {
		if t, ok := NormalizeTool(item); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// ToUpstreamToolSpec projects a canonical tool back into the upstream-native
// toolSpecification shape (spec §4.3 shape 2), the only shape the upstream
// payload builder needs to emit.
type UpstreamToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema struct {
		JSON any `json:"json"`
	} `json:"inputSchema"`
}

func ToUpstreamToolSpec(t domain.Tool) UpstreamToolSpec {
	var spec UpstreamToolSpec
	spec.Name = t.Name
	spec.Description = t.Description
	spec.InputSchema.JSON = t.InputSchema
	return spec
}
