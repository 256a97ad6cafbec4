package events

import "encoding/json"

// ToolDescriptor is one tool advertised by an MCP server in a
// tools/list response. The unique key is (McpTag, Producer, Slug).
type ToolDescriptor struct {
	McpTag      string `json:"mcpTag"`
	Producer    string `json:"producer"`
	Slug        string `json:"tool_slug"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	InputSchema string `json:"inputSchema,omitempty"` // JSON-encoded schema
	Annotations string `json:"annotations,omitempty"` // JSON-encoded annotations
}

// Key returns the catalog uniqueness key for the descriptor.
func (t *ToolDescriptor) Key() string {
	return t.McpTag + "\x00" + t.Producer + "\x00" + t.Slug
}

// ExtractToolDescriptors pulls tool descriptors from a tools/list RECV
// event. Returns nil when the event carries no tools array.
func ExtractToolDescriptors(ev *Event) []*ToolDescriptor {
	result := ev.ResultMap()
	if result == nil {
		return nil
	}
	rawTools, ok := result["tools"].([]any)
	if !ok || len(rawTools) == 0 {
		return nil
	}

	mcpTag := ev.ResolvedMcpTag()
	producer := ev.Producer
	if producer == "" {
		producer = ProducerUnknown
	}

	descs := make([]*ToolDescriptor, 0, len(rawTools))
	for _, raw := range rawTools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		desc := &ToolDescriptor{
			McpTag:   mcpTag,
			Producer: producer,
			Slug:     name,
		}
		desc.Title, _ = tool["title"].(string)
		desc.Description, _ = tool["description"].(string)
		if schema, ok := tool["inputSchema"]; ok {
			if data, err := json.Marshal(schema); err == nil {
				desc.InputSchema = string(data)
			}
		}
		if ann, ok := tool["annotations"]; ok {
			if data, err := json.Marshal(ann); err == nil {
				desc.Annotations = string(data)
			}
		}
		descs = append(descs, desc)
	}
	if len(descs) == 0 {
		return nil
	}
	return descs
}
