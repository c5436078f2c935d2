package bridge

import "encoding/json"

// jsonMarshal serializes a handler's return value into the raw JSON
// payload carried on MCPMessage.Result. A nil result marshals to `null`.
func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
