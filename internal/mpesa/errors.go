package mpesa

import (
	"encoding/json"
	"fmt"
)

// ProviderError is returned when Daraja answers with a non-2xx status.
type ProviderError struct {
	Operation string
	Status    int
	Body      []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mpesa: %s returned status %d", e.Operation, e.Status)
}

// Message returns what should be surfaced to callers: the provider's
// errorMessage when it is set, otherwise the whole body (parsed JSON when
// possible, raw text otherwise).
func (e *ProviderError) Message() any {
	var doc any
	if err := json.Unmarshal(e.Body, &doc); err != nil {
		return string(e.Body)
	}
	if obj, ok := doc.(map[string]any); ok {
		if msg, ok := obj["errorMessage"]; ok && truthy(msg) {
			return msg
		}
	}
	return doc
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
