package stk

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// present reports whether raw holds a value that counts as supplied: not
// absent, null, false, zero, or the empty string.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false
		}
		return s != ""
	default:
		for _, c := range raw {
			if c == 'e' || c == 'E' {
				break
			}
			if c >= '1' && c <= '9' {
				return true
			}
		}
		return false
	}
}

// scalarText renders a JSON string or number as text. Other values yield "".
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case c == '-' || (c >= '0' && c <= '9'):
		if !bytes.ContainsAny(raw, ".eE") {
			return string(raw)
		}
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return string(raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return ""
	}
}

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("present", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Type() != rawMessageType {
			return !field.IsZero()
		}
		return present(field.Interface().(json.RawMessage))
	})
	return v
}
