package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PushRequest is the body of an STK push (processrequest) call.
type PushRequest struct {
	BusinessShortCode string          `json:"BusinessShortCode"`
	Password          string          `json:"Password"`
	Timestamp         string          `json:"Timestamp"`
	TransactionType   string          `json:"TransactionType"`
	Amount            json.RawMessage `json:"Amount"`
	PartyA            string          `json:"PartyA"`
	PartyB            string          `json:"PartyB"`
	PhoneNumber       string          `json:"PhoneNumber"`
	CallBackURL       string          `json:"CallBackURL"`
	AccountReference  string          `json:"AccountReference"`
	TransactionDesc   string          `json:"TransactionDesc"`
}

// PushAck is Daraja's synchronous acknowledgement of an STK push.
// ResponseCode is kept raw; only the JSON string "0" means accepted.
type PushAck struct {
	MerchantRequestID   string          `json:"MerchantRequestID"`
	CheckoutRequestID   string          `json:"CheckoutRequestID"`
	ResponseCode        json.RawMessage `json:"ResponseCode"`
	ResponseDescription string          `json:"ResponseDescription"`
	CustomerMessage     string          `json:"CustomerMessage"`
}

// Accepted reports whether the push was accepted for delivery to the handset.
func (a PushAck) Accepted() bool {
	return IsStringCode(a.ResponseCode, "0")
}

// QueryRequest is the body of an STK push status query.
type QueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryResult carries the fields of a status query response used for
// classification plus the complete body for pass-through.
type QueryResult struct {
	ResultCode json.RawMessage
	ResultDesc json.RawMessage
	Raw        json.RawMessage
}

// UnmarshalJSON keeps a copy of the full document alongside the parsed fields.
func (q *QueryResult) UnmarshalJSON(data []byte) error {
	var fields struct {
		ResultCode json.RawMessage `json:"ResultCode"`
		ResultDesc json.RawMessage `json:"ResultDesc"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	q.ResultCode = fields.ResultCode
	q.ResultDesc = fields.ResultDesc
	q.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Succeeded reports whether the query reports a completed payment. The code
// must be the JSON string "0".
func (q QueryResult) Succeeded() bool {
	return IsStringCode(q.ResultCode, "0")
}

// AccessToken is the OAuth client-credentials response.
type AccessToken struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Callback is the asynchronous result Daraja posts to the callback URL.
type Callback struct {
	Body *CallbackBody `json:"Body"`
}

// CallbackBody wraps the STK callback envelope.
type CallbackBody struct {
	StkCallback *StkCallback `json:"stkCallback"`
}

// StkCallback is the result of a single STK push. Every field is kept raw so
// a malformed identifier or metadata block never hides the result code; only
// the JSON number 0 means the customer paid.
type StkCallback struct {
	MerchantRequestID json.RawMessage `json:"MerchantRequestID"`
	CheckoutRequestID json.RawMessage `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        json.RawMessage `json:"ResultDesc"`
	CallbackMetadata  json.RawMessage `json:"CallbackMetadata"`
}

// Paid reports whether the callback carries the numeric success code.
func (c StkCallback) Paid() bool {
	return IsNumericZero(c.ResultCode)
}

// CheckoutID returns the checkout request id as text for logs and spans.
func (c StkCallback) CheckoutID() string { return rawText(c.CheckoutRequestID) }

// MerchantID returns the merchant request id as text for logs and spans.
func (c StkCallback) MerchantID() string { return rawText(c.MerchantRequestID) }

// Metadata decodes CallbackMetadata. It returns nil without error when the
// block is absent or null.
func (c StkCallback) Metadata() (*CallbackMetadata, error) {
	if isNull(c.CallbackMetadata) {
		return nil, nil
	}
	var meta CallbackMetadata
	if err := json.Unmarshal(c.CallbackMetadata, &meta); err != nil {
		return nil, fmt.Errorf("mpesa: decode callback metadata: %w", err)
	}
	return &meta, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, Null)
}

func rawText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// CallbackMetadata lists the name/value pairs describing a completed payment.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is one metadata entry. Values are kept as raw JSON.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// Value returns the value of the first item called name, or JSON null when
// the item or its value is absent.
func (m *CallbackMetadata) Value(name string) json.RawMessage {
	if m == nil {
		return Null
	}
	for _, item := range m.Item {
		if item.Name == name {
			if len(item.Value) == 0 {
				return Null
			}
			return item.Value
		}
	}
	return Null
}

// Metadata item names present on a successful callback.
const (
	ItemAmount             = "Amount"
	ItemMpesaReceiptNumber = "MpesaReceiptNumber"
	ItemPhoneNumber        = "PhoneNumber"
	ItemTransactionDate    = "TransactionDate"
)

// Null is the JSON literal null.
var Null = json.RawMessage("null")

// IsStringCode reports whether raw is a JSON string equal to want.
func IsStringCode(raw json.RawMessage, want string) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == want
}

// IsNumericZero reports whether raw is a JSON number equal to zero.
func IsNumericZero(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return false
	}
	return n == 0
}
