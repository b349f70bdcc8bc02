package exchange

import (
	"bytes"
	"encoding/json"
	"strings"

	"exchange-dashboard/internal/core"
)

// CodeString normalizes an envelope code that may arrive as a JSON string or number.
func CodeString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// Decode unmarshals part of a successful response into out. A mismatch is a
// DecodeError carrying the start of the raw body.
func Decode(id core.ExchangeID, resp Response, data json.RawMessage, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{
			Exchange: id,
			Message:  err.Error(),
			RawText:  truncateText(string(resp.Body)),
			Err:      err,
		}
	}
	return nil
}
