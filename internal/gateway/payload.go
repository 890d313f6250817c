package gateway

import (
	"strings"

	"botwatch/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

// Signal is the best-effort decoding of a webhook payload.
type Signal struct {
	Ticker    string  `json:"ticker,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Message   string  `json:"message,omitempty"`
	Raw       string  `json:"raw"`
}

// Signal decodes the payload. A JSON string payload is unwrapped once and
// parsed again; plain text with an embedded object (alert templates often
// prefix one) is searched for that object. Anything else keeps only Raw.
func (w Webhook) Signal() Signal {
	raw := strings.TrimSpace(string(w.Payload))
	sig := Signal{Raw: raw}
	if raw == "" {
		return sig
	}
	text := raw
	if gjson.Valid(raw) {
		parsed := gjson.Parse(raw)
		if parsed.Type != gjson.String {
			return decodeSignal(sig, parsed)
		}
		text = strings.TrimSpace(parsed.String())
		sig.Raw = text
		if gjson.Valid(text) {
			return decodeSignal(sig, gjson.Parse(text))
		}
	}
	sig.Message = text
	obj, ok := jsonutil.ExtractObject(text)
	if !ok || !gjson.Valid(obj) {
		return sig
	}
	return decodeSignal(sig, gjson.Parse(obj))
}

func decodeSignal(sig Signal, parsed gjson.Result) Signal {
	if !parsed.IsObject() {
		return sig
	}
	sig.Ticker = strings.ToUpper(firstString(parsed, "ticker", "symbol", "pair"))
	sig.Direction = strings.ToLower(firstString(parsed, "signal", "action", "side", "direction"))
	if msg := firstString(parsed, "message", "msg", "comment"); msg != "" {
		sig.Message = msg
	}
	for _, key := range []string{"price", "close", "entry"} {
		if v := parsed.Get(key); v.Exists() {
			sig.Price = v.Float()
			break
		}
	}
	return sig
}

func firstString(res gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := res.Get(key); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
