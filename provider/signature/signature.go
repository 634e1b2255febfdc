// Package signature computes and verifies the HMAC-SHA256 signatures that bind
// gateway payloads to a shared secret.
//
// Two canonicalization schemes are supported:
//
//   - Payment path hash: the outbound path "/?payment={mid}.{ref}.{amount}.{currency}"
//     is signed directly; inbound redirects are verified over their query parameters
//     in original order, excluding "signature" and "mode".
//   - Signed key list: the payload names the keys that were signed ("signatureKeys").
//     The list is sorted, the named values are RFC 3986 encoded into a query string
//     and the result is signed.
//
// Verification never panics. Anything that cannot be verified is reported as false.
// There is no timestamp or nonce window, so a captured valid payload can be replayed;
// callers rely on idempotent state transitions instead.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA256 of message under secret
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex signatures in constant time. Empty values never match.
func Equal(expected, supplied string) bool {
	if expected == "" || supplied == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(supplied))))
}

// PaymentPath builds the hashed path for an outbound payment
func PaymentPath(merchantID, orderRef, amount, currency string) string {
	return fmt.Sprintf("/?payment=%s.%s.%s.%s", merchantID, orderRef, amount, currency)
}

// PathSignature signs the payment path
func PathSignature(secret, merchantID, orderRef, amount, currency string) string {
	return Sign(secret, PaymentPath(merchantID, orderRef, amount, currency))
}

// Param is a single query parameter
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query parameters. Order matters for redirect signatures.
type Params []Param

// Get returns the first value for key
func (p Params) Get(key string) string {
	for _, param := range p {
		if param.Key == key {
			return param.Value
		}
	}
	return ""
}

// Has reports whether key is present
func (p Params) Has(key string) bool {
	for _, param := range p {
		if param.Key == key {
			return true
		}
	}
	return false
}

// Map flattens the params, keeping the first value of repeated keys
func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p))
	for _, param := range p {
		if _, exists := out[param.Key]; !exists {
			out[param.Key] = param.Value
		}
	}
	return out
}

// ParseQuery parses a raw query string keeping the original parameter order.
// Malformed escapes are kept verbatim.
func ParseQuery(raw string) Params {
	raw = strings.TrimPrefix(raw, "?")
	var params Params
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params = append(params, Param{Key: key, Value: value})
	}
	return params
}

// ResponseQuery canonicalizes redirect parameters for verification
func ResponseQuery(params Params) string {
	var b strings.Builder
	for _, p := range params {
		if p.Key == "signature" || p.Key == "mode" {
			continue
		}
		b.WriteString("&")
		b.WriteString(p.Key)
		b.WriteString("=")
		b.WriteString(p.Value)
	}
	return strings.TrimLeft(b.String(), "&")
}

// VerifyResponse checks the "signature" parameter of a gateway redirect
func VerifyResponse(secret string, params Params) bool {
	supplied := params.Get("signature")
	if secret == "" || supplied == "" {
		return false
	}
	message := ResponseQuery(params)
	if message == "" {
		return false
	}
	return Equal(Sign(secret, message), supplied)
}

// SignatureKeys extracts the "signatureKeys" list from a payload. A list that is
// absent, empty or holds anything but non-empty strings is reported as not ok.
func SignatureKeys(payload map[string]any) ([]string, bool) {
	raw, ok := payload["signatureKeys"]
	if !ok {
		return nil, false
	}

	var keys []string
	switch v := raw.(type) {
	case []string:
		keys = append(keys, v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			keys = append(keys, s)
		}
	default:
		return nil, false
	}

	if len(keys) == 0 {
		return nil, false
	}
	for _, k := range keys {
		if k == "" {
			return nil, false
		}
	}
	return keys, true
}

// KeyListMessage builds the signed key list message: the key list is sorted, each named
// value is RFC 3986 encoded and pairs are joined with "&". It fails when a key is
// missing or its value is not a scalar.
func KeyListMessage(payload map[string]any, keys []string) (string, bool) {
	if len(keys) == 0 || payload == nil {
		return "", false
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	pairs := make([]string, 0, len(sorted))
	for _, key := range sorted {
		raw, ok := payload[key]
		if !ok {
			return "", false
		}
		value, ok := scalarString(raw)
		if !ok {
			return "", false
		}
		pairs = append(pairs, rfc3986Escape(key)+"="+rfc3986Escape(value))
	}
	return strings.Join(pairs, "&"), true
}

// SignKeyList signs the key list message of payload
func SignKeyList(secret string, payload map[string]any, keys []string) (string, bool) {
	message, ok := KeyListMessage(payload, keys)
	if !ok {
		return "", false
	}
	return Sign(secret, message), true
}

// VerifyKeyList checks a signed key list
func VerifyKeyList(secret string, payload map[string]any, keys []string, supplied string) bool {
	if secret == "" || supplied == "" {
		return false
	}
	expected, ok := SignKeyList(secret, payload, keys)
	if !ok {
		return false
	}
	return Equal(expected, supplied)
}

// HeaderValue looks a header up case-insensitively and returns its first value
func HeaderValue(headers map[string][]string, name string) string {
	for key, values := range headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		if t {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// rfc3986Escape percent-encodes everything outside the unreserved set, space as %20
func rfc3986Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
