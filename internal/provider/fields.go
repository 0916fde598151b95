package provider

import (
	"encoding/json"
	"math"
	"net/http"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

// Body is a decoded webhook payload: JSON objects decode to it directly and
// form posts are flattened to their first value per key.
type Body map[string]any

// String returns the first non-empty value among keys, in order.
func (b Body) String(keys ...string) string {
	for _, k := range keys {
		if s := stringValue(b[k]); s != "" {
			return s
		}
	}
	return ""
}

// Address returns the first non-empty address among keys. Values may be
// plain strings, {"address": ...} objects or lists of either.
func (b Body) Address(keys ...string) string {
	for _, k := range keys {
		if s := addressValue(b[k]); s != "" {
			return s
		}
	}
	return ""
}

// Time returns the first parseable timestamp among keys, else now.
func (b Body) Time(now time.Time, keys ...string) time.Time {
	for _, k := range keys {
		if t, ok := ParseTimestamp(b[k]); ok {
			return t
		}
	}
	return now.UTC()
}

// Attachments decodes the attachment list under key. The list may arrive as
// a JSON array or as a JSON-encoded string of one.
func (b Body) Attachments(key string) []mail.Attachment {
	out := []mail.Attachment{}

	var items []any
	switch v := b[key].(type) {
	case []any:
		items = v
	case []map[string]any:
		for _, m := range v {
			items = append(items, m)
		}
	case string:
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return out
		}
	default:
		return out
	}

	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		att := Body(m)
		out = append(out, mail.Attachment{
			Filename:    att.String("filename", "name", "fileName"),
			ContentType: att.String("contentType", "content-type", "content_type", "mimeType"),
			Size:        int64(numberValue(m["size"])),
			URL:         att.String("url", "downloadUrl"),
		})
	}
	return out
}

// Headers decodes a list of [name, value] pairs, decoded or JSON-encoded.
func (b Body) Headers(key string) map[string]string {
	var pairs []any
	switch v := b[key].(type) {
	case []any:
		pairs = v
	case string:
		if err := json.Unmarshal([]byte(v), &pairs); err != nil {
			return nil
		}
	default:
		return nil
	}

	headers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		kv, ok := p.([]any)
		if !ok || len(kv) != 2 {
			continue
		}
		name, value := stringValue(kv[0]), stringValue(kv[1])
		if name != "" {
			headers[name] = value
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// ParseTimestamp accepts unix seconds or milliseconds (number or numeric
// string), RFC 3339, "2006-01-02 15:04:05" and RFC 5322 dates.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return unixTime(t)
	case int64:
		return unixTime(float64(t))
	case int:
		return unixTime(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return unixTime(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(f)
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		if parsed, err := netmail.ParseDate(s); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// HeaderContains reports whether header name contains token, ignoring case.
func HeaderContains(h http.Header, name, token string) bool {
	return strings.Contains(strings.ToLower(h.Get(name)), strings.ToLower(token))
}

func unixTime(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	// Values this large are milliseconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	case []any:
		if len(t) > 0 {
			return stringValue(t[0])
		}
	}
	return ""
}

func addressValue(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return stringValue(t["address"])
	case []any:
		for _, item := range t {
			if s := addressValue(item); s != "" {
				return s
			}
		}
		return ""
	default:
		return stringValue(v)
	}
}

func numberValue(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}
