package httprt

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// expand fills the {name} placeholders of tmpl with path-escaped values and
// returns the escaped path. It also returns the names taken from args so the
// caller does not send them again.
func expand(tmpl string, args map[string]any, source any) (string, map[string]bool, error) {
	var (
		b    strings.Builder
		used map[string]bool
		rest = tmpl
	)
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", nil, fmt.Errorf("uri %q: unterminated placeholder", tmpl)
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		v, fromArgs := args[name]
		if !fromArgs || v == nil {
			fromArgs = false
			if m, ok := source.(map[string]any); ok {
				v = m[name]
			}
		}
		if v == nil {
			return "", nil, fmt.Errorf("uri %q: no value for {%s}", tmpl, name)
		}
		if fromArgs {
			if used == nil {
				used = make(map[string]bool)
			}
			used[name] = true
		}
		b.WriteString(url.PathEscape(formatScalar(v)))
	}
	return b.String(), used, nil
}

// queryValues encodes args as query parameters. Lists repeat the key;
// objects are sent as JSON text; nulls are left out.
func queryValues(args map[string]any) (url.Values, error) {
	q := url.Values{}
	for k, v := range args {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, item := range val {
				if item != nil {
					q.Add(k, formatScalar(item))
				}
			}
		case map[string]any:
			data, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", k, err)
			}
			q.Set(k, string(data))
		default:
			q.Set(k, formatScalar(val))
		}
	}
	return q, nil
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []any, map[string]any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
