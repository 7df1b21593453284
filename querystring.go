package crmclient

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// buildQueryString renders params as a PHP http_build_query-style query
// string: nested maps become key[sub]=value, sequences become
// key[0]=value&key[1]=value, with keys and values percent-encoded. This
// is the wire format the server's batch sub-commands expect.
//
// No package in the retrieved examples implements PHP's bracket-nesting
// query convention, so this stays on net/url for percent-encoding and
// hand-rolls the recursive bracket construction.
func buildQueryString(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out string
	for _, key := range keys {
		out += buildQueryStringPart(key, params[key])
	}
	return out
}

func buildQueryStringPart(prefix string, value any) string {
	switch v := value.(type) {
	case Params:
		return buildQueryStringPart(prefix, map[string]any(v))

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out string
		for _, k := range keys {
			out += buildQueryStringPart(fmt.Sprintf("%s[%s]", prefix, k), v[k])
		}
		return out

	case []any:
		var out string
		for i, elem := range v {
			out += buildQueryStringPart(fmt.Sprintf("%s[%d]", prefix, i), elem)
		}
		return out

	case []string:
		var out string
		for i, elem := range v {
			out += buildQueryStringPart(fmt.Sprintf("%s[%d]", prefix, i), elem)
		}
		return out

	default:
		return url.QueryEscape(prefix) + "=" + url.QueryEscape(scalarString(v)) + "&"
	}
}

func scalarString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		if n {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", n)
	}
}
