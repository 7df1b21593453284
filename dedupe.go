package crmclient

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// requestIdentityKey builds a stable key identifying "this exact logical
// request" (method + canonicalized params), used to key the singleflight
// group that enforces the invariant that exactly one request is in
// flight per request identity, with no duplication.
//
// This follows the same shape as a generic HTTP client's coalesce key
// (hash method + URL + sorted query params + body hash); here the "URL"
// is just the method name and the
// "body" is the params mapping, canonicalized by marshaling sorted keys.
func requestIdentityKey(method string, body any) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('|')

	params, ok := body.(Params)
	if !ok {
		// a raw body has no canonical key order of its own; its marshaled
		// form is the identity.
		if encoded, err := json.Marshal(body); err == nil {
			b.Write(encoded)
		}
		sum := sha256.Sum256([]byte(b.String()))
		return hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		if encoded, err := json.Marshal(params[k]); err == nil {
			b.Write(encoded)
		}
		b.WriteByte('&')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
