package crmclient

import (
	"sort"
	"strings"
)

// Params is a mapping of string keys to JSON-serialisable values, the
// payload shape every server method accepts. Key comparison against the
// recognised clauses below is case-insensitive. validateParams lower-cases
// top-level keys, so the operations that validate params (Call, GetByID,
// GetAll) send top-level keys in lower case; the original casing of
// top-level keys is not kept on the wire. Nested keys and values keep their
// casing.
type Params map[string]any

// LogicalItem is one Params mapping; a slice of LogicalItem is the input
// unit the Batcher packs into multicall envelopes.
type LogicalItem = Params

// clauseKind enumerates the JSON kind a recognised top-level clause is
// expected to hold.
type clauseKind int

const (
	kindMap clauseKind = iota
	kindSlice
	kindInt
)

// recognisedClauses lists the top-level clauses the server assigns a
// specific JSON kind to: unknown clauses pass through untouched,
// recognised ones are checked.
var recognisedClauses = map[string]clauseKind{
	"select": kindSlice,
	"filter": kindMap,
	"order":  kindMap,
	"fields": kindMap,
	"cmd":    kindMap,
	"halt":   kindInt,
	"limit":  kindInt,
	"start":  kindInt,
}

// reservedMethod is forbidden as direct input to call-style operations; the
// batching engine owns it, and CallBatch is the dedicated entry point for
// constructing a raw batch payload.
const reservedMethod = "batch"

// validateMethod lowercases and trims method, rejecting the empty string
// and the reserved "batch" literal.
func validateMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return "", newValidationError("method cannot be empty")
	}
	if method == reservedMethod {
		return "", newValidationError("method cannot be %q; use CallBatch instead", reservedMethod)
	}
	return method, nil
}

// validateParams checks that every recognised clause holds the kind of
// value the server expects, and returns a copy with lower-cased keys so
// that later clause lookups (e.g. "order" injection in the Paginator) are
// case-insensitive regardless of caller input. Original per-field values
// are left untouched; only top-level keys are normalised.
func validateParams(p Params) (Params, error) {
	if p == nil {
		return nil, nil
	}

	normalised := make(Params, len(p))
	for key, value := range p {
		lower := strings.ToLower(strings.TrimSpace(key))
		normalised[lower] = value

		kind, ok := recognisedClauses[lower]
		if !ok {
			continue
		}
		if err := checkClauseKind(lower, kind, value); err != nil {
			return nil, err
		}
	}
	return normalised, nil
}

func checkClauseKind(key string, kind clauseKind, value any) error {
	switch kind {
	case kindMap:
		switch value.(type) {
		case map[string]any, Params:
			// ok
		default:
			return newValidationError("clause %q should be a mapping, got %T", key, value)
		}
	case kindSlice:
		switch value.(type) {
		case []any, []string:
			// ok
		default:
			return newValidationError("clause %q should be an ordered sequence, got %T", key, value)
		}
	case kindInt:
		switch value.(type) {
		case int, int32, int64:
			// ok
		default:
			return newValidationError("clause %q should be an integer, got %T", key, value)
		}
	}
	return nil
}

// clone returns a shallow copy of p, safe to mutate without affecting the
// caller's original mapping (used when the Paginator and Batcher derive
// per-item/per-page variants).
func (p Params) clone() Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// hasClause reports whether key is present, case-insensitively.
func (p Params) hasClause(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// describeKeys renders a sorted, comma-joined key list for error messages.
func describeKeys(p Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
