package crmclient

// Envelope is a decoded server response: the raw top-level JSON object.
// Shapes observed:
//
//	Single:         {result: X, total?: int, time: {...}}
//	Single wrapped: {result: {single_key: [...]}}
//	Batch:          {result: {result: {label: X}, result_error: {...}, result_total: {...}, ...}}
//	Error (single): top-level result_error or error_description present
//	Error (batch):  result.result_error[label] populated
type Envelope map[string]any

// ExtractResults classifies env's shape and returns the useful payload:
// a []any for list-shaped results, a map[string]any keyed by batch label
// or by id, or the raw single result. byID indicates the caller is a
// by-id bulk fetch, which changes how a batch result is unwrapped.
func ExtractResults(env Envelope, byID bool) (any, error) {
	if msg, ok := topLevelError(env); ok {
		return nil, &ServerContentError{Message: msg}
	}

	resultMap, batch := batchResult(env)
	if !batch {
		return extractFromSingle(env["result"]), nil
	}

	if msg, ok := batchError(resultMap); ok {
		return nil, &ServerContentError{Message: msg}
	}

	inner, _ := resultMap["result"].(map[string]any)

	if byID {
		return extractFromSingle(inner), nil
	}

	return extractFromBatch(inner), nil
}

// topLevelError detects a non-batch error envelope: a populated
// result_error clause, or error_description.
func topLevelError(env Envelope) (string, bool) {
	if msg, ok := stringifyError(env["result_error"]); ok {
		return msg, true
	}
	if desc, ok := env["error_description"]; ok {
		if s, ok := desc.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// batchError detects an error reported inside a batch's result_error map.
func batchError(resultMap map[string]any) (string, bool) {
	return stringifyError(resultMap["result_error"])
}

// stringifyError renders whatever shape result_error took (string, or a
// label->message map for batches) into a single message, or reports it
// was empty/absent.
func stringifyError(v any) (string, bool) {
	switch e := v.(type) {
	case nil:
		return "", false
	case string:
		if e == "" {
			return "", false
		}
		return e, true
	case map[string]any:
		if len(e) == 0 {
			return "", false
		}
		msg := ""
		for label, detail := range e {
			if msg != "" {
				msg += "; "
			}
			msg += label + ": " + stringifyAny(detail)
		}
		return msg, true
	default:
		return "", false
	}
}

func stringifyAny(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// batchResult detects the batch shape: "result" is itself a mapping that
// contains another "result" key.
func batchResult(env Envelope) (map[string]any, bool) {
	outer, ok := env["result"].(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := outer["result"]; !ok {
		return nil, false
	}
	return outer, true
}

// extractFromSingle unwraps a single-key mapping whose value is a list
// (e.g. {"tasks": [...]}, {"items": [...]}); otherwise returns the value
// unchanged.
func extractFromSingle(result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return result
	}

	if len(m) == 1 {
		for _, v := range m {
			if list, ok := v.([]any); ok {
				return list
			}
		}
	}

	return result
}

// extractFromBatch flattens a batch's inner label->value map: if the
// first value (in map iteration order, which Go does not guarantee — see
// note below) is a list or a single-key-wrapped list, flatten every inner
// value's list in label order; otherwise return the sub-map as-is.
//
// Because Go map iteration order is randomized, "first inner value" is
// made deterministic by sorting labels, matching the stable label sort
// the Batcher itself uses for sequential labelling.
func extractFromBatch(inner map[string]any) any {
	if len(inner) == 0 {
		return []any{}
	}

	labels := sortedKeys(inner)

	first := extractFromSingle(inner[labels[0]])
	if _, ok := first.([]any); !ok {
		return inner
	}

	var flat []any
	for _, label := range labels {
		unwrapped := extractFromSingle(inner[label])
		if list, ok := unwrapped.([]any); ok {
			flat = append(flat, list...)
		}
	}
	return flat
}

// MoreResultsExpected reports whether a list endpoint's first response
// indicates additional pages remain: total is present, exceeds the
// single-page size, and doesn't already match what was returned.
func MoreResultsExpected(env Envelope, gotLen int) bool {
	total, ok := asInt(env["total"])
	if !ok || total <= DefaultPageSize {
		return false
	}
	return total != gotLen
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
