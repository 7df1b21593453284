package crmclient

import (
	"fmt"
)

// LabelStrategy selects how batch sub-command labels are assigned.
type LabelStrategy int

const (
	// SequentialLabels assigns cmd{i:010d} labels, preserving submission
	// order after a lexicographic sort (the decimal width is chosen so
	// that lexicographic sort == numeric sort up to 10 billion items).
	// Used by Call and the Paginator.
	SequentialLabels LabelStrategy = iota

	// IdentifierLabels uses the value of a caller-named id field as the
	// label, so the batch response maps id -> result directly. Used by
	// GetByID.
	IdentifierLabels
)

// BatchEnvelope is one server-side multicall payload: up to MaxBatchSize
// sub-commands under a single "batch" method call.
type BatchEnvelope struct {
	Halt int               `json:"halt"`
	Cmd  map[string]string `json:"cmd"`
}

// batchOf packs items into chunks of at most MaxBatchSize sub-commands,
// labelling each according to strategy, and recomputes the chunk size
// downward if the serialized URL would exceed the server's length
// ceiling. idField is only consulted for IdentifierLabels.
func batchOf(method string, items []LogicalItem, strategy LabelStrategy, idField string) []BatchEnvelope {
	if len(items) == 0 {
		return nil
	}

	batchSize := MaxBatchSize
	for {
		envelopes := chunkInto(method, items, batchSize, strategy, idField)
		if fitsURLLength(envelopes) || batchSize == 1 {
			return envelopes
		}

		longest := 0
		for _, env := range envelopes {
			if l := len(sampleURL(env)); l > longest {
				longest = l
			}
		}

		next := batchSize * MaxURLLength / longest
		if next >= batchSize {
			next = batchSize - 1
		}
		if next < 1 {
			next = 1
		}
		batchSize = next
	}
}

func chunkInto(method string, items []LogicalItem, batchSize int, strategy LabelStrategy, idField string) []BatchEnvelope {
	var envelopes []BatchEnvelope

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		cmd := make(map[string]string, len(chunk))
		for i, item := range chunk {
			label := labelFor(strategy, start+i, item, idField)
			cmd[label] = fmt.Sprintf("%s?%s", method, buildQueryString(item))
		}
		envelopes = append(envelopes, BatchEnvelope{Halt: 0, Cmd: cmd})
	}

	return envelopes
}

func labelFor(strategy LabelStrategy, index int, item LogicalItem, idField string) string {
	if strategy == IdentifierLabels {
		return fmt.Sprintf("%v", item[idField])
	}
	return fmt.Sprintf("cmd%010d", index)
}

// fitsURLLength checks every envelope's serialized form against the
// server's URL-length ceiling (strict <=).
func fitsURLLength(envelopes []BatchEnvelope) bool {
	for _, env := range envelopes {
		if len(sampleURL(env)) > MaxURLLength {
			return false
		}
	}
	return true
}

// sampleURL renders what the outer "batch" request's URL-encoded form
// would look like for one envelope, for length-checking purposes.
func sampleURL(env BatchEnvelope) string {
	cmdAsAny := make(map[string]any, len(env.Cmd))
	for k, v := range env.Cmd {
		cmdAsAny[k] = v
	}
	body := map[string]any{"halt": env.Halt, "cmd": cmdAsAny}
	return "batch" + buildQueryString(body)
}
