package crmclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Call dispatches one or more logical requests against method, returning
// each item's result in the same order items was given.
//
// If raw is true, items is sent verbatim as the request body — the single
// item itself for a one-element slice, the whole slice otherwise — with no
// batching and no query-string encoding; this is the escape hatch legacy
// methods that expect a list body, or null-valued params that must survive
// untouched, need. A raw call returns a one-element slice holding the
// single extracted result of that one request, not one result per item.
func (c *Client) Call(ctx context.Context, method string, items []LogicalItem, raw bool) ([]any, error) {
	c.Scheduler.beginOperation()
	defer c.Scheduler.endOperation()

	method, err := validateMethod(method)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, newValidationError("call(): items cannot be empty")
	}

	if raw {
		var body any = items
		if len(items) == 1 {
			body = items[0]
		}
		env, err := c.Scheduler.RawRequest(ctx, method, body)
		if err != nil {
			return nil, err
		}
		result, err := ExtractResults(env, false)
		if err != nil {
			return nil, err
		}
		return []any{result}, nil
	}

	normalised := make([]LogicalItem, len(items))
	for i, item := range items {
		clean, err := validateParams(item)
		if err != nil {
			return nil, err
		}
		normalised[i] = clean
	}

	envelopes := batchOf(method, normalised, SequentialLabels, "")

	labelled, err := c.dispatchBatches(ctx, envelopes)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(labelled))
	for label := range labelled {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]any, len(labels))
	for i, label := range labels {
		out[i] = labelled[label]
	}
	return out, nil
}

// CallOne dispatches a single logical request and returns its bare
// result, sparing the caller the one-element slice dance of Call.
func (c *Client) CallOne(ctx context.Context, method string, item LogicalItem) (any, error) {
	results, err := c.Call(ctx, method, []LogicalItem{item}, false)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &ServerContentError{Message: "the server returned no result for the request"}
	}
	return results[0], nil
}

// dispatchBatches sends every envelope concurrently and merges the
// label-keyed sub-results into one map.
func (c *Client) dispatchBatches(ctx context.Context, envelopes []BatchEnvelope) (map[string]any, error) {
	merged := make(map[string]any)
	var mu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	for _, env := range envelopes {
		env := env
		group.Go(func() error {
			resp, err := c.Scheduler.SingleRequest(gctx, reservedMethod, env.asParams())
			if err != nil {
				return err
			}
			result, err := ExtractResults(resp, true)
			if err != nil {
				return err
			}

			byLabel, ok := result.(map[string]any)
			if !ok {
				// a one-command envelope whose sub-result is a list gets
				// unwrapped by the parser; restore the labelling.
				if len(env.Cmd) != 1 {
					return &ServerContentError{Message: "batch response wasn't label-keyed"}
				}
				byLabel = make(map[string]any, 1)
				for label := range env.Cmd {
					byLabel[label] = result
				}
			}

			mu.Lock()
			for label, value := range byLabel {
				merged[label] = value
			}
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

// GetByID builds one LogicalItem per id (params merged with
// {idField: id}), dispatches with identifier labels so each response maps
// directly back to its id, and returns that mapping.
func (c *Client) GetByID(ctx context.Context, method string, idList []any, idField string, params Params) (map[string]any, error) {
	c.Scheduler.beginOperation()
	defer c.Scheduler.endOperation()

	method, err := validateMethod(method)
	if err != nil {
		return nil, err
	}
	params, err = validateParams(params)
	if err != nil {
		return nil, err
	}
	if params.hasClause("id") {
		return nil, newMisuseError("get_by_id() doesn't support an 'id' clause within params")
	}
	if len(idList) == 0 {
		return nil, newValidationError("get_by_id(): id list cannot be empty")
	}

	items := make([]LogicalItem, len(idList))
	for i, id := range idList {
		item := params.clone()
		item[idField] = id
		items[i] = item
	}

	envelopes := batchOf(method, items, IdentifierLabels, idField)
	return c.dispatchBatches(ctx, envelopes)
}

// GetAll fetches every item a list method returns, across as many pages
// as required.
func (c *Client) GetAll(ctx context.Context, method string, params Params) ([]any, error) {
	return NewPaginator(c.Scheduler).GetAll(ctx, method, params)
}

// CallBatch validates params has exactly the "halt" and "cmd" clauses,
// dispatches one request to "batch", and returns the label -> sub-result
// map, raising on any batch-level error.
func (c *Client) CallBatch(ctx context.Context, params Params) (map[string]any, error) {
	c.Scheduler.beginOperation()
	defer c.Scheduler.endOperation()

	if params == nil {
		return nil, newValidationError("call_batch(): params cannot be empty")
	}
	if len(params) != 2 || !params.hasClause("halt") || !params.hasClause("cmd") {
		return nil, newValidationError("call_batch(): params must contain exactly 'halt' and 'cmd', got %s", describeKeys(params))
	}
	if _, ok := params["cmd"].(map[string]any); !ok {
		return nil, newValidationError("call_batch(): 'cmd' clause must be a mapping")
	}

	resp, err := c.Scheduler.SingleRequest(ctx, reservedMethod, params)
	if err != nil {
		return nil, err
	}

	result, err := ExtractResults(resp, true)
	if err != nil {
		return nil, err
	}
	byLabel, ok := result.(map[string]any)
	if !ok {
		cmd := params["cmd"].(map[string]any)
		if len(cmd) != 1 {
			return nil, &ServerContentError{Message: fmt.Sprintf("unexpected call_batch result shape %T", result)}
		}
		// a one-command batch whose sub-result is a list gets unwrapped
		// by the parser; restore the labelling.
		byLabel = make(map[string]any, 1)
		for label := range cmd {
			byLabel[label] = result
		}
	}
	return byLabel, nil
}
