package crmclient

import (
	"context"

	goccyjson "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Paginator drives a "list" style method to completion: it issues the
// first request directly, then fans out the remaining pages as batch
// requests dispatched concurrently through the Scheduler, deduplicating
// the combined result set.
type Paginator struct {
	scheduler *Scheduler
}

// NewPaginator wraps scheduler for list-all operations.
func NewPaginator(scheduler *Scheduler) *Paginator {
	return &Paginator{scheduler: scheduler}
}

// GetAll fetches every item a list method would return, across as many
// pages as required. params must not set start, limit, or order (the
// paginator manages those itself); violating this is reported as a
// MisuseError.
func (p *Paginator) GetAll(ctx context.Context, method string, params Params) ([]any, error) {
	p.scheduler.beginOperation()
	defer p.scheduler.endOperation()

	method, err := validateMethod(method)
	if err != nil {
		return nil, err
	}
	params, err = validateParams(params)
	if err != nil {
		return nil, err
	}
	if params.hasClause("start") || params.hasClause("limit") || params.hasClause("order") {
		return nil, newMisuseError("get_all doesn't support 'start', 'limit', or 'order' params")
	}

	params = withDefaultOrder(method, params)

	first, err := p.scheduler.SingleRequest(ctx, method, params)
	if err != nil {
		return nil, err
	}

	results, err := resultsAsList(first)
	if err != nil {
		return nil, err
	}

	total, haveTotal := asInt(first["total"])
	if !haveTotal || !MoreResultsExpected(first, len(results)) {
		return results, nil
	}

	remaining, err := p.fetchRemaining(ctx, method, params, len(results), total)
	if err != nil {
		return nil, err
	}
	results = append(results, remaining...)

	deduped := dedupStructural(results)
	if len(deduped) != total {
		p.scheduler.logger.Warn().
			Str("method", method).
			Int("got", len(deduped)).
			Int("total", total).
			Msg("number of results returned doesn't equal 'total' from the server reply")
	}

	return deduped, nil
}

// orderlessMethods lists the endpoints that reject an "order" clause
// outright; for these the default sort injection is skipped and the
// server's own ordering is trusted.
var orderlessMethods = map[string]struct{}{
	"user.get":       {},
	"department.get": {},
}

// withDefaultOrder injects order: {id: asc} if the caller didn't supply
// one; otherwise list endpoints return randomly ordered pages and items
// repeat or go missing across pages. Endpoints in orderlessMethods don't
// accept the clause at all and are left alone.
func withDefaultOrder(method string, params Params) Params {
	if _, orderless := orderlessMethods[method]; orderless {
		return params
	}
	clone := params.clone()
	if !clone.hasClause("order") {
		clone["order"] = Params{"id": "asc"}
	}
	return clone
}

// fetchRemaining packs the continuation pages (start = k*DefaultPageSize
// for each remaining page) into batch envelopes and dispatches them
// concurrently via errgroup, collecting every sub-result in page order.
func (p *Paginator) fetchRemaining(ctx context.Context, method string, params Params, already, total int) ([]any, error) {
	var pages []LogicalItem
	for start := already; start < total; start += DefaultPageSize {
		page := params.clone()
		page["start"] = start
		pages = append(pages, page)
	}

	envelopes := batchOf(method, pages, SequentialLabels, "")

	results := make([][]any, len(envelopes))
	group, gctx := errgroup.WithContext(ctx)

	for i, env := range envelopes {
		i, env := i, env
		group.Go(func() error {
			resp, err := p.scheduler.SingleRequest(gctx, "batch", env.asParams())
			if err != nil {
				return err
			}
			extracted, err := ExtractResults(resp, false)
			if err != nil {
				return err
			}
			list, ok := extracted.([]any)
			if !ok {
				return nil
			}
			results[i] = list
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	var flat []any
	for _, list := range results {
		flat = append(flat, list...)
	}
	return flat, nil
}

// resultsAsList extracts and asserts the first page's result is a list;
// list endpoints always reply this way even on an empty page.
func resultsAsList(env Envelope) ([]any, error) {
	extracted, err := ExtractResults(env, false)
	if err != nil {
		return nil, err
	}
	list, ok := extracted.([]any)
	if !ok {
		return []any{}, nil
	}
	return list, nil
}

// dedupStructural removes structurally identical entries, preserving
// first-appearance order, using goccy/go-json re-marshaling as the
// canonical form for equality.
func dedupStructural(items []any) []any {
	seen := make(map[string]struct{}, len(items))
	out := make([]any, 0, len(items))

	for _, item := range items {
		encoded, err := goccyjson.Marshal(item)
		key := string(encoded)
		if err != nil {
			key = ""
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}

	return out
}

// asParams converts a BatchEnvelope into the Params shape SingleRequest
// expects, and what creditServerTime inspects for sub-method time
// accounting.
func (e BatchEnvelope) asParams() Params {
	cmd := make(map[string]any, len(e.Cmd))
	for k, v := range e.Cmd {
		cmd[k] = v
	}
	return Params{"halt": e.Halt, "cmd": cmd}
}
