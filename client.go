// Package crmclient implements a high-throughput REST client for
// Bitrix24-style CRM APIs: a dual-gated request scheduler (adaptive
// concurrency + token-bucket + optional per-method sliding windows),
// a batching engine, a pagination engine, and the high-level operations
// built on top of them (Call, GetByID, GetAll, CallBatch).
//
// Create a client with New():
//
//	client, err := crmclient.New(
//	    crmclient.WithWebhook("https://portal.bitrix24.com/rest/1/xxxx/"),
//	)
//	leads, err := client.GetAll(ctx, "crm.lead.list", nil)
package crmclient

// Client is the public entry point: a thin wrapper over Scheduler that
// exposes the high-level operations (see ops.go).
type Client struct {
	*Scheduler
}

// New builds a Client from the given Options. WithWebhook is required;
// every other Option has a default matching the server's documented
// policy.
func New(opts ...Option) (*Client, error) {
	scheduler, err := NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Scheduler: scheduler}, nil
}
