// Package ingest exposes the callback handlers over HTTP for pipelines that
// run outside the Go process.
//
// Clients POST one envelope, or a JSON array of envelopes, to /v1/events:
//
//	{"type": "chain_start", "run_id": "1", "serialized": {"name": "RetrievalQA"}}
//	{"type": "tool_start", "run_id": "2", "parent_run_id": "1", "input": "query"}
//	{"type": "tool_end", "run_id": "2", "output": "result"}
//	{"type": "chain_error", "run_id": "1", "error": "boom"}
//
// A batch is validated as a whole, then queued in order. A single
// Dispatcher goroutine applies queued events to the handler, so the order of
// accepted events is the order the registry sees. When the queue is full the
// request fails with 503 and core.ErrQueueFull.
package ingest
