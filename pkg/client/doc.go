// Package client reports agent runs to the ingestion service.
//
// The client is built to never break the workload it instruments. By
// default every reporting error is swallowed: unreachable servers buffer
// the record to an NDJSON failover file, records the server rejects are
// logged and dropped, and the caller's code path continues. Strict mode
// flips that for callers that need delivery guarantees. During replay a
// rejected record is kept, not dropped: it halts the drain so nothing
// behind it is reordered or lost.
//
// Typical usage:
//
//	c, err := client.New(client.Config{
//		BaseURL:   "http://127.0.0.1:8787",
//		AgentName: "price-scraper",
//		BufferDir: "/var/lib/myagent/runlog-buffer",
//	})
//	if err != nil { ... }
//
//	err = c.Track(ctx, client.StartOptions{JobType: "crawl"}, func(ctx context.Context, h *client.RunHandle) error {
//		h.LogEvent(ctx, "checkpoint", "fetched index")
//		h.SetItems(120, 118, 2)
//		return doWork(ctx)
//	})
//
// Track ends the run as success, failure (error return), or failure with a
// re-raised panic. Long-lived daemons can use StartRun/EndRun directly.
//
// The failover buffer is drained automatically after the next successful
// report, or explicitly via Replay.
package client
