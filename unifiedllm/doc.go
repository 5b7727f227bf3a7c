// Package unifiedllm is the provider-agnostic LLM client used by agent
// worlds. It wraps gollm (github.com/teilomillet/gollm) behind a small
// ProviderAdapter interface and adds provider routing, middleware, retries
// and a bounded call queue.
//
// # Client
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithCallQueue(unifiedllm.NewCallQueue(4)),
//	    unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//
// Requests are routed by Request.Provider, then by the model catalog, then
// by the client default.
//
// # Streaming
//
// Stream returns a channel of StreamEvent values. Collect drains it, passing
// each text delta to a callback, and returns the complete Response only when
// the stream has finished:
//
//	ch, err := client.Stream(ctx, req)
//	resp, err := unifiedllm.Collect(ctx, ch, func(delta string) { ... })
//
// # Call queue
//
// A CallQueue caps the number of provider calls in flight across every
// agent sharing the client. Waiters honor context cancellation and get an
// AbortError, which is never retried.
package unifiedllm
