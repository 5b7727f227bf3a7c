package unifiedllm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryMiddleware retries retryable Complete failures according to policy.
// Streams are not retried: deltas may already have reached the caller.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}

// LoggingMiddleware records provider, model, latency and usage for every
// Complete call.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logger.Warn("llm call failed", append(fields, zap.Error(err), zap.Bool("retryable", IsRetryable(err)))...)
			return nil, err
		}
		logger.Debug("llm call complete", append(fields,
			zap.String("finish_reason", resp.FinishReason.Reason),
			zap.Int("total_tokens", resp.Usage.TotalTokens))...)
		return resp, nil
	}
}

// StreamLoggingMiddleware logs when a stream is opened or fails to open.
func StreamLoggingMiddleware(logger *zap.Logger) StreamMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		ch, err := next(ctx, req)
		if err != nil {
			logger.Warn("llm stream failed to open",
				zap.String("provider", req.Provider),
				zap.String("model", req.Model),
				zap.Error(err))
			return nil, err
		}
		logger.Debug("llm stream opened", zap.String("provider", req.Provider), zap.String("model", req.Model))
		return ch, nil
	}
}
