package unifiedllm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client holds registered provider adapters, routes requests by provider
// identifier, applies middleware and admits calls through an optional
// bounded queue.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	streamMW        []StreamMiddleware
	queue           *CallQueue
	logger          *zap.Logger
	mu              sync.RWMutex

	usageMu sync.Mutex
	usage   Usage
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// WithCallQueue bounds the number of provider calls in flight. Callers wait
// on the queue (honoring their context) before any middleware runs.
func WithCallQueue(q *CallQueue) ClientOption {
	return func(c *Client) {
		c.queue = q
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// NewClientFromKeys registers a GollmAdapter for every provider with a
// non-empty API key. Providers that fail to initialize are logged and skipped.
func NewClientFromKeys(keys map[string]string, opts ...ClientOption) *Client {
	c := NewClient(opts...)
	for _, provider := range []string{"openai", "anthropic"} {
		key := keys[provider]
		if key == "" {
			continue
		}
		adapter, err := NewGollmAdapter(provider, key)
		if err != nil {
			c.logger.Warn("provider unavailable", zap.String("provider", provider), zap.Error(err))
			continue
		}
		c.RegisterProvider(provider, adapter)
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// Providers returns the registered provider names.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}

// resolveProvider determines which provider adapter to use for a request.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	if c.queue != nil {
		release, err := c.queue.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	c.addUsage(resp.Usage)
	return resp, nil
}

func (c *Client) addUsage(u Usage) {
	c.usageMu.Lock()
	c.usage = c.usage.Add(u)
	c.usageMu.Unlock()
}

// TotalUsage returns the tokens consumed by every completed call, streamed
// or not, since the client was created.
func (c *Client) TotalUsage() Usage {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage
}

// Stream sends a streaming request through middleware to the resolved
// provider. A queue slot, when configured, is held until the returned
// channel is closed.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	release := func() {}
	if c.queue != nil {
		release, err = c.queue.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, r)
	}
	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	inner, err := handler(ctx, req)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan StreamEvent, 64)
	go func() {
		defer release()
		defer close(out)
		for ev := range inner {
			if ev.Type == StreamFinish && ev.Usage != nil {
				c.addUsage(*ev.Usage)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// Drain so the adapter goroutine can exit.
				for range inner {
				}
				return
			}
		}
	}()
	return out, nil
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
