package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// gollm keeps request options (model, temperature) on the LLM value, so
// option changes and the call that depends on them are serialized.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
	mu       sync.Mutex
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a GollmAdapter for provider. When apiKey is empty
// gollm falls back to its own environment lookup.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf("no default model for provider %q", provider)}}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries happen in RetryMiddleware
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    DefaultModel(provider),
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvent
// values. Providers without streaming support produce a single delta.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	ch := make(chan StreamEvent, 64)

	a.mu.Lock()
	a.applyRequestOptions(req)
	if !a.llm.SupportsStreaming() {
		text, err := a.llm.Generate(ctx, prompt)
		a.mu.Unlock()
		if err != nil {
			return nil, a.translateError(err)
		}
		go func() {
			defer close(ch)
			a.emitFinished(ch, req, text, true)
		}()
		return ch, nil
	}
	stream, err := a.llm.Stream(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}
		textID := "text_0"
		started := false
		var full strings.Builder

		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			if !started {
				ch <- StreamEvent{Type: TextStart, TextID: textID}
				started = true
			}
			ch <- StreamEvent{Type: TextDelta, Delta: token.Text, TextID: textID}
			full.WriteString(token.Text)
		}
		if started {
			ch <- StreamEvent{Type: TextEnd, TextID: textID}
		}
		a.emitFinished(ch, req, full.String(), false)
	}()

	return ch, nil
}

// emitFinished sends the terminal events for a generated text. Tool-call
// JSON is never forwarded as a text delta.
func (a *GollmAdapter) emitFinished(ch chan<- StreamEvent, req Request, text string, withDeltas bool) {
	resp := a.buildResponse(req, text)
	if withDeltas {
		ch <- StreamEvent{Type: StreamStart}
		if t := resp.Text(); t != "" {
			ch <- StreamEvent{Type: TextStart, TextID: "text_0"}
			ch <- StreamEvent{Type: TextDelta, Delta: t, TextID: "text_0"}
			ch <- StreamEvent{Type: TextEnd, TextID: "text_0"}
		}
	}
	for _, tc := range resp.ToolCallsFromResponse() {
		call := tc
		ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &call}
	}
	ch <- StreamEvent{
		Type:         StreamFinish,
		FinishReason: &resp.FinishReason,
		Usage:        &resp.Usage,
		Response:     resp,
	}
}

// translateRequest flattens a unified Request into a gollm Prompt. gollm
// takes a single prompt, so prior turns are rendered as labelled lines.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt strings.Builder
	var lines []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt.WriteString(msg.TextContent())
			systemPrompt.WriteString("\n")
		case RoleUser:
			text := msg.TextContent()
			if msg.Name != "" {
				text = "[" + msg.Name + "]: " + text
			}
			lines = append(lines, text)
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				lines = append(lines, "[Assistant]: "+text)
			}
			for _, tc := range msg.ToolCalls() {
				lines = append(lines, fmt.Sprintf("[Assistant called %s (%s)]: %s", tc.Name, tc.ID, string(tc.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result " + part.ToolResult.ToolCallID + "]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error " + part.ToolResult.ToolCallID + "]"
				}
				lines = append(lines, prefix+": "+part.ToolResult.Content)
			}
		}
	}

	promptText := strings.Join(lines, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if s := strings.TrimSpace(systemPrompt.String()); s != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(s, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
// Callers hold a.mu.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	if model != "" {
		a.llm.SetOption("model", model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, rest := parseToolCalls(text)

	var content []ContentPart
	if rest != "" {
		content = append(content, TextPart(rest))
	}
	for _, tc := range calls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	finishReason := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finishReason = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	in := estimateTokens(req)
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: content,
		},
		FinishReason: finishReason,
		Usage: Usage{
			// gollm does not expose usage; estimate from text length.
			InputTokens:  in,
			OutputTokens: len(text) / 4,
			TotalTokens:  in + len(text)/4,
		},
	}
}

type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// parseToolCalls extracts tool calls gollm embeds in the generated text,
// either as {"tool_calls":[...]} or as a bare [{"name":...}] array. It
// returns the calls and the text preceding the JSON.
func parseToolCalls(text string) ([]ToolCall, string) {
	start := strings.Index(text, `{"tool_calls"`)
	isObject := start != -1
	if !isObject {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil, text
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raws []rawToolCall
	if isObject {
		var wrapper struct {
			ToolCalls []rawToolCall `json:"tool_calls"`
		}
		if err := dec.Decode(&wrapper); err != nil {
			return nil, text
		}
		raws = wrapper.ToolCalls
	} else if err := dec.Decode(&raws); err != nil {
		return nil, text
	}

	var calls []ToolCall
	for _, rc := range raws {
		name, args := rc.Name, rc.Arguments
		if rc.Function != nil {
			name, args = rc.Function.Name, rc.Function.Arguments
		}
		if name == "" {
			continue
		}
		id := rc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		calls = append(calls, ToolCall{ID: id, Name: name, Arguments: normalizeArguments(args)})
	}
	if len(calls) == 0 {
		return nil, text
	}
	return calls, strings.TrimSpace(text[:start])
}

// normalizeArguments unwraps arguments that arrive as a JSON-encoded string.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage(`{}`)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil && json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	return trimmed
}

var (
	statusCodeRe = regexp.MustCompile(`\b(400|401|403|404|408|413|422|429|500|502|503|504)\b`)
	retryAfterRe = regexp.MustCompile(`retry[- ]after[:= ]+(\d+(?:\.\d+)?)`)
)

// translateError converts a gollm error into the unified error hierarchy.
// gollm only exposes provider failures as text, so the status code and any
// retry-after hint are recovered from the message.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)
	base := ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider}

	// Providers report these as plain 400s; the message is more specific.
	switch {
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		base.StatusCode = 413
		return &ContextLengthError{ProviderError: base}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: base}
	}

	if m := statusCodeRe.FindStringSubmatch(msgLower); m != nil {
		code, _ := strconv.Atoi(m[1])
		var retryAfter *float64
		if ra := retryAfterRe.FindStringSubmatch(msgLower); ra != nil {
			if secs, perr := strconv.ParseFloat(ra[1], 64); perr == nil {
				retryAfter = &secs
			}
		}
		return ErrorFromStatusCode(code, msg, a.provider, retryAfter, err)
	}

	switch {
	case strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		base.StatusCode = 401
		return &AuthenticationError{ProviderError: base}
	case strings.Contains(msgLower, "forbidden"):
		base.StatusCode = 403
		return &AccessDeniedError{ProviderError: base}
	case strings.Contains(msgLower, "not found"):
		base.StatusCode = 404
		return &NotFoundError{ProviderError: base}
	case strings.Contains(msgLower, "rate limit"):
		base.StatusCode, base.Retryable = 429, true
		return &RateLimitError{ProviderError: base}
	case strings.Contains(msgLower, "internal server"):
		base.StatusCode, base.Retryable = 500, true
		return &ServerError{ProviderError: base}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	default:
		base.Retryable = true
		return &base
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Kind == ContentText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
