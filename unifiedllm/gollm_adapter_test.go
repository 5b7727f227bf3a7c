package unifiedllm

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGollmAdapterName(t *testing.T) {
	// Creation may fail without network-independent config; Name is what matters.
	for _, provider := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(provider, "test-key-not-real")
		if err != nil {
			t.Logf("skipping %s adapter creation: %v", provider, err)
			continue
		}
		if adapter.Name() != provider {
			t.Errorf("expected name %q, got %q", provider, adapter.Name())
		}
	}
}

func TestNewGollmAdapterUnknownProviderWithoutModel(t *testing.T) {
	_, err := NewGollmAdapter("mystery", "key")
	if err == nil {
		t.Fatal("expected error for provider with no default model")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		errMsg string
		check  func(error) bool
		want   string
	}{
		{"401 Unauthorized", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, "AuthenticationError"},
		{"invalid api key", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, "AuthenticationError"},
		{"403 Forbidden", func(e error) bool { _, ok := e.(*AccessDeniedError); return ok }, "AccessDeniedError"},
		{"404 not found", func(e error) bool { _, ok := e.(*NotFoundError); return ok }, "NotFoundError"},
		{"429 rate limit exceeded", func(e error) bool { _, ok := e.(*RateLimitError); return ok }, "RateLimitError"},
		{"context length exceeded", func(e error) bool { _, ok := e.(*ContextLengthError); return ok }, "ContextLengthError"},
		{"500 internal server error", func(e error) bool { _, ok := e.(*ServerError); return ok }, "ServerError"},
		{"timeout waiting for response", func(e error) bool { _, ok := e.(*RequestTimeoutError); return ok }, "RequestTimeoutError"},
		{"content filter triggered", func(e error) bool { _, ok := e.(*ContentFilterError); return ok }, "ContentFilterError"},
		{"something unknown", func(e error) bool { _, ok := e.(*ProviderError); return ok }, "ProviderError"},
	}

	for _, tt := range tests {
		err := adapter.translateError(errForMsg(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: expected %s, got %T", tt.errMsg, tt.want, err)
		}
	}
	if adapter.translateError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestGollmAdapterTranslateErrorStatusCodes(t *testing.T) {
	adapter := &GollmAdapter{provider: "anthropic"}
	cause := errForMsg("API error: status 429, retry-after: 7")

	err := adapter.translateError(cause)
	rl, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rl.Provider != "anthropic" || rl.StatusCode != 429 {
		t.Errorf("unexpected provider error %+v", rl.ProviderError)
	}
	if rl.RetryAfter == nil || *rl.RetryAfter != 7 {
		t.Errorf("expected retry after 7s, got %v", rl.RetryAfter)
	}
	if got, ok := retryAfter(err); !ok || got != 7*time.Second {
		t.Errorf("retryAfter = %v, %v", got, ok)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the gollm error to stay in the chain")
	}

	if _, ok := adapter.translateError(errForMsg("status 503 service unavailable")).(*ServerError); !ok {
		t.Error("expected ServerError for 503")
	}
	if _, ok := adapter.translateError(errForMsg("400 bad request: maximum context length is 8192")).(*ContextLengthError); !ok {
		t.Error("expected ContextLengthError to win over the 400 status")
	}
	if IsRetryable(adapter.translateError(errForMsg("422 unprocessable"))) {
		t.Error("invalid requests must not be retried")
	}
}

func TestParseToolCallsObjectForm(t *testing.T) {
	text := `Let me check. {"tool_calls":[{"id":"call_9","type":"function","function":{"name":"shell_cmd","arguments":"{\"command\":\"ls\"}"}}]}`
	calls, rest := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "call_9" || calls[0].Name != "shell_cmd" {
		t.Errorf("unexpected call %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"command":"ls"}` {
		t.Errorf("expected unwrapped arguments, got %s", calls[0].Arguments)
	}
	if rest != "Let me check." {
		t.Errorf("expected leading text preserved, got %q", rest)
	}
}

func TestParseToolCallsArrayForm(t *testing.T) {
	calls, rest := parseToolCalls(`[{"name":"read_file","arguments":{"path":"a.txt"}}]`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "read_file" || string(calls[0].Arguments) != `{"path":"a.txt"}` {
		t.Errorf("unexpected call %+v", calls[0])
	}
	if !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("expected generated call id, got %q", calls[0].ID)
	}
	if rest != "" {
		t.Errorf("expected no remaining text, got %q", rest)
	}
}

func TestParseToolCallsPlainText(t *testing.T) {
	for _, text := range []string{"@b hello there", `[{"name": broken`} {
		calls, rest := parseToolCalls(text)
		if calls != nil {
			t.Errorf("expected no calls for %q, got %+v", text, calls)
		}
		if rest != text {
			t.Errorf("expected text unchanged, got %q", rest)
		}
	}
}

func TestNormalizeArguments(t *testing.T) {
	tests := []struct{ in, want string }{
		{``, `{}`},
		{`null`, `{}`},
		{`{"a":1}`, `{"a":1}`},
		{`"{\"a\":1}"`, `{"a":1}`},
		{`"not json"`, `"not json"`},
	}
	for _, tt := range tests {
		if got := string(normalizeArguments([]byte(tt.in))); got != tt.want {
			t.Errorf("normalizeArguments(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildResponseToolCalls(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o-mini"}
	resp := adapter.buildResponse(Request{}, `[{"name":"shell_cmd","arguments":{"command":"ls"}}]`)
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected tool_calls finish reason, got %q", resp.FinishReason.Reason)
	}
	if resp.Model != "gpt-4o-mini" || resp.Provider != "openai" {
		t.Errorf("unexpected model/provider %s/%s", resp.Model, resp.Provider)
	}
	if len(resp.ToolCallsFromResponse()) != 1 {
		t.Errorf("expected one tool call")
	}
	if resp.Text() != "" {
		t.Errorf("expected no text, got %q", resp.Text())
	}

	resp = adapter.buildResponse(Request{Model: "gpt-4o"}, "plain answer")
	if resp.FinishReason.Reason != "stop" || resp.Text() != "plain answer" || resp.Model != "gpt-4o" {
		t.Errorf("unexpected text response %+v", resp)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{
		Messages: []Message{
			UserMessage("Hello world, this is a test message."),
		},
	}
	if tokens := estimateTokens(req); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if tokens := estimateTokens(Request{}); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
