package unifiedllm

import (
	"context"
	"strings"
)

// StreamAccumulator folds stream events into a complete Response.
type StreamAccumulator struct {
	text         strings.Builder
	toolCalls    []ToolCall
	finishReason *FinishReason
	usage        *Usage
	response     *Response
	err          error
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		sa.text.WriteString(event.Delta)
	case ToolCallEnd:
		if event.ToolCall != nil {
			sa.toolCalls = append(sa.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		sa.finishReason = event.FinishReason
		sa.usage = event.Usage
		sa.response = event.Response
	case StreamError:
		sa.err = event.Error
		if sa.err == nil {
			sa.err = &StreamErrorType{SDKError: SDKError{Message: "stream reported an error"}}
		}
	}
}

// Err returns the error carried by a StreamError event, if any.
func (sa *StreamAccumulator) Err() error {
	return sa.err
}

// Response returns the accumulated response. A finish event carrying a full
// response takes precedence over the accumulated parts.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}
	var content []ContentPart
	if sa.text.Len() > 0 {
		content = append(content, TextPart(sa.text.String()))
	}
	for _, tc := range sa.toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	fr := FinishReason{Reason: "stop"}
	if sa.finishReason != nil {
		fr = *sa.finishReason
	}
	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}

	return &Response{
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: fr,
		Usage:        usage,
	}
}

// Collect drains ch, calling onDelta for every text delta, and returns the
// complete response only once the stream has finished. Callers never see a
// partial response.
func Collect(ctx context.Context, ch <-chan StreamEvent, onDelta func(string)) (*Response, error) {
	acc := NewStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			return nil, &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
		case ev, ok := <-ch:
			if !ok {
				if err := acc.Err(); err != nil {
					return nil, err
				}
				return acc.Response(), nil
			}
			acc.Process(ev)
			if ev.Type == TextDelta && onDelta != nil && ev.Delta != "" {
				onDelta(ev.Delta)
			}
		}
	}
}
