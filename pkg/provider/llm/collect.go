package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrStreamClosed is returned by [Collect] when the channel closes before a
// chunk with a finish reason arrives.
var ErrStreamClosed = errors.New("llm: stream closed without finish reason")

// Collect drains ch, passes every non-empty text delta to onText as soon as it
// arrives, and assembles the final [CompletionResponse]. onText may be nil.
//
// A chunk with FinishReason [FinishReasonError] aborts collection with an
// error carrying the chunk text. If ctx is cancelled, Collect returns
// ctx.Err() without waiting for the provider.
func Collect(ctx context.Context, ch <-chan Chunk, onText func(string)) (*CompletionResponse, error) {
	var buf strings.Builder
	resp := &CompletionResponse{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 || len(resp.ToolCalls) > 0 {
					resp.Content = buf.String()
					return resp, nil
				}
				return nil, ErrStreamClosed
			}
			if chunk.FinishReason == FinishReasonError {
				return nil, errors.New("llm: stream: " + chunk.Text)
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				if onText != nil {
					onText(chunk.Text)
				}
			}
			if len(chunk.ToolCalls) > 0 {
				resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
			}
			if chunk.FinishReason != "" {
				resp.Content = buf.String()
				go drainChunks(ch)
				return resp, nil
			}
		}
	}
}

// drainChunks discards all remaining chunks so the provider goroutine never
// blocks on a send after Collect has returned.
func drainChunks(ch <-chan Chunk) {
	for range ch {
	}
}
