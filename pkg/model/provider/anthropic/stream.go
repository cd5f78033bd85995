package anthropic

import (
	"io"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/errkind"
)

// eventStream is satisfied by *ssestream.Stream[anthropic.MessageStreamEventUnion].
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

// streamDecoder maps Messages API events onto chat.StreamEvent. Anthropic
// announces tool_use blocks with id and name together, so no buffering is needed.
type streamDecoder struct {
	stream eventStream
	done   bool
}

var _ chat.MessageStream = (*streamDecoder)(nil)

func newStreamDecoder(stream eventStream) *streamDecoder {
	return &streamDecoder{stream: stream}
}

func (d *streamDecoder) Recv() (chat.StreamEvent, error) {
	for !d.done {
		if !d.stream.Next() {
			d.done = true
			if err := d.stream.Err(); err != nil {
				return chat.StreamEvent{}, errkind.Wrap(errkind.ModelBackendError, "stream", err)
			}
			break
		}

		if ev, ok := decodeEvent(d.stream.Current()); ok {
			return ev, nil
		}
	}
	return chat.StreamEvent{}, io.EOF
}

func (d *streamDecoder) Close() {
	_ = d.stream.Close()
}

func decodeEvent(event anthropic.MessageStreamEventUnion) (chat.StreamEvent, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			return chat.ToolCallStartEvent(block.ID, block.Name), true
		}

	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				return chat.ContentEvent(delta.Text), true
			}
		case anthropic.ThinkingDelta:
			if delta.Thinking != "" {
				return chat.ReasoningEvent(delta.Thinking), true
			}
		case anthropic.InputJSONDelta:
			if delta.PartialJSON != "" {
				return chat.ToolCallDeltaEvent(delta.PartialJSON), true
			}
		}
	}
	return chat.StreamEvent{}, false
}
