// Package oaistream decodes OpenAI-compatible chat completion streams into
// chat.StreamEvent values and converts conversations into request params.
package oaistream

import (
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/errkind"
)

// ChunkStream is satisfied by *ssestream.Stream[openai.ChatCompletionChunk].
type ChunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// pendingCall is a tool call whose id or name has not arrived yet.
type pendingCall struct {
	id      string
	name    string
	args    string
	started bool
}

// Decoder turns chunks into events. A tool call is announced when its first
// argument fragment arrives, when the next call begins, or when the stream
// ends. Until then its name may still grow across chunks. Argument fragments
// seen before the announcement are held back and released right after the
// start event, preserving byte order.
type Decoder struct {
	stream  ChunkStream
	queue   []chat.StreamEvent
	calls   map[int64]*pendingCall
	order   []int64
	done    bool
	callSeq int
}

var _ chat.MessageStream = (*Decoder)(nil)

func NewDecoder(stream ChunkStream) *Decoder {
	return &Decoder{
		stream: stream,
		calls:  map[int64]*pendingCall{},
	}
}

func (d *Decoder) Recv() (chat.StreamEvent, error) {
	for len(d.queue) == 0 {
		if d.done {
			return chat.StreamEvent{}, io.EOF
		}
		if !d.stream.Next() {
			d.done = true
			if err := d.stream.Err(); err != nil {
				return chat.StreamEvent{}, errkind.Wrap(errkind.ModelBackendError, "stream", err)
			}
			d.flush()
			continue
		}
		d.decode(d.stream.Current())
	}

	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, nil
}

func (d *Decoder) Close() {
	_ = d.stream.Close()
}

func (d *Decoder) decode(chunk openai.ChatCompletionChunk) {
	raw := chunk.RawJSON()
	for i, choice := range chunk.Choices {
		if i > 0 {
			// Only the first choice is ever requested.
			break
		}

		if reasoning := reasoningDelta(raw, i); reasoning != "" {
			d.emit(chat.ReasoningEvent(reasoning))
		}
		if choice.Delta.Content != "" {
			d.emit(chat.ContentEvent(choice.Delta.Content))
		}

		for _, tc := range choice.Delta.ToolCalls {
			d.toolCallDelta(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}
}

// reasoningDelta reads the non-standard reasoning fields some backends add to deltas.
func reasoningDelta(raw string, choice int) string {
	if raw == "" {
		return ""
	}
	prefix := fmt.Sprintf("choices.%d.delta.", choice)
	for _, field := range []string{"reasoning_content", "reasoning"} {
		if v := gjson.Get(raw, prefix+field); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func (d *Decoder) toolCallDelta(index int64, id, name, args string) {
	call, ok := d.calls[index]
	if !ok {
		d.flush()
		call = &pendingCall{}
		d.calls[index] = call
		d.order = append(d.order, index)
	}

	if call.started {
		if args != "" {
			d.emit(chat.ToolCallDeltaEvent(args))
		}
		return
	}

	if id != "" {
		call.id = id
	}
	if name != "" {
		call.name += name
	}
	call.args += args

	if call.name != "" && call.args != "" {
		d.start(call)
	}
}

func (d *Decoder) start(call *pendingCall) {
	if call.id == "" {
		d.callSeq++
		call.id = fmt.Sprintf("call_%d", d.callSeq)
	}
	call.started = true
	d.emit(chat.ToolCallStartEvent(call.id, call.name))
	if call.args != "" {
		d.emit(chat.ToolCallDeltaEvent(call.args))
		call.args = ""
	}
}

// flush announces named calls still waiting for arguments. Calls without a
// name are dropped. Calls that never received an id get a generated one.
func (d *Decoder) flush() {
	for _, index := range d.order {
		call := d.calls[index]
		if call.started || call.name == "" {
			continue
		}
		d.start(call)
	}
}

func (d *Decoder) emit(ev chat.StreamEvent) {
	d.queue = append(d.queue, ev)
}
