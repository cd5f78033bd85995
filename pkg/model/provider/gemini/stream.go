package gemini

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/errkind"
)

// streamDecoder pulls responses from the genai iterator and flattens their
// parts into events. Gemini delivers each function call whole, so a call
// becomes a start event followed by a single argument delta.
type streamDecoder struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	queue   []chat.StreamEvent
	done    bool
	callSeq int
}

var _ chat.MessageStream = (*streamDecoder)(nil)

func newStreamDecoder(seq iter.Seq2[*genai.GenerateContentResponse, error]) *streamDecoder {
	next, stop := iter.Pull2(seq)
	return &streamDecoder{next: next, stop: stop}
}

func (d *streamDecoder) Recv() (chat.StreamEvent, error) {
	for len(d.queue) == 0 {
		if d.done {
			return chat.StreamEvent{}, io.EOF
		}
		resp, err, ok := d.next()
		if !ok {
			d.done = true
			continue
		}
		if err != nil {
			d.done = true
			d.stop()
			return chat.StreamEvent{}, errkind.Wrap(errkind.ModelBackendError, "stream", err)
		}
		d.decode(resp)
	}

	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, nil
}

func (d *streamDecoder) Close() {
	d.stop()
}

func (d *streamDecoder) decode(resp *genai.GenerateContentResponse) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil:
		case part.FunctionCall != nil:
			d.functionCall(part.FunctionCall)
		case part.Text == "":
		case part.Thought:
			d.queue = append(d.queue, chat.ReasoningEvent(part.Text))
		default:
			d.queue = append(d.queue, chat.ContentEvent(part.Text))
		}
	}
}

func (d *streamDecoder) functionCall(fc *genai.FunctionCall) {
	d.callSeq++
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", d.callSeq)
	}

	args := "{}"
	if len(fc.Args) > 0 {
		if buf, err := json.Marshal(fc.Args); err == nil {
			args = string(buf)
		}
	}

	d.queue = append(d.queue,
		chat.ToolCallStartEvent(id, fc.Name),
		chat.ToolCallDeltaEvent(args),
	)
}
