package chat

// StreamEventKind tags a StreamEvent.
type StreamEventKind int

const (
	// EventContent carries a visible text increment in Text.
	EventContent StreamEventKind = iota + 1
	// EventReasoning carries a hidden reasoning increment in Text.
	EventReasoning
	// EventToolCallStart announces a new tool call with both ID and Name set.
	EventToolCallStart
	// EventToolCallDelta carries an argument fragment in Text for the most
	// recently started call.
	EventToolCallDelta
)

func (k StreamEventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventReasoning:
		return "reasoning"
	case EventToolCallStart:
		return "tool_call_start"
	case EventToolCallDelta:
		return "tool_call_delta"
	default:
		return "unknown"
	}
}

// StreamEvent is one decoded increment of a model response.
//
// There is no end-of-call event. A call is open from its start until the next
// start or the end of the stream.
type StreamEvent struct {
	Kind StreamEventKind
	Text string
	ID   string
	Name string
}

func ContentEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventContent, Text: text}
}

func ReasoningEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventReasoning, Text: text}
}

func ToolCallStartEvent(id, name string) StreamEvent {
	return StreamEvent{Kind: EventToolCallStart, ID: id, Name: name}
}

func ToolCallDeltaEvent(args string) StreamEvent {
	return StreamEvent{Kind: EventToolCallDelta, Text: args}
}

// MessageStream yields decoded events. Recv returns io.EOF once the response is complete.
type MessageStream interface {
	Recv() (StreamEvent, error)
	Close()
}
