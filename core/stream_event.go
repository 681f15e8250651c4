package core

// EventKind is the wire name of a stream event kind.
type EventKind string

// Event kinds of the classified stream taxonomy.
const (
	KindTextDelta      EventKind = "text-delta"
	KindReasoningDelta EventKind = "reasoning-delta"
	KindToolCall       EventKind = "tool-call"
	KindToolResult     EventKind = "tool-result"
	KindToolOutput     EventKind = "tool-output"
	KindTextEnd        EventKind = "text-end"
	KindStepFinish     EventKind = "step-finish"
	KindError          EventKind = "error"
)

// StreamEvent is one classified event produced by a model-serving backend.
// The set of implementations is closed by the unexported marker method, so a
// type switch over the cases below is exhaustive.
type StreamEvent interface {
	Kind() EventKind
	isStreamEvent()
}

// TextDelta appends literal text.
type TextDelta struct {
	Text string
}

// ReasoningDelta appends literal reasoning text. Persisted like TextDelta.
type ReasoningDelta struct {
	Text string
}

// ToolCall announces a tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult reports a completed tool invocation. Output distinguishes the
// tool-output spelling used by some backends from tool-result.
type ToolResult struct {
	ID     string
	Name   string
	Result any
	Error  string
	Output bool
}

// StepFinish is a structural boundary (text-end or step-finish). Reason
// carries the provider finish reason when known.
type StepFinish struct {
	Reason  string
	TextEnd bool
}

// ErrorEvent reports a failure surfaced by the stream itself.
type ErrorEvent struct {
	Err error
}

// Lifecycle covers every event kind outside the taxonomy. It is ignored by consumers.
type Lifecycle struct {
	Name string
}

func (TextDelta) Kind() EventKind      { return KindTextDelta }
func (ReasoningDelta) Kind() EventKind { return KindReasoningDelta }
func (ToolCall) Kind() EventKind       { return KindToolCall }
func (s StepFinish) Kind() EventKind {
	if s.TextEnd {
		return KindTextEnd
	}
	return KindStepFinish
}
func (ErrorEvent) Kind() EventKind  { return KindError }
func (e Lifecycle) Kind() EventKind { return EventKind(e.Name) }

func (r ToolResult) Kind() EventKind {
	if r.Output {
		return KindToolOutput
	}
	return KindToolResult
}

func (TextDelta) isStreamEvent()      {}
func (ReasoningDelta) isStreamEvent() {}
func (ToolCall) isStreamEvent()       {}
func (ToolResult) isStreamEvent()     {}
func (StepFinish) isStreamEvent()     {}
func (ErrorEvent) isStreamEvent()     {}
func (Lifecycle) isStreamEvent()      {}

// Message returns the error text, tolerating a nil error.
func (e ErrorEvent) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}
