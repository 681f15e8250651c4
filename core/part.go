package core

// Part represents a polymorphic segment of role-based content sent to a
// model. Concrete part types implement the unexported isPart marker enabling
// a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// FunctionCall describes a tool invocation requested by the model.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON encoded
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string `json:"name"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts. Name optionally attributes a user turn
// to a specific participant.
type Content struct {
	Role  string `json:"role,omitempty"` // user, assistant, tool
	Name  string `json:"name,omitempty"`
	Parts []Part `json:"parts"`
}

// Text concatenates all text parts of c.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// NewTextContent builds a single-part text content.
func NewTextContent(role, name, text string) Content {
	return Content{Role: role, Name: name, Parts: []Part{TextPart{Text: text}}}
}
