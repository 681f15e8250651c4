package core

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a random identifier for agents and invocations.
func NewID() string { return uuid.NewString() }

// NewMessageID returns a lexically time-ordered identifier. ulid.Make is
// monotonic within a process, so ids created in sequence also sort in sequence.
func NewMessageID() string { return ulid.Make().String() }
