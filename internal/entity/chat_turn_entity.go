package entity

import (
	"time"

	"legal-qa-be/pkg/dispatch"

	"github.com/google/uuid"
)

// ChatTurn is a single message inside a session. Assistant turns carry the
// pipeline mode they were produced by and any verified artifacts extracted
// from the terminal payload; user turns leave those empty.
type ChatTurn struct {
	Id            uuid.UUID
	ChatSessionId uuid.UUID
	Role          string
	Content       string
	Mode          string
	Errored       bool
	VerifiedCases []dispatch.VerifiedCase
	VerifiedNpa   []dispatch.VerifiedNpa
	CreatedAt     time.Time
}
