package events

import (
	"time"

	"github.com/google/uuid"
)

// Audit event codes for the question-answering exchange lifecycle.
const (
	TypeExchangeCompleted = "EXCHANGE_COMPLETED"
	TypeExchangeFailed    = "EXCHANGE_FAILED"
	TypeSessionPruned     = "SESSION_PRUNED"
)

// NewExchangeCompleted records one successfully resolved submission.
func NewExchangeCompleted(sessionID uuid.UUID, mode string, answerLen, caseCount, npaCount int) Event {
	return BaseEvent{
		Type: TypeExchangeCompleted,
		Data: map[string]interface{}{
			"session_id":     sessionID.String(),
			"mode":           mode,
			"answer_length":  answerLen,
			"verified_cases": caseCount,
			"verified_npa":   npaCount,
		},
		OccurredAt: time.Now(),
	}
}

// NewExchangeFailed records a submission that terminated in an error or
// timeout. The exchange still produced a visible assistant turn.
func NewExchangeFailed(sessionID uuid.UUID, mode, reason string) Event {
	return BaseEvent{
		Type: TypeExchangeFailed,
		Data: map[string]interface{}{
			"session_id": sessionID.String(),
			"mode":       mode,
			"reason":     reason,
		},
		OccurredAt: time.Now(),
	}
}

// NewSessionPruned records an explicit session deletion.
func NewSessionPruned(sessionID uuid.UUID, all bool) Event {
	return BaseEvent{
		Type: TypeSessionPruned,
		Data: map[string]interface{}{
			"session_id": sessionID.String(),
			"all":        all,
		},
		OccurredAt: time.Now(),
	}
}
