package engine

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"legal-qa-be/pkg/attach"
	"legal-qa-be/pkg/dispatch"
	"legal-qa-be/pkg/session"
)

// Engine bundles the per-user live state: the single-flight dispatcher,
// the session reconciler and the attachment pipeline. One engine exists
// per user; concurrent requests from the same user contend on the
// dispatcher's busy flag exactly like a second tab would.
type Engine struct {
	Dispatcher  *dispatch.Dispatcher
	Sessions    *session.Reconciler
	Attachments *attach.Pipeline
}

type Deps struct {
	Opener      dispatch.StreamOpener
	Publisher   message.Publisher
	Store       session.Store
	Extractor   attach.Extractor
	MaxSessions int
	MaxAttach   int
}

func New(userId uuid.UUID, deps Deps) *Engine {
	dispatcher := dispatch.NewDispatcher(deps.Opener, deps.Publisher)
	pipeline := attach.NewPipeline(deps.Extractor, attach.WithCapacity(deps.MaxAttach))
	reconciler := session.NewReconciler(deps.Store, userId,
		session.WithCapacity(deps.MaxSessions),
		// Switching sessions invalidates whatever the old one was doing:
		// the in-flight submission is abandoned and staged attachments
		// are released.
		session.WithOnSwitch(dispatcher.Abandon),
		session.WithOnSwitch(pipeline.Reset),
	)
	return &Engine{
		Dispatcher:  dispatcher,
		Sessions:    reconciler,
		Attachments: pipeline,
	}
}
