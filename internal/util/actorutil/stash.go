package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash defers messages an actor cannot handle in its current behavior.
// Replayed messages keep their original sender so Respond still works.
type Stash struct {
	envelopes []actor.MessageEnvelope
}

func (s *Stash) Stash(ctx actor.Context, msg any) {
	s.envelopes = append(s.envelopes, actor.MessageEnvelope{Message: msg, Sender: ctx.Sender()})
}

func (s *Stash) Len() int {
	return len(s.envelopes)
}

func (s *Stash) UnstashAll(ctx actor.Context) {
	pending := s.envelopes
	s.envelopes = nil
	for _, env := range pending {
		replay(ctx, env)
	}
}

func (s *Stash) UnstashOldest(ctx actor.Context) {
	if len(s.envelopes) == 0 {
		return
	}
	env := s.envelopes[0]
	s.envelopes = s.envelopes[1:]
	replay(ctx, env)
}

func replay(ctx actor.Context, env actor.MessageEnvelope) {
	ctx.RequestWithCustomSender(ctx.Self(), env.Message, env.Sender)
}
