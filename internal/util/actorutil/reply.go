package actorutil

import (
	"github.com/berfenger/srne2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
)

// ReplyTarget is the explicit reply-to of req, or the sender of the current
// message when req carries none.
func ReplyTarget(ctx actor.Context, req domain.ActorRequest) *actor.PID {
	if ref := req.ReplyTo(); ref != nil {
		return (*actor.PID)(ref)
	}
	return ctx.Sender()
}

func Reply(ctx actor.Context, req domain.ActorRequest, resp domain.ActorResponse) {
	if ref := req.ReplyTo(); ref != nil {
		ctx.Send((*actor.PID)(ref), resp)
		return
	}
	ctx.Respond(resp)
}

// PipeToSelfWithRecover delivers the future's result to the actor itself.
// A failed future is turned into a message by mapFn.
func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			msg = mapFn(err)
		}
		ctx.Send(ctx.Self(), msg)
	})
}
