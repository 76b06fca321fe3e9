package actor

import (
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
)

// healthRound collects one health answer per child. A child that does not
// answer in time is reported unhealthy by its own request.
type healthRound struct {
	respondTo *actor.PID
	pending   map[string]bool
	healthy   map[string]bool
	states    map[string]string
}

func newHealthRound(respondTo *actor.PID, ids ...string) *healthRound {
	r := &healthRound{
		respondTo: respondTo,
		pending:   make(map[string]bool, len(ids)),
		healthy:   make(map[string]bool, len(ids)),
		states:    make(map[string]string, len(ids)),
	}
	for _, id := range ids {
		r.pending[id] = true
	}
	return r
}

// record stores resp and reports whether every child has answered.
func (r *healthRound) record(resp domain.ActorHealthResponse) bool {
	if _, ok := r.pending[resp.Id]; ok {
		delete(r.pending, resp.Id)
		r.healthy[resp.Id] = resp.Healthy
		r.states[resp.Id] = resp.State
	}
	return len(r.pending) == 0
}

func (r *healthRound) allHealthy() bool {
	if len(r.pending) > 0 {
		return false
	}
	for _, ok := range r.healthy {
		if !ok {
			return false
		}
	}
	return true
}

func (r *healthRound) unhealthy() []string {
	var ids []string
	for id := range r.pending {
		ids = append(ids, id)
	}
	for id, ok := range r.healthy {
		if !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// requestHealth asks pid for its health and pipes the answer back to the
// calling actor.
func requestHealth(ctx actor.Context, pid *actor.PID, id string, timeout time.Duration) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, timeout), func(err error) any {
		return domain.ActorHealthResponse{Id: id, Healthy: false, State: err.Error()}
	})
}
