package notify

import (
	"context"
	"sync"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Async runs dispatches in the background so callers never wait on delivery.
type Async struct {
	next Notifier
	wg   sync.WaitGroup
}

func NewAsync(next Notifier) *Async {
	return &Async{next: next}
}

func (a *Async) Dispatch(ctx context.Context, ev Event) Report {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.next.Dispatch(ctx, ev)
	}()
	rep := Report{RecipientID: ev.RecipientID}
	for _, ch := range []string{model.ChannelInApp, model.ChannelEmail, model.ChannelSMS} {
		rep.Results = append(rep.Results, ChannelResult{Channel: ch, Outcome: OutcomeQueued})
	}
	return rep
}

// Wait blocks until every queued dispatch has finished. Used on shutdown.
func (a *Async) Wait() {
	a.wg.Wait()
}
