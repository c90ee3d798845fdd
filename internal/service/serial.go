package service

import (
	"context"

	"github.com/law4percent/Chick-Up/internal/store"
)

// serializer runs callbacks from several store subscriptions on one goroutine
// so combined state needs no lock and consumers see one callback at a time.
type serializer struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
}

func newSerializer(ctx context.Context) *serializer {
	ctx, cancel := context.WithCancel(ctx)
	return &serializer{ctx: ctx, cancel: cancel, events: make(chan func(), 16)}
}

func (z *serializer) post(fn func()) {
	select {
	case z.events <- fn:
	case <-z.ctx.Done():
	}
}

// run delivers events until sub is closed or the context ends
func (z *serializer) run(sub *store.Subscription) {
	defer z.cancel()
	for {
		select {
		case <-z.ctx.Done():
			return
		case <-sub.Closing():
			return
		case fn := <-z.events:
			if sub.Closed() {
				return
			}
			fn()
		}
	}
}
