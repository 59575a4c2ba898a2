package api

import (
	"context"
	"time"

	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/supervisor"
	"github.com/opensqt/perpcore/pkg/liveserver"
)

// snapshotInterval is how often positions and equity are pushed to every
// connected WebSocket client even absent a triggering event, so a client
// that misses an event still converges within one interval.
const snapshotInterval = 5 * time.Second

// eventMsgType maps an eventbus event type to the WebSocket message tag it
// is broadcast under. Anything not listed here is dropped at the bridge:
// not every internal event is operator-facing.
var eventMsgType = map[string]string{
	"position_opened":        liveserver.TypeSignals,
	"entry_no_fill":          liveserver.TypeSignals,
	"position_closed":        liveserver.TypeSignals,
	"position_closed_manual": liveserver.TypeSignals,
	"position_hydrated":      liveserver.TypeSignals,
	"position_auto_closed":   liveserver.TypeSignals,
	"reconcile_drift":        liveserver.TypeHealth,
	"reconcile_ok":           liveserver.TypeHealth,
}

// broadcaster drains internal/eventbus.Bus into the WebSocket hub and pushes
// a periodic positions/equity snapshot (orders are not part of it), bridging the bus's
// pull-based Subscribe/Notify/Drain API onto the hub's push-based Broadcast.
type broadcaster struct {
	sup    *supervisor.Supervisor
	hub    *liveserver.Hub
	logger core.ILogger
}

func newBroadcaster(sup *supervisor.Supervisor, hub *liveserver.Hub, logger core.ILogger) *broadcaster {
	return &broadcaster{sup: sup, hub: hub, logger: logger.WithField("component", "broadcaster")}
}

func (b *broadcaster) run(ctx context.Context) {
	go b.hub.Run(ctx)
	go b.drainEvents(ctx)
	b.pushSnapshots(ctx)
}

func (b *broadcaster) drainEvents(ctx context.Context) {
	sub := b.sup.Events.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Notify():
			events, lossy := sub.Drain()
			if lossy {
				b.logger.Warn("event bridge dropped events under backpressure")
			}
			for _, evt := range events {
				msgType, ok := eventMsgType[evt.Type]
				if !ok {
					continue
				}
				b.hub.Broadcast(liveserver.NewMessage(msgType, evt.Data))
			}
		}
	}
}

func (b *broadcaster) pushSnapshots(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pushOnce(ctx)
		}
	}
}

func (b *broadcaster) pushOnce(ctx context.Context) {
	positions := make([]core.Position, 0, b.sup.Book.Count())
	for _, coin := range b.sup.Book.Coins() {
		if pos, open := b.sup.Book.Get(coin); open {
			positions = append(positions, pos)
		}
	}
	b.hub.Broadcast(liveserver.NewPositionsMessage(positions))

	equity, err := b.sup.Client.GetAccountEquity(ctx)
	if err != nil {
		b.logger.Warn("snapshot equity fetch failed", "error", err)
		return
	}
	b.hub.Broadcast(liveserver.NewEquityMessage(map[string]interface{}{"equity": equity}))
}
