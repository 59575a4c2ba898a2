package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/opensqt/perpcore/internal/core"
)

// DurableWorkflow wraps steps 6-11 of Dispatch as individually-retried DBOS
// steps inside one durable workflow: once a step commits, a process crash
// resumes from the step after it rather than replaying side effects.
type DurableWorkflow struct {
	d *Dispatcher
}

func NewDurableWorkflow(d *Dispatcher) *DurableWorkflow {
	return &DurableWorkflow{d: d}
}

// dispatchInput is what DBOS persists as the workflow's durable input; it
// must be a plain value (no interfaces) to round-trip through the DBOS
// system database.
type dispatchInput struct {
	req      Request
	alertID  string
	signalID int64
	policy   InstrumentPolicy
	intent   core.OrderIntent
}

// Run executes steps 6 through 11 as a DBOS workflow. Steps 1-5 (gating,
// serialization, idempotency, intent derivation, risk check) run before
// this is invoked, outside the workflow, since they are cheap local checks
// that don't need crash recovery.
func (w *DurableWorkflow) Run(ctx dbos.DBOSContext, input any) (any, error) {
	in := input.(dispatchInput)
	d := w.d

	// Step 6: leverage sync.
	_, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		if err := d.client.SetLeverage(stepCtx, in.req.Coin, in.req.Leverage, in.req.IsCross); err != nil {
			d.logger.Warn("leverage sync failed", "coin", in.req.Coin, "error", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	// Step 7: entry.
	posRaw, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return d.placeEntry(stepCtx, in)
	})
	if err != nil {
		return nil, err
	}
	pos := posRaw.(core.Position)

	// Step 8: stop-loss (critical).
	posRaw, err = ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return d.protectWithStopLoss(stepCtx, in, pos)
	})
	if err != nil {
		return nil, err
	}
	pos = posRaw.(core.Position)

	// Step 9: take-profits (best-effort — failures inside this step are
	// logged, not propagated, so the workflow always reaches step 10).
	_, err = ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		d.placeTakeProfits(stepCtx, in, pos)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	// Steps 10-11: hydration reconcile and notify.
	_, err = ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		d.hydrateAndNotify(pos)
		return nil, nil
	})
	return pos, err
}

// DurableEngine runs Dispatch's steps 6-11 through DBOS for a caller that
// supplies a dbos.DBOSContext. No code in this module constructs one:
// app.engineType is validated by config but does not select this engine,
// and Dispatcher.Dispatch runs every step inline.
type DurableEngine struct {
	dbosCtx  dbos.DBOSContext
	workflow *DurableWorkflow
	logger   core.ILogger
}

func NewDurableEngine(dbosCtx dbos.DBOSContext, d *Dispatcher, logger core.ILogger) *DurableEngine {
	return &DurableEngine{
		dbosCtx:  dbosCtx,
		workflow: NewDurableWorkflow(d),
		logger:   logger.WithField("component", "dispatcher_durable_engine"),
	}
}

func (e *DurableEngine) Start() error {
	e.logger.Info("starting dispatcher durable engine")
	return e.dbosCtx.Launch()
}

func (e *DurableEngine) Stop() error {
	e.logger.Info("stopping dispatcher durable engine")
	e.dbosCtx.Shutdown(30 * time.Second)
	return nil
}

// RunSteps invokes the DBOS-backed continuation for an already
// gated/validated/priced dispatch.
func (e *DurableEngine) RunSteps(in dispatchInput) (core.Position, error) {
	handle, err := e.dbosCtx.RunWorkflow(e.dbosCtx, e.workflow.Run, in)
	if err != nil {
		return core.Position{}, fmt.Errorf("failed to start dispatch workflow: %w", err)
	}
	resultRaw, err := handle.GetResult()
	if err != nil {
		return core.Position{}, err
	}
	if resultRaw == nil {
		return core.Position{}, nil
	}
	return resultRaw.(core.Position), nil
}
