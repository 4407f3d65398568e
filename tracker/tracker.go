// Package tracker drives replication: it polls the contract's logs in block
// order and applies each event to the replica through the events package.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"metafusion/events"
	"metafusion/observability"
)

// LogSource is the chain surface the dispatcher polls. Implemented by
// chain.Client.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// Options tunes the dispatcher loop.
type Options struct {
	// StartBlock is the first block to scan on a fresh start.
	StartBlock uint64
	// BatchSize caps how many blocks one filter query spans.
	BatchSize uint64
	// Confirmations holds back the newest blocks to dodge short reorgs.
	Confirmations uint64
	// PollInterval is the idle wait between polling cycles.
	PollInterval time.Duration
}

// Dispatcher applies contract events to the replica in block order. It is
// the replica's single writer: events inside one cycle are handled strictly
// sequentially.
type Dispatcher struct {
	source  LogSource
	env     *events.Env
	log     *slog.Logger
	metrics *observability.TrackerMetrics

	next          uint64
	batch         uint64
	confirmations uint64
	interval      time.Duration
}

// NewDispatcher assembles a dispatcher. The block watermark lives in memory;
// a restart rescans from opts.StartBlock and relies on handler idempotence.
func NewDispatcher(source LogSource, env *events.Env, opts Options) *Dispatcher {
	if opts.BatchSize == 0 {
		opts.BatchSize = 2000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	logger := env.Log
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		source:        source,
		env:           env,
		log:           logger,
		metrics:       env.Metrics,
		next:          opts.StartBlock,
		batch:         opts.BatchSize,
		confirmations: opts.Confirmations,
		interval:      opts.PollInterval,
	}
}

// Run polls until the context is cancelled. Transient chain errors are
// logged and retried on the next tick; the loop only returns on shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("poll cycle failed", "error", err, "next_block", d.next)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain processes batches until the dispatcher catches up with the
// confirmed head.
func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		caughtUp, err := d.poll(ctx)
		if err != nil || caughtUp {
			return err
		}
	}
}

// poll processes at most one batch of blocks. It reports true when there is
// nothing confirmed left to scan.
func (d *Dispatcher) poll(ctx context.Context) (bool, error) {
	head, err := d.source.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("tracker: head: %w", err)
	}
	if head < d.confirmations {
		return true, nil
	}
	target := head - d.confirmations
	if target < d.next {
		return true, nil
	}

	to := target
	if span := d.next + d.batch - 1; span < to {
		to = span
	}
	logs, err := d.source.Logs(ctx, d.next, to)
	if err != nil {
		return false, fmt.Errorf("tracker: logs: %w", err)
	}
	for _, lg := range logs {
		d.handle(ctx, lg)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}

	d.next = to + 1
	d.metrics.RecordPollCycle(to)
	return to == target, nil
}

// handle applies one log. A failing handler is logged with the full decoded
// payload and skipped, so a single poison event cannot stall replication.
func (d *Dispatcher) handle(ctx context.Context, lg types.Log) {
	ev, err := events.Decode(lg)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEvent) {
			d.log.Warn("unknown event skipped", "block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "error", err)
			return
		}
		d.log.Error("undecodable log", "block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "error", err)
		return
	}

	start := time.Now()
	err = ev.Handle(ctx, d.env)
	d.metrics.ObserveEvent(ev.Name(), time.Since(start), err)
	if err != nil {
		d.log.Error("event handler failed",
			"event", ev.Name(),
			"payload", fmt.Sprintf("%+v", ev),
			"block", lg.BlockNumber,
			"tx", lg.TxHash.Hex(),
			"error", err)
		return
	}
	d.log.Debug("event applied", "event", ev.Name(), "block", lg.BlockNumber, "tx", lg.TxHash.Hex())
}

// Next exposes the in-memory watermark for tests and status reporting.
func (d *Dispatcher) Next() uint64 { return d.next }
