package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"example.com/guestlist/internal/telemetry"
)

// Sink receives batches of events from the dispatcher worker.
type Sink interface {
	Deliver(ctx context.Context, batch []Event) error
}

// Dispatcher decouples writers from sinks with a bounded queue drained in
// small batches by a single worker.
type Dispatcher struct {
	queue        chan Event
	sinks        []Sink
	nodeID       string
	batchMaxSize int
	batchMaxWait time.Duration
	log          zerolog.Logger
	metrics      *telemetry.Metrics
}

func NewDispatcher(nodeID string, queueMaxSize, batchMaxSize int, batchMaxWait time.Duration,
	log zerolog.Logger, metrics *telemetry.Metrics, sinks ...Sink) *Dispatcher {
	if batchMaxSize <= 0 {
		batchMaxSize = 1
	}
	if batchMaxWait <= 0 {
		batchMaxWait = 10 * time.Millisecond
	}
	return &Dispatcher{
		queue:        make(chan Event, queueMaxSize),
		sinks:        sinks,
		nodeID:       nodeID,
		batchMaxSize: batchMaxSize,
		batchMaxWait: batchMaxWait,
		log:          log.With().Str("component", "dispatcher").Logger(),
		metrics:      metrics,
	}
}

// Publish enqueues ev and never blocks. A full queue drops the event and
// reports false.
func (d *Dispatcher) Publish(ev Event) bool {
	if ev.Origin == "" {
		ev.Origin = d.nodeID
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.metrics.EventDropped("queue_full")
		d.log.Warn().Str("type", string(ev.Type)).Str("list_id", ev.ListID).Msg("event queue full, dropping event")
		return false
	}
}

// Run drains the queue until ctx is done, then flushes what is already
// queued and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	batch := make([]Event, 0, d.batchMaxSize)
	t := time.NewTimer(d.batchMaxWait)
	defer t.Stop()

	resetTimer := func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(d.batchMaxWait)
	}

	// Sinks get a fresh context so the final flush after shutdown still
	// reaches them.
	flush := func() {
		if len(batch) == 0 {
			resetTimer()
			return
		}
		sinkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, s := range d.sinks {
			if err := s.Deliver(sinkCtx, batch); err != nil {
				d.log.Error().Err(err).Int("size", len(batch)).Msg("sink delivery failed")
			}
		}
		cancel()
		batch = batch[:0]
		resetTimer()
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					batch = append(batch, ev)
					if len(batch) >= d.batchMaxSize {
						flush()
					}
				default:
					flush()
					return nil
				}
			}
		case ev := <-d.queue:
			batch = append(batch, ev)
			if len(batch) >= d.batchMaxSize {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}
