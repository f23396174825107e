// Package analytics ships click outcome events to an external sink without
// ever blocking or failing the tracking request.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/radiusdt/vector-adserver/internal/metrics"
	"go.uber.org/zap"
)

// Event is one click outcome. Action carries the billing message or the
// rejection reason; Value is the flight's click cost in cents, whether or
// not the click billed.
type Event struct {
	ID        string
	Category  string
	Action    string
	Label     string
	Value     int64
	ClientIP  string
	UserAgent string
	Referrer  string
	Timestamp time.Time
}

// Sink delivers events to an analytics backend.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Dispatcher buffers events and delivers them from a background worker.
// Dispatch never blocks: when the buffer is full the event is dropped and
// counted. Sink failures are logged and counted, never surfaced to the
// tracking path.
type Dispatcher struct {
	sink    Sink
	events  chan Event
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its delivery worker.
func NewDispatcher(sink Sink, buffer int, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		events:  make(chan Event, buffer),
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch queues an event for delivery. Returns immediately.
func (d *Dispatcher) Dispatch(e Event) {
	select {
	case d.events <- e:
	default:
		d.logger.Warn("analytics buffer full, dropping event",
			zap.String("action", e.Action),
			zap.String("label", e.Label),
		)
		if d.metrics != nil {
			d.metrics.RecordAnalyticsEvent("dropped")
		}
	}
}

// Close drains the buffer, stops the worker and closes the sink.
func (d *Dispatcher) Close() error {
	close(d.events)
	d.wg.Wait()
	return d.sink.Close()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Send(ctx, e)
		cancel()

		if err != nil {
			d.logger.Error("failed to deliver analytics event",
				zap.String("action", e.Action),
				zap.String("label", e.Label),
				zap.Error(err),
			)
			if d.metrics != nil {
				d.metrics.RecordAnalyticsEvent("failed")
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.RecordAnalyticsEvent("sent")
		}
	}
}
