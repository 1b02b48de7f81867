package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

const minMetricsInterval = 100 * time.Millisecond

type sampler func() (protocol.MetricsSnapshot, error)

type metricsWorker struct {
	sample sampler

	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func newMetricsWorker(sample sampler) transport.Worker {
	return loop{h: &metricsWorker{sample: sample, interval: time.Second}}
}

func (w *metricsWorker) init(_ context.Context, payload json.RawMessage, emit transport.Emitter) error {
	params, err := protocol.Decode[protocol.MetricsInit](payload)
	if err != nil {
		return err
	}
	w.setInterval(params.IntervalMs)
	return emit(protocol.Envelope{Type: protocol.TypeReady})
}

func (w *metricsWorker) handle(_ context.Context, env protocol.Envelope, emit transport.Emitter) (any, error) {
	switch env.Type {
	case protocol.TypeStartMonitoring:
		params, err := protocol.Decode[protocol.StartMonitoring](env.Payload)
		if err != nil {
			return nil, err
		}
		w.start(params.IntervalMs, env.Scope, emit)
		return true, nil
	case protocol.TypeStopMonitoring:
		w.halt()
		return true, nil
	case protocol.TypeGetSnapshot:
		return w.sample()
	default:
		return nil, unknownType(env)
	}
}

func (w *metricsWorker) shutdown(transport.Emitter) {
	w.halt()
}

// setInterval keeps the current interval unless ms exceeds the minimum.
func (w *metricsWorker) setInterval(ms int) {
	d := time.Duration(ms) * time.Millisecond
	if d <= minMetricsInterval {
		return
	}
	w.mu.Lock()
	w.interval = d
	w.mu.Unlock()
}

// start replaces any running ticker with a new one.
func (w *metricsWorker) start(ms int, scope string, emit transport.Emitter) {
	w.halt()
	w.setInterval(ms)

	w.mu.Lock()
	interval := w.interval
	stop := make(chan struct{})
	w.stop = stop
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				snap, err := w.sample()
				if err != nil {
					_ = emit(protocol.Fault(err.Error()))
					continue
				}
				if err := push(emit, protocol.TypeTick, scope, snap); err != nil {
					return
				}
			}
		}
	}()
}

func (w *metricsWorker) halt() {
	w.mu.Lock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
