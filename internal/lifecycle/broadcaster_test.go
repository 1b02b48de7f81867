package lifecycle_test

import (
	"context"
	"sync"
	"testing"

	"workerhub/internal/lifecycle"
	"workerhub/internal/logging"
	"workerhub/internal/protocol"
	"workerhub/internal/push"
)

type delivery struct {
	channel string
	payload any
}

type target struct {
	id    string
	alive bool

	mu  sync.Mutex
	got []delivery
}

func (t *target) ID() string  { return t.id }
func (t *target) Alive() bool { return t.alive }
func (t *target) Deliver(channel string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.got = append(t.got, delivery{channel, payload})
	return nil
}

func (t *target) channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.got))
	for i, d := range t.got {
		out[i] = d.channel
	}
	return out
}

type targets struct {
	all     []*target
	primary *target
}

func (ts targets) Destinations() []push.Destination {
	out := make([]push.Destination, 0, len(ts.all))
	for _, t := range ts.all {
		out = append(out, t)
	}
	return out
}

func (ts targets) PrimaryDestination() (push.Destination, bool) {
	if ts.primary == nil {
		return nil, false
	}
	return ts.primary, true
}

type notifier struct {
	mu     sync.Mutex
	toasts []protocol.Toast
}

func (n *notifier) NotifyToast(_ context.Context, t protocol.Toast) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, t)
	return nil
}

func (n *notifier) TestNotification(context.Context) error { return nil }

func TestPublishReachesAllTargetsAndToastsPrimaryOnly(t *testing.T) {
	main := &target{id: "main", alive: true}
	side := &target{id: "side", alive: true}
	dead := &target{id: "dead", alive: false}
	n := &notifier{}
	b := lifecycle.New(targets{all: []*target{main, side, dead}, primary: main}, n, logging.NewNop())

	b.Publish(protocol.LifecycleEvent{Kind: "metrics", Status: protocol.StatusStarted})
	b.Wait()

	if got := main.channels(); len(got) != 2 || got[0] != protocol.ChannelLifecycle || got[1] != protocol.ChannelToast {
		t.Fatalf("primary deliveries = %v", got)
	}
	if got := side.channels(); len(got) != 1 || got[0] != protocol.ChannelLifecycle {
		t.Fatalf("secondary deliveries = %v", got)
	}
	if got := dead.channels(); len(got) != 0 {
		t.Fatalf("dead target received %v", got)
	}
	toast := main.got[1].payload.(protocol.Toast)
	if toast.Message != "Metrics worker ready" || toast.Severity != protocol.SeveritySuccess || toast.TimeoutMs == 0 {
		t.Fatalf("toast = %+v", toast)
	}
	if len(n.toasts) != 1 {
		t.Fatalf("mirrored toasts = %d", len(n.toasts))
	}
}

func TestPublishWithoutPrimaryStillBroadcasts(t *testing.T) {
	side := &target{id: "side", alive: true}
	b := lifecycle.New(targets{all: []*target{side}}, nil, logging.NewNop())
	b.Publish(protocol.LifecycleEvent{Kind: "search", Status: protocol.StatusStopped})
	if got := side.channels(); len(got) != 1 || got[0] != protocol.ChannelLifecycle {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestOnLifecycleFiltersByKindAndCancels(t *testing.T) {
	b := lifecycle.New(targets{}, nil, logging.NewNop())
	var image, all int
	cancelImage := b.OnLifecycle("image", func(protocol.LifecycleEvent) { image++ })
	b.OnLifecycle("", func(protocol.LifecycleEvent) { all++ })

	b.Publish(protocol.LifecycleEvent{Kind: "image", Status: protocol.StatusStarted})
	b.Publish(protocol.LifecycleEvent{Kind: "t1", Status: protocol.StatusStarted})
	cancelImage()
	b.Publish(protocol.LifecycleEvent{Kind: "image", Status: protocol.StatusStopped})

	if image != 1 || all != 3 {
		t.Fatalf("image listener = %d, all listener = %d", image, all)
	}
}

func TestFormatToast(t *testing.T) {
	tests := []struct {
		evt      protocol.LifecycleEvent
		severity protocol.Severity
		message  string
	}{
		{protocol.LifecycleEvent{Kind: "t2", Status: protocol.StatusStarted}, protocol.SeveritySuccess, "T2 worker ready"},
		{protocol.LifecycleEvent{Kind: "search", Status: protocol.StatusStopped}, protocol.SeverityInfo, "Search worker stopped"},
		{protocol.LifecycleEvent{Kind: "image", Status: protocol.StatusStopped, Message: "grace timeout"}, protocol.SeverityInfo, "Image worker stopped (grace timeout)"},
		{protocol.LifecycleEvent{Kind: "devices", Status: protocol.StatusError, Message: "exited with code 1"}, protocol.SeverityError, "Devices worker error: exited with code 1"},
	}
	for _, tc := range tests {
		got := lifecycle.FormatToast(tc.evt)
		if got.Severity != tc.severity || got.Message != tc.message {
			t.Fatalf("FormatToast(%+v) = %+v", tc.evt, got)
		}
	}
}
