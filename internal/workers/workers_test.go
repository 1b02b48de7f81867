package workers

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

type harness struct {
	in   chan protocol.Envelope
	out  chan protocol.Envelope
	done chan error
}

func startWorker(t *testing.T, w transport.Worker, init any) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		in:   make(chan protocol.Envelope, 16),
		out:  make(chan protocol.Envelope, 256),
		done: make(chan error, 1),
	}
	go func() {
		h.done <- w.Run(ctx, h.in, func(env protocol.Envelope) error {
			h.out <- env
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Errorf("worker did not stop")
		}
	})
	env, err := protocol.NewMessage(protocol.TypeInit, init)
	if err != nil {
		t.Fatalf("init message: %v", err)
	}
	h.in <- env
	return h
}

func (h *harness) send(t *testing.T, typ string, id uint64, scope string, payload any) {
	t.Helper()
	env, err := protocol.NewPush(typ, scope, payload)
	if err != nil {
		t.Fatalf("build %s: %v", typ, err)
	}
	env.ID = id
	h.in <- env
}

// waitFor returns the first outbound envelope matching pred.
func (h *harness) waitFor(t *testing.T, pred func(protocol.Envelope) bool) protocol.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-h.out:
			if pred(env) {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for envelope")
			return protocol.Envelope{}
		}
	}
}

func (h *harness) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-h.out:
		return env
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

func (h *harness) reply(t *testing.T, id uint64) protocol.Envelope {
	t.Helper()
	return h.waitFor(t, func(env protocol.Envelope) bool { return env.IsReply() && env.ID == id })
}

func ofType(typ string) func(protocol.Envelope) bool {
	return func(env protocol.Envelope) bool { return env.Type == typ }
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	v, err := protocol.Decode[T](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestKindsRegistry(t *testing.T) {
	want := []string{"devices", "image", "metrics", "search", "t1", "t2", "t3"}
	if got := Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	k, ok := Lookup(" Image ")
	if !ok || k.FaultChannel != protocol.ChannelImageError {
		t.Fatalf("Lookup(image) = %+v, %v", k, ok)
	}
	if ch, ok := k.Channel(protocol.TypeCompleted); !ok || ch != protocol.ChannelImageCompleted {
		t.Fatalf("image route = %q, %v", ch, ok)
	}
	if k, _ := Lookup("devices"); k.SignalsReady {
		t.Fatalf("devices should not signal ready")
	}
	if _, err := Factory("nope"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoopShutdownReturnsNil(t *testing.T) {
	h := startWorker(t, newImageWorker(), protocol.ImageInit{})
	if env := h.next(t); env.Type != protocol.TypeReady {
		t.Fatalf("first message = %q, want ready", env.Type)
	}
	h.send(t, protocol.TypeShutdown, 0, "", nil)
	select {
	case err := <-h.done:
		h.done <- err
		if err != nil {
			t.Fatalf("Run returned %v after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit on shutdown")
	}
}

func TestLoopUnknownTypeRepliesError(t *testing.T) {
	h := startWorker(t, newImageWorker(), protocol.ImageInit{})
	h.send(t, "bogus", 7, "", nil)
	env := h.reply(t, 7)
	if env.Type != protocol.TypeRPCError || env.Error == "" {
		t.Fatalf("reply = %+v, want rpcError", env)
	}
	h.send(t, "bogus", 0, "", nil)
	fault := h.waitFor(t, ofType(protocol.TypeError))
	if fault.Error == "" {
		t.Fatalf("fault without message")
	}
}

type panicHandler struct{}

func (panicHandler) init(context.Context, json.RawMessage, transport.Emitter) error { return nil }
func (panicHandler) handle(context.Context, protocol.Envelope, transport.Emitter) (any, error) {
	panic("boom")
}
func (panicHandler) shutdown(transport.Emitter) {}

func TestLoopRecoversHandlerPanic(t *testing.T) {
	h := startWorker(t, loop{h: panicHandler{}}, nil)
	h.send(t, "explode", 3, "", nil)
	env := h.reply(t, 3)
	if env.Type != protocol.TypeRPCError {
		t.Fatalf("reply = %+v, want rpcError", env)
	}
	h.send(t, "explode", 4, "", nil)
	if env := h.reply(t, 4); env.Type != protocol.TypeRPCError {
		t.Fatalf("worker did not survive panic: %+v", env)
	}
}

func TestInitFailureEndsRun(t *testing.T) {
	w := newSearchWorker()
	in := make(chan protocol.Envelope, 1)
	in <- protocol.Envelope{Type: protocol.TypeInit, Payload: json.RawMessage(`{"dbPath":`)}
	err := w.Run(context.Background(), in, func(protocol.Envelope) error { return nil })
	if err == nil {
		t.Fatalf("expected init error")
	}
}

func TestMetricsSnapshotAndTicks(t *testing.T) {
	calls := 0
	sample := func() (protocol.MetricsSnapshot, error) {
		calls++
		return protocol.MetricsSnapshot{TS: int64(calls), CPULoad: 0.5, RAMUsedMB: 512}, nil
	}
	h := startWorker(t, newMetricsWorker(sample), protocol.MetricsInit{IntervalMs: 1000})
	h.waitFor(t, ofType(protocol.TypeReady))

	h.send(t, protocol.TypeGetSnapshot, 1, "", nil)
	snap := decode[protocol.MetricsSnapshot](t, h.reply(t, 1).Result)
	if snap.RAMUsedMB != 512 || snap.CPULoad != 0.5 {
		t.Fatalf("snapshot = %+v", snap)
	}

	h.send(t, protocol.TypeStartMonitoring, 2, "dashboard:1", protocol.StartMonitoring{IntervalMs: 120})
	if env := h.reply(t, 2); env.Type != protocol.TypeRPCResult {
		t.Fatalf("startMonitoring reply = %+v", env)
	}
	tick := h.waitFor(t, ofType(protocol.TypeTick))
	if tick.Scope != "dashboard:1" || tick.ID != 0 {
		t.Fatalf("tick = %+v, want scoped push", tick)
	}

	h.send(t, protocol.TypeStopMonitoring, 3, "", nil)
	h.reply(t, 3)
}

func TestMetricsIntervalFloor(t *testing.T) {
	w := &metricsWorker{interval: time.Second}
	w.setInterval(100)
	if w.interval != time.Second {
		t.Fatalf("interval changed to %v for 100ms", w.interval)
	}
	w.setInterval(250)
	if w.interval != 250*time.Millisecond {
		t.Fatalf("interval = %v, want 250ms", w.interval)
	}
}

func TestSearchIndexProgressAndQuery(t *testing.T) {
	h := startWorker(t, newSearchWorker(), protocol.SearchInit{DBPath: ":memory:", FuzzyDistance: 1, ProgressEvery: 2})
	h.waitFor(t, ofType(protocol.TypeReady))

	docs := []protocol.SearchDoc{
		{ID: "a", Text: "Árvíztűrő tükörfúrógép"},
		{ID: "b", Text: "quick brown fox"},
		{ID: "c", Text: "lazy brown dog"},
	}
	h.send(t, protocol.TypeIndexDocs, 1, "search:1", protocol.IndexDocs{Docs: docs})

	var progress []protocol.Progress
	for {
		env := h.next(t)
		if env.Type == protocol.TypeProgress {
			if env.Scope != "search:1" {
				t.Fatalf("progress scope = %q", env.Scope)
			}
			progress = append(progress, decode[protocol.Progress](t, env.Payload))
			continue
		}
		if env.Type != protocol.TypeIndexed {
			t.Fatalf("unexpected %q before indexed", env.Type)
		}
		if got := decode[protocol.Indexed](t, env.Payload); got.Count != 3 {
			t.Fatalf("indexed count = %d", got.Count)
		}
		break
	}
	want := []protocol.Progress{{Current: 1, Total: 3}, {Current: 3, Total: 3}}
	if !reflect.DeepEqual(progress, want) {
		t.Fatalf("progress = %+v, want %+v", progress, want)
	}
	if env := h.reply(t, 1); env.Type != protocol.TypeRPCResult {
		t.Fatalf("indexDocs reply = %+v", env)
	}

	cases := []struct {
		query string
		want  []string
	}{
		{"brown", []string{"b", "c"}},
		{"BROWN dog", []string{"c"}},
		{"arvizturo", []string{"a"}},
		{"browm", []string{"b", "c"}},
		{"cat", []string{}},
		{"  ", []string{}},
	}
	for i, tc := range cases {
		id := uint64(10 + i)
		h.send(t, protocol.TypeSearch, id, "", protocol.SearchQuery{Query: tc.query})
		env := h.reply(t, id)
		if env.Type != protocol.TypeRPCResult {
			t.Fatalf("search %q: %+v", tc.query, env)
		}
		if got := decode[[]string](t, env.Result); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("search %q = %v, want %v", tc.query, got, tc.want)
		}
	}

	h.send(t, protocol.TypeClear, 20, "", nil)
	indexed := h.waitFor(t, ofType(protocol.TypeIndexed))
	if got := decode[protocol.Indexed](t, indexed.Payload); got.Count != 0 {
		t.Fatalf("clear indexed = %d", got.Count)
	}
	h.reply(t, 20)
	h.send(t, protocol.TypeSearch, 21, "", protocol.SearchQuery{Query: "brown"})
	if got := decode[[]string](t, h.reply(t, 21).Result); len(got) != 0 {
		t.Fatalf("search after clear = %v", got)
	}
}

func TestTokenizeFoldsAccents(t *testing.T) {
	got := tokenize("Crème-Brûlée, 2x  ÉS")
	want := []string{"creme", "brulee", "2x", "es"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
}

func TestImageGenerateAndInvalidItem(t *testing.T) {
	h := startWorker(t, newImageWorker(), protocol.ImageInit{ThumbWidth: 64, ThumbHeight: 48})
	h.waitFor(t, ofType(protocol.TypeReady))

	h.send(t, protocol.TypeGenerate, 1, "gallery:2", protocol.Generate{Item: protocol.ImageItem{ID: "img1", Data: "abc"}})
	completed := h.next(t)
	if completed.Type != protocol.TypeCompleted || completed.Scope != "gallery:2" {
		t.Fatalf("first message = %+v, want scoped completed", completed)
	}
	thumb := decode[protocol.Thumbnail](t, h.reply(t, 1).Result)
	if thumb.Size != [2]int{64, 48} || thumb.Hash != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("thumbnail = %+v", thumb)
	}

	h.send(t, protocol.TypeGenerate, 2, "", protocol.Generate{Item: protocol.ImageItem{ID: "img2"}})
	fault := h.next(t)
	if fault.Type != protocol.TypeError || fault.Error != "invalid item for image generation" {
		t.Fatalf("fault = %+v", fault)
	}
	if env := h.next(t); env.Type != protocol.TypeRPCError || env.ID != 2 || env.Error != "invalid item" {
		t.Fatalf("reply = %+v", env)
	}

	h.send(t, protocol.TypeList, 3, "", nil)
	list := decode[[]protocol.Thumbnail](t, h.reply(t, 3).Result)
	if len(list) != 1 || list[0].ID != "img1" {
		t.Fatalf("list = %+v", list)
	}
}

func TestServiceLifecycleAndTimedPush(t *testing.T) {
	h := startWorker(t, newServiceWorker("t2"), protocol.ServiceInit{DelayMs: 10})
	started := h.next(t)
	if started.Type != protocol.TypeLifecycle {
		t.Fatalf("first message = %+v, want lifecycle", started)
	}
	if evt := decode[protocol.LifecycleEvent](t, started.Payload); evt.Kind != "t2" || evt.Status != protocol.StatusStarted {
		t.Fatalf("lifecycle = %+v", evt)
	}
	timed := decode[protocol.Timed](t, h.waitFor(t, ofType(protocol.TypeTimed)).Payload)
	if timed.Service != "t2" || timed.Info != "t2 timed push" {
		t.Fatalf("timed = %+v", timed)
	}

	h.send(t, protocol.TypeCommand, 1, "", protocol.Command{Command: "ping"})
	if got := decode[string](t, h.reply(t, 1).Result); got != "t2: ok, command received (ping)" {
		t.Fatalf("command reply = %q", got)
	}
	h.send(t, protocol.TypeRequest, 2, "", protocol.ServiceRequest{A: 5})
	if got := decode[string](t, h.reply(t, 2).Result); got != "t2: request received, a=5" {
		t.Fatalf("request reply = %q", got)
	}

	h.send(t, protocol.TypeShutdown, 0, "", nil)
	stopped := h.waitFor(t, ofType(protocol.TypeLifecycle))
	if evt := decode[protocol.LifecycleEvent](t, stopped.Payload); evt.Status != protocol.StatusStopped {
		t.Fatalf("lifecycle = %+v, want stopped", evt)
	}
}

func TestServiceErrorAnnouncesLifecycle(t *testing.T) {
	h := startWorker(t, newServiceWorker("t1"), protocol.ServiceInit{})
	h.waitFor(t, ofType(protocol.TypeLifecycle))
	h.send(t, "bogus", 4, "", nil)
	evt := decode[protocol.LifecycleEvent](t, h.waitFor(t, ofType(protocol.TypeLifecycle)).Payload)
	if evt.Status != protocol.StatusError || evt.Message == "" {
		t.Fatalf("lifecycle = %+v, want error", evt)
	}
	if env := h.reply(t, 4); env.Type != protocol.TypeRPCError {
		t.Fatalf("reply = %+v", env)
	}
}

type fakeUEvents struct {
	queue  chan netlink.UEvent
	ready  chan struct{}
	closed chan struct{}
}

func (f *fakeUEvents) Monitor(queue chan netlink.UEvent, _ chan error, _ netlink.Matcher) chan struct{} {
	f.queue = queue
	close(f.ready)
	return make(chan struct{})
}

func (f *fakeUEvents) Close() error {
	close(f.closed)
	return nil
}

func TestDevicesForwardsUEvents(t *testing.T) {
	src := &fakeUEvents{ready: make(chan struct{}), closed: make(chan struct{})}
	dial := func() (ueventSource, error) { return src, nil }
	h := startWorker(t, newDevicesWorker(dial), protocol.DevicesInit{Subsystems: []string{"usb"}})

	select {
	case <-src.ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("monitor not started")
	}
	src.queue <- netlink.UEvent{
		Action: netlink.ADD,
		KObj:   "/devices/usb1/1-1",
		Env:    map[string]string{"SUBSYSTEM": "usb", "DEVNAME": "bus/usb/001/002"},
	}
	env := h.waitFor(t, ofType(protocol.TypeChanged))
	evt := decode[protocol.DeviceEvent](t, env.Payload)
	if evt.Action != "add" || evt.Subsystem != "usb" || evt.DevPath != "/devices/usb1/1-1" {
		t.Fatalf("event = %+v", evt)
	}

	h.send(t, protocol.TypeListDevices, 1, "", nil)
	if list := decode[[]protocol.DeviceEvent](t, h.reply(t, 1).Result); len(list) != 1 {
		t.Fatalf("listDevices = %+v", list)
	}

	h.send(t, protocol.TypeShutdown, 0, "", nil)
	select {
	case <-src.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("netlink connection not closed on shutdown")
	}
}

func TestDevicesDialFailureIsNonFatal(t *testing.T) {
	dial := func() (ueventSource, error) { return nil, errors.New("permission denied") }
	h := startWorker(t, newDevicesWorker(dial), protocol.DevicesInit{Subsystems: []string{"block"}})
	if env := h.next(t); env.Type != protocol.TypeError {
		t.Fatalf("first message = %+v, want fault", env)
	}
	h.send(t, protocol.TypeListDevices, 1, "", nil)
	if env := h.reply(t, 1); env.Type != protocol.TypeRPCResult {
		t.Fatalf("listDevices after dial failure = %+v", env)
	}
}
