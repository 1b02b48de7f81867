package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"workerhub/internal/protocol"
)

// echoWorker replies to every request and exits on shutdown.
type echoWorker struct {
	panicOn string
}

func (w echoWorker) Run(ctx context.Context, in <-chan protocol.Envelope, emit Emitter) error {
	if err := emit(protocol.Envelope{Type: protocol.TypeReady}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				return ErrClosed
			}
			switch env.Type {
			case protocol.TypeShutdown:
				return nil
			case w.panicOn:
				panic("boom")
			default:
				reply, _ := protocol.Reply(env.ID, env.Type)
				if err := emit(reply); err != nil {
					return err
				}
			}
		}
	}
}

func echoFactory(panicOn string) Factory {
	return func(kind string) (Worker, error) {
		if kind != "echo" {
			return nil, errors.New("unknown kind")
		}
		return echoWorker{panicOn: panicOn}, nil
	}
}

func recv(t *testing.T, conn Conn) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-conn.Messages():
		if !ok {
			t.Fatal("messages closed unexpectedly")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return protocol.Envelope{}
}

func TestInProcRoundTripAndCleanExit(t *testing.T) {
	tr := NewInProc(echoFactory(""))
	conn, err := tr.Spawn(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if env := recv(t, conn); env.Type != protocol.TypeReady {
		t.Fatalf("expected ready, got %+v", env)
	}
	if err := conn.Send(context.Background(), protocol.Envelope{Type: "ping", ID: 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply := recv(t, conn)
	if reply.Type != protocol.TypeRPCResult || reply.ID != 3 {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if err := conn.Send(context.Background(), protocol.Envelope{Type: protocol.TypeShutdown}); err != nil {
		t.Fatalf("Send shutdown: %v", err)
	}
	if exit := conn.Wait(); !exit.Clean() {
		t.Fatalf("expected clean exit, got %s", exit)
	}
	if _, ok := <-conn.Messages(); ok {
		t.Fatal("expected messages channel closed after exit")
	}
	if err := conn.Send(context.Background(), protocol.Envelope{Type: "ping"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after exit, got %v", err)
	}
}

func TestInProcSpawnUnknownKind(t *testing.T) {
	tr := NewInProc(echoFactory(""))
	if _, err := tr.Spawn(context.Background(), "nope"); err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestInProcPanicBecomesExitError(t *testing.T) {
	tr := NewInProc(echoFactory("explode"))
	conn, err := tr.Spawn(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	recv(t, conn)
	_ = conn.Send(context.Background(), protocol.Envelope{Type: "explode"})
	exit := conn.Wait()
	if exit.Clean() || exit.Err == nil || !strings.Contains(exit.Err.Error(), "panic") {
		t.Fatalf("expected panic exit, got %s", exit)
	}
}

func TestInProcKill(t *testing.T) {
	tr := NewInProc(echoFactory(""))
	conn, err := tr.Spawn(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := conn.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	exit := conn.Wait()
	if !errors.Is(exit.Err, ErrKilled) {
		t.Fatalf("expected killed exit, got %s", exit)
	}
}

func TestInProcOutlivesSpawnContext(t *testing.T) {
	tr := NewInProc(echoFactory(""))
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := tr.Spawn(ctx, "echo")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	cancel()
	recv(t, conn)
	if err := conn.Send(context.Background(), protocol.Envelope{Type: "ping", ID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply := recv(t, conn); reply.ID != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
	_ = conn.Kill()
	conn.Wait()
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}
			var buf bytes.Buffer
			enc := codec.NewEncoder(&buf)
			in := []protocol.Envelope{
				{Type: protocol.TypeInit, Payload: json.RawMessage(`{"delayMs":5}`)},
				{Type: protocol.TypeRPCResult, ID: 9, Result: json.RawMessage(`"ok"`)},
				{Type: protocol.TypeProgress, Scope: "search:1", Payload: json.RawMessage(`{"current":1,"total":2}`)},
			}
			for _, env := range in {
				if err := enc.Encode(env); err != nil {
					t.Fatalf("Encode: %v", err)
				}
			}
			dec := codec.NewDecoder(&buf)
			for i, want := range in {
				var got protocol.Envelope
				if err := dec.Decode(&got); err != nil {
					t.Fatalf("Decode %d: %v", i, err)
				}
				if got.Type != want.Type || got.ID != want.ID || got.Scope != want.Scope {
					t.Fatalf("envelope %d mismatch: got %+v want %+v", i, got, want)
				}
				if !bytes.Equal(bytes.TrimSpace(got.Payload), want.Payload) || !bytes.Equal(bytes.TrimSpace(got.Result), want.Result) {
					t.Fatalf("envelope %d body mismatch: got %+v", i, got)
				}
			}
			var extra protocol.Envelope
			if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
				t.Fatalf("expected io.EOF at end of stream, got %v", err)
			}
		})
	}
}

func TestMsgpackRejectsOversizedFrame(t *testing.T) {
	codec, _ := NewCodec("msgpack")
	dec := codec.NewDecoder(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	var env protocol.Envelope
	if err := dec.Decode(&env); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestNewCodecUnknown(t *testing.T) {
	if _, err := NewCodec("xml"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestServeStopsOnShutdown(t *testing.T) {
	codec, _ := NewCodec("json")
	var input bytes.Buffer
	enc := codec.NewEncoder(&input)
	_ = enc.Encode(protocol.Envelope{Type: "ping", ID: 1})
	_ = enc.Encode(protocol.Envelope{Type: protocol.TypeShutdown})

	var output bytes.Buffer
	if err := Serve(context.Background(), echoWorker{}, codec, &input, &output); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	dec := codec.NewDecoder(&output)
	var ready, reply protocol.Envelope
	if err := dec.Decode(&ready); err != nil || ready.Type != protocol.TypeReady {
		t.Fatalf("expected ready, got %+v (%v)", ready, err)
	}
	if err := dec.Decode(&reply); err != nil || reply.ID != 1 {
		t.Fatalf("expected reply to id 1, got %+v (%v)", reply, err)
	}
}

func TestServeReportsClosedInput(t *testing.T) {
	codec, _ := NewCodec("json")
	err := Serve(context.Background(), echoWorker{}, codec, strings.NewReader(""), io.Discard)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed when input ends, got %v", err)
	}
}

// stalledWorker never reads its inbox.
type stalledWorker struct{}

func (stalledWorker) Run(ctx context.Context, _ <-chan protocol.Envelope, _ Emitter) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInProcSendRespectsContextWhenInboxFull(t *testing.T) {
	tr := NewInProc(func(string) (Worker, error) { return stalledWorker{}, nil })
	conn, err := tr.Spawn(context.Background(), "stalled")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer func() {
		_ = conn.Kill()
		conn.Wait()
	}()

	for i := 0; i < inprocBuffer; i++ {
		if err := conn.Send(context.Background(), protocol.Envelope{Type: "ping"}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = conn.Send(ctx, protocol.Envelope{Type: "ping"})
	if !errors.Is(err, ErrFull) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrFull with deadline, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Send blocked for %s past its deadline", elapsed)
	}

	done, stop := context.WithCancel(context.Background())
	stop()
	if err := conn.Send(done, protocol.Envelope{Type: "ping"}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected non-blocking try to report ErrFull, got %v", err)
	}
}
