package transport_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"workerhub/internal/logging"
	"workerhub/internal/protocol"
	"workerhub/internal/transport"
	"workerhub/internal/workers"
)

const helperEnv = "WORKERHUB_TEST_WORKER"

// TestMain doubles as the worker executable when re-invoked by the process
// transport.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperWorker(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelperWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	kind := fs.String("kind", "", "")
	codecName := fs.String("codec", "json", "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	codec, err := transport.NewCodec(*codecName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	w, err := workers.Factory(*kind)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := transport.Serve(context.Background(), w, codec, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func spawnHelper(t *testing.T, codecName, kind string) transport.Conn {
	t.Helper()
	codec, err := transport.NewCodec(codecName)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	tr, err := transport.NewProcess(transport.ProcessOptions{
		Path:  os.Args[0],
		Args:  []string{},
		Env:   []string{helperEnv + "=1"},
		Codec: codec,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	conn, err := tr.Spawn(context.Background(), kind)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Kill()
		conn.Wait()
	})
	return conn
}

func next(t *testing.T, conn transport.Conn) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-conn.Messages():
		if !ok {
			t.Fatalf("messages closed unexpectedly")
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for worker message")
	}
	return protocol.Envelope{}
}

func TestProcessServiceRoundTrip(t *testing.T) {
	for _, codecName := range []string{"json", "msgpack"} {
		t.Run(codecName, func(t *testing.T) {
			conn := spawnHelper(t, codecName, "t3")

			init, _ := protocol.NewMessage(protocol.TypeInit, protocol.ServiceInit{})
			if err := conn.Send(context.Background(), init); err != nil {
				t.Fatalf("send init: %v", err)
			}
			if env := next(t, conn); env.Type != protocol.TypeLifecycle {
				t.Fatalf("first message = %+v, want lifecycle", env)
			}

			cmd, _ := protocol.NewMessage(protocol.TypeCommand, protocol.Command{Command: "reload"})
			cmd.ID = 9
			if err := conn.Send(context.Background(), cmd); err != nil {
				t.Fatalf("send command: %v", err)
			}
			reply := next(t, conn)
			if reply.Type != protocol.TypeRPCResult || reply.ID != 9 {
				t.Fatalf("reply = %+v", reply)
			}
			got, err := protocol.Decode[string](reply.Result)
			if err != nil || got != "t3: ok, command received (reload)" {
				t.Fatalf("reply result = %q, %v", got, err)
			}

			if err := conn.Send(context.Background(), protocol.Envelope{Type: protocol.TypeShutdown}); err != nil {
				t.Fatalf("send shutdown: %v", err)
			}
			if env := next(t, conn); env.Type != protocol.TypeLifecycle {
				t.Fatalf("message after shutdown = %+v", env)
			}
			if exit := conn.Wait(); !exit.Clean() {
				t.Fatalf("exit = %s, want clean", exit)
			}
			if err := conn.Send(context.Background(), cmd); err == nil {
				t.Fatalf("send after exit should fail")
			}
		})
	}
}

func TestProcessKillReportsKilled(t *testing.T) {
	conn := spawnHelper(t, "json", "image")
	init, _ := protocol.NewMessage(protocol.TypeInit, protocol.ImageInit{})
	if err := conn.Send(context.Background(), init); err != nil {
		t.Fatalf("send init: %v", err)
	}
	if env := next(t, conn); env.Type != protocol.TypeReady {
		t.Fatalf("first message = %+v, want ready", env)
	}
	if err := conn.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	exit := conn.Wait()
	if exit.Clean() {
		t.Fatalf("killed worker reported clean exit")
	}
	for range conn.Messages() {
	}
}
