package transport

import (
	"context"
	"io"
	"sync"

	"workerhub/internal/protocol"
)

// Serve runs w on the worker side of a stream, decoding inbound envelopes from
// r and encoding outbound ones to wr. The inbound channel is closed when r
// reaches end of stream. Serve returns the worker's result.
func Serve(ctx context.Context, w Worker, codec Codec, r io.Reader, wr io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan protocol.Envelope, inprocBuffer)
	dec := codec.NewDecoder(r)
	go func() {
		defer close(in)
		for {
			var env protocol.Envelope
			if err := dec.Decode(&env); err != nil {
				return
			}
			select {
			case in <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	enc := codec.NewEncoder(wr)
	var mu sync.Mutex
	emit := func(env protocol.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(env)
	}
	return w.Run(ctx, in, emit)
}
