package workers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

var errInvalidItem = errors.New("invalid item")

type imageWorker struct {
	width  int
	height int
	delay  time.Duration
	thumbs map[string]protocol.Thumbnail
}

func newImageWorker() transport.Worker {
	return loop{h: &imageWorker{width: 160, height: 120, thumbs: make(map[string]protocol.Thumbnail)}}
}

func (w *imageWorker) init(_ context.Context, payload json.RawMessage, emit transport.Emitter) error {
	params, err := protocol.Decode[protocol.ImageInit](payload)
	if err != nil {
		return err
	}
	if params.ThumbWidth > 0 && params.ThumbHeight > 0 {
		w.width, w.height = params.ThumbWidth, params.ThumbHeight
	}
	w.delay = time.Duration(max(params.DelayMs, 0)) * time.Millisecond
	return emit(protocol.Envelope{Type: protocol.TypeReady})
}

func (w *imageWorker) handle(ctx context.Context, env protocol.Envelope, emit transport.Emitter) (any, error) {
	switch env.Type {
	case protocol.TypeGenerate:
		params, err := protocol.Decode[protocol.Generate](env.Payload)
		if err != nil {
			return nil, err
		}
		return w.generate(ctx, params.Item, env.Scope, emit)
	case protocol.TypeList:
		out := make([]protocol.Thumbnail, 0, len(w.thumbs))
		for _, thumb := range w.thumbs {
			out = append(out, thumb)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	case protocol.TypeClear:
		clear(w.thumbs)
		return true, nil
	default:
		return nil, unknownType(env)
	}
}

func (w *imageWorker) generate(ctx context.Context, item protocol.ImageItem, scope string, emit transport.Emitter) (protocol.Thumbnail, error) {
	if strings.TrimSpace(item.ID) == "" || item.Data == "" {
		return protocol.Thumbnail{}, errInvalidItem
	}
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return protocol.Thumbnail{}, ctx.Err()
		}
	}
	sum := md5.Sum([]byte(item.Data))
	thumb := protocol.Thumbnail{
		ID:   item.ID,
		Size: [2]int{w.width, w.height},
		Hash: hex.EncodeToString(sum[:]),
	}
	w.thumbs[item.ID] = thumb
	if err := push(emit, protocol.TypeCompleted, scope, protocol.Completed{ID: item.ID, Thumb: thumb}); err != nil {
		return protocol.Thumbnail{}, err
	}
	return thumb, nil
}

// reportError announces invalid items as a fault so they reach the error channel.
func (w *imageWorker) reportError(err error, emit transport.Emitter) {
	if errors.Is(err, errInvalidItem) {
		_ = emit(protocol.Fault("invalid item for image generation"))
	}
}

func (w *imageWorker) shutdown(transport.Emitter) {}
