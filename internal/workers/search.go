package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

const defaultProgressEvery = 50

type searchWorker struct {
	index         *searchIndex
	fuzzyDistance int
	progressEvery int
}

func newSearchWorker() transport.Worker {
	return loop{h: &searchWorker{progressEvery: defaultProgressEvery}}
}

func (w *searchWorker) init(_ context.Context, payload json.RawMessage, emit transport.Emitter) error {
	params, err := protocol.Decode[protocol.SearchInit](payload)
	if err != nil {
		return err
	}
	if w.index != nil {
		_ = w.index.Close()
		w.index = nil
	}
	index, err := openSearchIndex(params.DBPath)
	if err != nil {
		return err
	}
	w.index = index
	w.fuzzyDistance = max(params.FuzzyDistance, 0)
	if params.ProgressEvery > 0 {
		w.progressEvery = params.ProgressEvery
	}
	return emit(protocol.Envelope{Type: protocol.TypeReady})
}

func (w *searchWorker) handle(ctx context.Context, env protocol.Envelope, emit transport.Emitter) (any, error) {
	if w.index == nil {
		return nil, errors.New("search index not initialized")
	}
	switch env.Type {
	case protocol.TypeIndexDocs:
		params, err := protocol.Decode[protocol.IndexDocs](env.Payload)
		if err != nil {
			return nil, err
		}
		if err := w.indexDocs(ctx, params.Docs, env.Scope, emit); err != nil {
			return nil, err
		}
		return true, nil
	case protocol.TypeSearch:
		params, err := protocol.Decode[protocol.SearchQuery](env.Payload)
		if err != nil {
			return nil, err
		}
		return w.index.Search(ctx, params.Query, w.fuzzyDistance)
	case protocol.TypeClear:
		if err := w.index.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear index: %w", err)
		}
		if err := push(emit, protocol.TypeIndexed, env.Scope, protocol.Indexed{Count: 0}); err != nil {
			return nil, err
		}
		return true, nil
	default:
		return nil, unknownType(env)
	}
}

// indexDocs stores docs in order, pushing progress every progressEvery
// documents and once for the last one, then a final indexed count.
func (w *searchWorker) indexDocs(ctx context.Context, docs []protocol.SearchDoc, scope string, emit transport.Emitter) error {
	total := len(docs)
	for i, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return fmt.Errorf("document %d has no id", i)
		}
		if err := w.index.Add(ctx, doc.ID, doc.Text); err != nil {
			return err
		}
		if i%w.progressEvery == 0 || i == total-1 {
			if err := push(emit, protocol.TypeProgress, scope, protocol.Progress{Current: i + 1, Total: total}); err != nil {
				return err
			}
		}
	}
	return push(emit, protocol.TypeIndexed, scope, protocol.Indexed{Count: total})
}

func (w *searchWorker) shutdown(transport.Emitter) {
	if w.index != nil {
		_ = w.index.Close()
		w.index = nil
	}
}
