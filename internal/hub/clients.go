package hub

import (
	"context"
	"fmt"

	"workerhub/internal/protocol"
)

// call issues a request and decodes the reply into T.
func call[T any](ctx context.Context, h *Hub, kind, typ string, payload any, scope string) (T, error) {
	var zero T
	raw, err := h.Call(ctx, kind, typ, payload, scope)
	if err != nil {
		return zero, err
	}
	out, err := protocol.Decode[T](raw)
	if err != nil {
		return zero, fmt.Errorf("%s %s reply: %w", kind, typ, err)
	}
	return out, nil
}

// MetricsClient is the typed surface of the metrics worker.
type MetricsClient struct{ h *Hub }

// Metrics returns the metrics worker client.
func (h *Hub) Metrics() MetricsClient { return MetricsClient{h} }

// StartMonitoring begins tick pushes to scope every intervalMs.
func (c MetricsClient) StartMonitoring(ctx context.Context, intervalMs int, scope string) error {
	_, err := call[bool](ctx, c.h, "metrics", protocol.TypeStartMonitoring, protocol.StartMonitoring{IntervalMs: intervalMs}, scope)
	return err
}

// StopMonitoring halts tick pushes.
func (c MetricsClient) StopMonitoring(ctx context.Context) error {
	_, err := call[bool](ctx, c.h, "metrics", protocol.TypeStopMonitoring, nil, "")
	return err
}

// Snapshot samples host load once.
func (c MetricsClient) Snapshot(ctx context.Context) (protocol.MetricsSnapshot, error) {
	return call[protocol.MetricsSnapshot](ctx, c.h, "metrics", protocol.TypeGetSnapshot, nil, "")
}

// SearchClient is the typed surface of the search worker.
type SearchClient struct{ h *Hub }

// Search returns the search worker client.
func (h *Hub) Search() SearchClient { return SearchClient{h} }

// Index adds docs; progress and indexed pushes go to scope.
func (c SearchClient) Index(ctx context.Context, docs []protocol.SearchDoc, scope string) error {
	_, err := call[bool](ctx, c.h, "search", protocol.TypeIndexDocs, protocol.IndexDocs{Docs: docs}, scope)
	return err
}

// Query returns the sorted IDs of documents matching every query token.
func (c SearchClient) Query(ctx context.Context, query string) ([]string, error) {
	return call[[]string](ctx, c.h, "search", protocol.TypeSearch, protocol.SearchQuery{Query: query}, "")
}

// Clear empties the index.
func (c SearchClient) Clear(ctx context.Context, scope string) error {
	_, err := call[bool](ctx, c.h, "search", protocol.TypeClear, nil, scope)
	return err
}

// ImageClient is the typed surface of the image worker.
type ImageClient struct{ h *Hub }

// Image returns the image worker client.
func (h *Hub) Image() ImageClient { return ImageClient{h} }

// Generate builds a thumbnail for item; the completed push goes to scope.
func (c ImageClient) Generate(ctx context.Context, item protocol.ImageItem, scope string) (protocol.Thumbnail, error) {
	return call[protocol.Thumbnail](ctx, c.h, "image", protocol.TypeGenerate, protocol.Generate{Item: item}, scope)
}

// List returns generated thumbnails sorted by ID.
func (c ImageClient) List(ctx context.Context) ([]protocol.Thumbnail, error) {
	return call[[]protocol.Thumbnail](ctx, c.h, "image", protocol.TypeList, nil, "")
}

// Clear forgets generated thumbnails.
func (c ImageClient) Clear(ctx context.Context) error {
	_, err := call[bool](ctx, c.h, "image", protocol.TypeClear, nil, "")
	return err
}

// ServiceClient is the typed surface of a numbered service.
type ServiceClient struct {
	h    *Hub
	name string
}

// Service returns the client for the numbered service name (t1, t2 or t3).
func (h *Hub) Service(name string) ServiceClient { return ServiceClient{h: h, name: name} }

// Request sends a request carrying a.
func (c ServiceClient) Request(ctx context.Context, a any, scope string) (string, error) {
	return call[string](ctx, c.h, c.name, protocol.TypeRequest, protocol.ServiceRequest{A: a}, scope)
}

// Command sends a named command.
func (c ServiceClient) Command(ctx context.Context, command, scope string) (string, error) {
	return call[string](ctx, c.h, c.name, protocol.TypeCommand, protocol.Command{Command: command}, scope)
}

// DevicesClient is the typed surface of the devices worker.
type DevicesClient struct{ h *Hub }

// Devices returns the devices worker client.
func (h *Hub) Devices() DevicesClient { return DevicesClient{h} }

// Recent returns the most recent device events.
func (c DevicesClient) Recent(ctx context.Context) ([]protocol.DeviceEvent, error) {
	return call[[]protocol.DeviceEvent](ctx, c.h, "devices", protocol.TypeListDevices, nil, "")
}
