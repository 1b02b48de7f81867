package workers

import (
	"fmt"
	"sort"
	"strings"

	"workerhub/internal/config"
	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

// Kind describes one worker kind.
type Kind struct {
	Name string
	// SignalsReady is false for kinds that never announce readiness; the
	// supervisor treats them as running as soon as init is sent.
	SignalsReady bool
	// Routes maps outbound push types to the channel they are delivered on.
	Routes map[string]string
	// FaultChannel, when set, also receives the kind's non-fatal error reports.
	FaultChannel string
	// Init builds the init payload from configuration.
	Init func(cfg *config.Config) any
	// New returns a fresh worker instance.
	New func() transport.Worker
}

// Channel returns the push channel for an outbound type.
func (k Kind) Channel(msgType string) (string, bool) {
	ch, ok := k.Routes[msgType]
	return ch, ok
}

var kinds = map[string]Kind{}

func register(k Kind) {
	if _, exists := kinds[k.Name]; exists {
		panic(fmt.Sprintf("workers: kind %q registered twice", k.Name))
	}
	kinds[k.Name] = k
}

func init() {
	register(Kind{
		Name:         "metrics",
		SignalsReady: true,
		Routes:       map[string]string{protocol.TypeTick: protocol.ChannelMetricsTick},
		Init: func(cfg *config.Config) any {
			return protocol.MetricsInit{IntervalMs: cfg.Metrics.IntervalMs}
		},
		New: func() transport.Worker { return newMetricsWorker(sampleHost) },
	})
	register(Kind{
		Name:         "search",
		SignalsReady: true,
		Routes: map[string]string{
			protocol.TypeIndexed:  protocol.ChannelSearchIndexed,
			protocol.TypeProgress: protocol.ChannelSearchProgress,
		},
		Init: func(cfg *config.Config) any {
			return protocol.SearchInit{
				DBPath:        cfg.Search.DBPath,
				FuzzyDistance: cfg.Search.FuzzyDistance,
				ProgressEvery: cfg.Search.ProgressEvery,
			}
		},
		New: func() transport.Worker { return newSearchWorker() },
	})
	register(Kind{
		Name:         "image",
		SignalsReady: true,
		Routes:       map[string]string{protocol.TypeCompleted: protocol.ChannelImageCompleted},
		FaultChannel: protocol.ChannelImageError,
		Init: func(cfg *config.Config) any {
			return protocol.ImageInit{
				ThumbWidth:  cfg.Image.ThumbWidth,
				ThumbHeight: cfg.Image.ThumbHeight,
				DelayMs:     cfg.Image.DelayMs,
			}
		},
		New: func() transport.Worker { return newImageWorker() },
	})
	for _, name := range []string{"t1", "t2", "t3"} {
		register(Kind{
			Name:         name,
			SignalsReady: true,
			Routes:       map[string]string{protocol.TypeTimed: protocol.ChannelServiceTimed},
			Init: func(cfg *config.Config) any {
				return protocol.ServiceInit{DelayMs: cfg.Service.DelayMs}
			},
			New: func() transport.Worker { return newServiceWorker(name) },
		})
	}
	register(Kind{
		Name:   "devices",
		Routes: map[string]string{protocol.TypeChanged: protocol.ChannelDevicesChanged},
		Init: func(cfg *config.Config) any {
			return protocol.DevicesInit{Subsystems: cfg.Devices.Subsystems}
		},
		New: func() transport.Worker { return newDevicesWorker(dialNetlink) },
	})
}

// Lookup returns the kind registered under name.
func Lookup(name string) (Kind, bool) {
	k, ok := kinds[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// Names returns every registered kind name in sorted order.
func Names() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory builds workers by kind name for the transports.
func Factory(name string) (transport.Worker, error) {
	k, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown worker kind %q", name)
	}
	return k.New(), nil
}
