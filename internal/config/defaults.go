package config

// MemoryDB selects an in-memory search index.
const MemoryDB = ":memory:"

const (
	defaultStateDir            = "~/.local/share/workerhub"
	defaultLogDir              = "~/.local/share/workerhub/logs"
	defaultSocketName          = "workerhub.sock"
	defaultTransport           = "inproc"
	defaultCodec               = "json"
	defaultGraceTimeoutMs      = 1000
	defaultCallTimeoutMs       = 30000
	defaultMetricsIntervalMs   = 1000
	defaultSearchFuzzyDistance = 1
	defaultSearchProgressEvery = 50
	defaultThumbWidth          = 160
	defaultThumbHeight         = 120
	defaultImageDelayMs        = 50
	defaultServiceDelayMs      = 1000
	defaultMailboxCapacity     = 256
	defaultSessionIdleSeconds  = 120
	defaultSessionReapSeconds  = 30
	defaultNotifyTimeout       = 10
	defaultNotifyMinSeverity   = "warning"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Workers: Workers{
			Transport:           defaultTransport,
			Codec:               defaultCodec,
			GraceTimeoutMs:      defaultGraceTimeoutMs,
			CallTimeoutMs:       defaultCallTimeoutMs,
			RejectPendingOnExit: true,
		},
		Metrics: Metrics{
			IntervalMs: defaultMetricsIntervalMs,
		},
		Search: Search{
			DBPath:        MemoryDB,
			FuzzyDistance: defaultSearchFuzzyDistance,
			ProgressEvery: defaultSearchProgressEvery,
		},
		Image: Image{
			ThumbWidth:  defaultThumbWidth,
			ThumbHeight: defaultThumbHeight,
			DelayMs:     defaultImageDelayMs,
		},
		Service: Service{
			DelayMs: defaultServiceDelayMs,
		},
		Devices: Devices{
			Subsystems: []string{"block", "usb"},
		},
		Sessions: Sessions{
			MailboxCapacity:     defaultMailboxCapacity,
			IdleTimeoutSeconds:  defaultSessionIdleSeconds,
			ReapIntervalSeconds: defaultSessionReapSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			MinSeverity:    defaultNotifyMinSeverity,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
