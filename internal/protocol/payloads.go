package protocol

// Metrics message types.
const (
	TypeStartMonitoring = "startMonitoring"
	TypeStopMonitoring  = "stopMonitoring"
	TypeGetSnapshot     = "getSnapshot"
	TypeTick            = "tick"
)

// MetricsInit configures the metrics worker.
type MetricsInit struct {
	IntervalMs int `json:"intervalMs"`
}

// StartMonitoring begins periodic ticks. Intervals of 100ms or less keep the current interval.
type StartMonitoring struct {
	IntervalMs int `json:"intervalMs,omitempty"`
}

// MetricsSnapshot is one sample of host load.
type MetricsSnapshot struct {
	TS        int64   `json:"ts"`
	CPULoad   float64 `json:"cpuLoad"`
	RAMUsedMB uint64  `json:"ramUsedMB"`
}

// Search message types.
const (
	TypeIndexDocs = "indexDocs"
	TypeSearch    = "search"
	TypeClear     = "clear"
	TypeIndexed   = "indexed"
	TypeProgress  = "progress"
)

// SearchInit configures the search worker.
type SearchInit struct {
	DBPath        string `json:"dbPath"`
	FuzzyDistance int    `json:"fuzzyDistance"`
	ProgressEvery int    `json:"progressEvery"`
}

// SearchDoc is one indexed document.
type SearchDoc struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// IndexDocs adds documents to the index.
type IndexDocs struct {
	Docs []SearchDoc `json:"docs"`
}

// SearchQuery asks for documents containing every query token.
type SearchQuery struct {
	Query string `json:"query"`
}

// Indexed reports the number of documents added by the last index or clear.
type Indexed struct {
	Count int `json:"count"`
}

// Progress reports indexing progress.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Image message types.
const (
	TypeGenerate  = "generate"
	TypeList      = "list"
	TypeCompleted = "completed"
)

// ImageInit configures the thumbnail worker.
type ImageInit struct {
	ThumbWidth  int `json:"thumbWidth"`
	ThumbHeight int `json:"thumbHeight"`
	DelayMs     int `json:"delayMs"`
}

// ImageItem is the source of a thumbnail.
type ImageItem struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// Generate requests a thumbnail for Item.
type Generate struct {
	Item ImageItem `json:"item"`
}

// Thumbnail describes a generated thumbnail.
type Thumbnail struct {
	ID   string `json:"id"`
	Size [2]int `json:"size"`
	Hash string `json:"hash"`
}

// Completed is pushed when a thumbnail is ready.
type Completed struct {
	ID    string    `json:"id"`
	Thumb Thumbnail `json:"thumb"`
}

// Generic service message types.
const (
	TypeRequest = "request"
	TypeCommand = "command"
	TypeTimed   = "timed"
)

// ServiceInit configures a generic numbered service. A positive DelayMs
// schedules one timed push after init.
type ServiceInit struct {
	DelayMs int `json:"delayMs"`
}

// ServiceRequest is the request payload accepted by generic services.
type ServiceRequest struct {
	A any `json:"a"`
}

// Command is a named instruction for a generic service.
type Command struct {
	Command string `json:"command"`
}

// Timed is the delayed push emitted by generic services.
type Timed struct {
	Service string `json:"service"`
	Info    string `json:"info"`
}

// Device message types.
const (
	TypeListDevices = "listDevices"
	TypeChanged     = "changed"
)

// DevicesInit configures the udev watcher.
type DevicesInit struct {
	Subsystems []string `json:"subsystems"`
}

// DeviceEvent is one kernel device notification.
type DeviceEvent struct {
	Action    string `json:"action"`
	Subsystem string `json:"subsystem"`
	DevPath   string `json:"devpath"`
	DevName   string `json:"devname,omitempty"`
	TS        int64  `json:"ts"`
}
