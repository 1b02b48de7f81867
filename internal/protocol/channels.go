package protocol

import (
	"strconv"
	"strings"
)

// Push channel identifiers. Channels are namespaced by worker kind except for
// the two shared channels.
const (
	ChannelToast     = "ui/toast"
	ChannelLifecycle = "workers/lifecycle"

	ChannelMetricsTick = "metrics/tick"

	ChannelSearchIndexed  = "search/indexed"
	ChannelSearchProgress = "search/progress"

	ChannelImageCompleted = "image/completed"
	ChannelImageError     = "image/error"

	ChannelServiceTimed = "service/timed"

	ChannelDevicesChanged = "devices/changed"
)

// Channels lists every push channel a display target may subscribe to.
func Channels() []string {
	return []string{
		ChannelToast,
		ChannelLifecycle,
		ChannelMetricsTick,
		ChannelSearchIndexed,
		ChannelSearchProgress,
		ChannelImageCompleted,
		ChannelImageError,
		ChannelServiceTimed,
		ChannelDevicesChanged,
	}
}

// KnownChannel reports whether name is one of the defined push channels.
func KnownChannel(name string) bool {
	for _, ch := range Channels() {
		if ch == name {
			return true
		}
	}
	return false
}

// Scope builds a scope string following the "<view>:<instance>" convention.
func Scope(view string, instance int) string {
	return view + ":" + strconv.Itoa(instance)
}

// SplitScope parses a "<view>:<instance>" scope. Scopes are opaque to the
// registry; this is a convenience for callers that follow the convention.
func SplitScope(scope string) (view string, instance int, ok bool) {
	idx := strings.LastIndexByte(scope, ':')
	if idx <= 0 || idx == len(scope)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(scope[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return scope[:idx], n, true
}
