package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"workerhub/internal/ipc"
	"workerhub/internal/supervisor"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 14
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func workerStateKind(state supervisor.State) statusKind {
	switch state {
	case supervisor.StateRunning:
		return statusOK
	case supervisor.StateStarting, supervisor.StateStopping:
		return statusWarn
	default:
		return statusInfo
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderStatus formats the daemon status for the terminal.
func renderStatus(st *ipc.StatusResponse, now time.Time, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("Daemon", colorize) {
		b.WriteString(line + "\n")
	}
	if st.Running {
		b.WriteString(renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, up %s)", st.PID, strings.TrimSpace(humanize.RelTime(st.Started, now, "", ""))), colorize) + "\n")
	} else {
		b.WriteString(renderStatusLine("Daemon", statusWarn, "Not running", colorize) + "\n")
	}
	b.WriteString(renderStatusLine("Transport", statusInfo, st.Hub.Transport, colorize) + "\n")
	b.WriteString(renderStatusLine("Socket", statusInfo, st.SocketPath, colorize) + "\n")
	b.WriteString("\n")

	for _, line := range renderSectionHeader("Workers", colorize) {
		b.WriteString(line + "\n")
	}
	for _, w := range st.Hub.Workers {
		detail := string(w.State)
		if w.State != supervisor.StateAbsent {
			detail = fmt.Sprintf("%s since %s, %d pending", w.State, humanize.RelTime(w.Since, now, "ago", "from now"), w.Pending)
		}
		b.WriteString(renderStatusLine(w.Kind, workerStateKind(w.State), detail, colorize) + "\n")
	}

	if len(st.Hub.Sessions) > 0 {
		rows := make([][]string, 0, len(st.Hub.Sessions))
		for _, s := range st.Hub.Sessions {
			rows = append(rows, []string{
				s.ID,
				s.Label,
				yesNo(s.Primary),
				humanize.RelTime(s.LastSeen, now, "ago", "from now"),
				strconv.Itoa(s.Queued),
				humanize.Comma(int64(s.Dropped)),
			})
		}
		b.WriteString("\n")
		b.WriteString(renderTable("Sessions", []string{"ID", "Label", "Primary", "Last Seen", "Queued", "Dropped"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight}))
		b.WriteString("\n")
	}

	if len(st.Hub.Subscriptions) > 0 {
		rows := make([][]string, 0, len(st.Hub.Subscriptions))
		for _, sub := range st.Hub.Subscriptions {
			scope := sub.Scope
			if scope == "" {
				scope = "-"
			}
			rows = append(rows, []string{sub.Channel, scope, sub.Destination})
		}
		b.WriteString("\n")
		b.WriteString(renderTable("Subscriptions", []string{"Channel", "Scope", "Session"}, rows, nil))
		b.WriteString("\n")
	}
	return b.String()
}
