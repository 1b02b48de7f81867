package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

const deviceHistory = 64

// ueventSource is the part of a netlink connection the devices worker uses.
type ueventSource interface {
	Monitor(queue chan netlink.UEvent, errs chan error, matcher netlink.Matcher) chan struct{}
	Close() error
}

func dialNetlink() (ueventSource, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	return conn, nil
}

// devicesWorker forwards kernel device uevents for the configured subsystems.
// It never sends ready; the hub treats it as running once init is sent.
type devicesWorker struct {
	dial func() (ueventSource, error)

	mu     sync.Mutex
	conn   ueventSource
	quit   chan struct{}
	wg     sync.WaitGroup
	recent []protocol.DeviceEvent
}

func newDevicesWorker(dial func() (ueventSource, error)) transport.Worker {
	return loop{h: &devicesWorker{dial: dial}}
}

func (w *devicesWorker) init(_ context.Context, payload json.RawMessage, emit transport.Emitter) error {
	params, err := protocol.Decode[protocol.DevicesInit](payload)
	if err != nil {
		return err
	}
	w.halt()

	subsystems := make([]string, 0, len(params.Subsystems))
	for _, s := range params.Subsystems {
		if s = strings.TrimSpace(s); s != "" {
			subsystems = append(subsystems, s)
		}
	}
	if len(subsystems) == 0 {
		return nil
	}

	conn, err := w.dial()
	if err != nil {
		// Non-fatal: listDevices keeps working with an empty history.
		return emit(protocol.Fault(fmt.Sprintf("device events unavailable: %v", err)))
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildDeviceMatcher(subsystems))
	quit := make(chan struct{})

	w.mu.Lock()
	w.conn = conn
	w.quit = quit
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-quit:
				close(monitorQuit)
				return
			case uevent := <-queue:
				evt := deviceEvent(uevent)
				w.remember(evt)
				if err := push(emit, protocol.TypeChanged, "", evt); err != nil {
					close(monitorQuit)
					return
				}
			case err := <-errs:
				_ = emit(protocol.Fault(fmt.Sprintf("device monitor: %v", err)))
			}
		}
	}()
	return nil
}

func (w *devicesWorker) handle(_ context.Context, env protocol.Envelope, _ transport.Emitter) (any, error) {
	switch env.Type {
	case protocol.TypeListDevices:
		w.mu.Lock()
		defer w.mu.Unlock()
		out := make([]protocol.DeviceEvent, len(w.recent))
		copy(out, w.recent)
		return out, nil
	default:
		return nil, unknownType(env)
	}
}

func (w *devicesWorker) shutdown(transport.Emitter) {
	w.halt()
}

func (w *devicesWorker) halt() {
	w.mu.Lock()
	quit, conn := w.quit, w.conn
	w.quit, w.conn = nil, nil
	w.mu.Unlock()
	if quit != nil {
		close(quit)
	}
	w.wg.Wait()
	if conn != nil {
		_ = conn.Close()
	}
}

func (w *devicesWorker) remember(evt protocol.DeviceEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recent = append(w.recent, evt)
	if over := len(w.recent) - deviceHistory; over > 0 {
		w.recent = append(w.recent[:0], w.recent[over:]...)
	}
}

// buildDeviceMatcher matches add, remove and change events on any of subsystems.
func buildDeviceMatcher(subsystems []string) netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	for _, subsystem := range subsystems {
		rules.AddRule(netlink.RuleDefinition{
			Action: &action,
			Env:    map[string]string{"SUBSYSTEM": subsystem},
		})
	}
	return rules
}

func deviceEvent(uevent netlink.UEvent) protocol.DeviceEvent {
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		devpath = uevent.KObj
	}
	return protocol.DeviceEvent{
		Action:    string(uevent.Action),
		Subsystem: uevent.Env["SUBSYSTEM"],
		DevPath:   devpath,
		DevName:   uevent.Env["DEVNAME"],
		TS:        time.Now().UnixMilli(),
	}
}
