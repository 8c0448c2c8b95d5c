package daemon

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"

	"github.com/pilebones/go-udev/netlink"

	"audiorouter/internal/logging"
)

// netlinkMonitor listens for udev sound-card events. The audio server usually
// reports the resulting sinks itself; the kernel event covers servers that
// are slow to announce a hotplugged card.
type netlinkMonitor struct {
	logger  *slog.Logger
	trigger func(Trigger)
	active  *atomic.Bool
}

func newNetlinkMonitor(logger *slog.Logger, trigger func(Trigger), active *atomic.Bool) *netlinkMonitor {
	if active == nil {
		active = new(atomic.Bool)
	}
	return &netlinkMonitor{
		logger:  logging.NewComponentLogger(logger, "netlink-monitor"),
		trigger: trigger,
		active:  active,
	}
}

// Running reports whether the monitor holds a netlink socket.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	return m.active.Load()
}

// Run blocks until ctx is done. Failing to open the netlink socket is not an
// error: the server subscription still reports device changes.
func (m *netlinkMonitor) Run(ctx context.Context) error {
	if m == nil {
		return nil
	}
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; relying on audio server events", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "hotplugged sound cards are detected only through the audio server"),
		)
		return nil
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, m.buildMatcher())
	m.active.Store(true)
	defer m.active.Store(false)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
	)

	for {
		select {
		case <-ctx.Done():
			close(quit)
			m.logger.Info("netlink monitor stopped",
				logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
			)
			return nil
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "sound-card hotplug detection may be delayed"),
			)
		}
	}
}

// buildMatcher matches sound-subsystem add and remove events.
func (m *netlinkMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}

func (m *netlinkMonitor) handleEvent(uevent netlink.UEvent) {
	card := m.extractCardName(uevent)
	if card == "" {
		m.logger.Debug("ignoring sound event without card",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	m.logger.Info("sound card change detected",
		logging.String(logging.FieldEventType, "sound_card_"+string(uevent.Action)),
		logging.String("card", card),
	)
	if m.trigger != nil {
		m.trigger(Trigger{Source: SourceDevice, Detail: string(uevent.Action) + " " + card})
	}
}

// extractCardName returns "cardN" for card-level events. Per-node events
// (pcmC1D0p, controlC1) of the same card are ignored.
func (m *netlinkMonitor) extractCardName(uevent netlink.UEvent) string {
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		devpath = uevent.KObj
	}
	if devpath == "" {
		return ""
	}
	name := path.Base(devpath)
	if !strings.HasPrefix(name, "card") || len(name) == len("card") {
		return ""
	}
	return name
}
