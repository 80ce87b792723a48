package connectivity

import (
	"context"
	"log/slog"
	"net"
	"time"
)

const defaultPollInterval = 3 * time.Second

// Monitor polls the host's interfaces and sets a Signal once a usable
// (non-loopback, up, globally addressable) interface appears.
//
// It is a convenience for hosts without an external network-event source;
// platforms with real link notifications should set the Signal directly.
type Monitor struct {
	signal   *Signal
	interval time.Duration
	logger   *slog.Logger

	// probe overrides the interface check. Used by tests.
	probe func() bool
}

// NewMonitor creates a monitor that latches signal once the host is online.
// A nil logger disables logging.
func NewMonitor(signal *Signal, logger *slog.Logger) *Monitor {
	return &Monitor{
		signal:   signal,
		interval: defaultPollInterval,
		logger:   logger,
	}
}

// Run polls until the signal latches or the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.check() {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.check() {
				return
			}
		}
	}
}

func (m *Monitor) check() bool {
	online := false
	if m.probe != nil {
		online = m.probe()
	} else {
		online = hostOnline()
	}
	if online {
		if m.logger != nil {
			m.logger.Debug("connectivity monitor: host online")
		}
		m.signal.Set()
	}
	return online
}

// hostOnline reports whether any up, non-loopback interface carries a
// global unicast address.
func hostOnline() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}
