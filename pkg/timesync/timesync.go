package timesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultServer    = "pool.ntp.org"
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

// ErrNotRunning is returned by WaitForSync when the service has not
// been started.
var ErrNotRunning = errors.New("timesync: service not running")

// Config configures the time synchronization service.
type Config struct {
	// Server is the NTP server or pool hostname.
	Server string

	// Interval between NTP queries.
	Interval time.Duration

	// Threshold is the maximum acceptable clock offset.
	Threshold time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server:    defaultServer,
		Interval:  defaultInterval,
		Threshold: defaultThreshold,
	}
}

// Status is a snapshot of the last synchronization attempt.
type Status struct {
	// Synced reports whether the clock has been synchronized at least once.
	Synced bool

	// Offset is the last measured clock offset.
	Offset time.Duration

	// CheckedAt is when the last query completed.
	CheckedAt time.Time

	// Error is the last query error, if any.
	Error string
}

// Service performs background NTP synchronization.
type Service struct {
	mu      sync.RWMutex
	config  Config
	status  Status
	running bool
	synced  chan struct{}

	// QueryFunc overrides the NTP query. Used by tests.
	QueryFunc func(server string) (offset time.Duration, err error)
}

// NewService creates a time synchronization service.
func NewService(config Config) *Service {
	if config.Server == "" {
		config.Server = defaultServer
	}
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.Threshold <= 0 {
		config.Threshold = defaultThreshold
	}
	return &Service{
		config: config,
		synced: make(chan struct{}),
	}
}

// Start begins background synchronization and returns immediately.
// The first query happens right away; the synchronized condition
// latches on the first query whose offset is inside the threshold.
// The background loop stops when ctx is cancelled. Start is a no-op
// if the service is already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	s.check()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.check()
		}
	}
}

// WaitForSync blocks until the clock has synchronized once or the
// context is cancelled.
func (s *Service) WaitForSync(ctx context.Context) error {
	s.mu.RLock()
	running := s.running
	synced := s.synced
	s.mu.RUnlock()

	if !running && !s.Status().Synced {
		return ErrNotRunning
	}

	select {
	case <-synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the last synchronization attempt.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) check() {
	offset, err := s.query()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.status.Error = err.Error()
		s.status.CheckedAt = now
		if s.config.Logger != nil {
			s.config.Logger.Debug("timesync: query failed", "server", s.config.Server, "error", err)
		}
		return
	}

	s.status.Offset = offset
	s.status.CheckedAt = now
	s.status.Error = ""

	if offset.Abs() < s.config.Threshold && !s.status.Synced {
		s.status.Synced = true
		close(s.synced)
		if s.config.Logger != nil {
			s.config.Logger.Debug("timesync: synchronized", "offset", offset)
		}
	}
}

func (s *Service) query() (time.Duration, error) {
	if s.QueryFunc != nil {
		return s.QueryFunc(s.config.Server)
	}
	resp, err := ntp.Query(s.config.Server)
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}
