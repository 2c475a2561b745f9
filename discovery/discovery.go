// Package discovery implements the Discovery Session of spec §4.4: RSSI
// filtering, criterion-based peripheral matching, the single stale-expiry
// timer and the debounced auto-connect work item.
//
// The device-map/event-channel shape is grounded on scanner/scanner.go's
// Scanner (github.com/cornelk/hashmap-backed device registry, a
// ProgressCallback-style phase hook); the single-slot rescheduling timers
// are new to this package (spec §3's "at most one stale timer" /
// "at most one auto-connect work item" invariants have no teacher
// precedent, so they are implemented directly against time.Timer).
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/backend"
	"github.com/srg/blecentral/model"
)

// Host is the subset of Central Coordinator behavior a Session needs,
// kept as an interface so this package never imports central (which
// imports discovery).
type Host interface {
	// DisconnectedActivity returns the lastActivity of every currently
	// disconnected, discovered peripheral, keyed by id.
	DisconnectedActivity() map[string]time.Time

	// InsertOrUpdate records a discovered peripheral's advertisement,
	// creating it if new. isNew reports which branch was taken (spec
	// §4.4 "New peripheral" vs "Existing peripheral").
	InsertOrUpdate(id string, handle backend.PeripheralHandle, data model.AdvertisementData, rssi int, desc model.DeviceDescription) (isNew bool)

	// ExpireStale removes every disconnected peripheral named in ids
	// from the discovered set (spec §4.4 "Stale expiry").
	ExpireStale(ids []string)

	// ConnectedCount reports how many peripherals are currently
	// connected or connecting, for the auto-connect gate.
	ConnectedCount() int

	// LowestRSSIDisconnected returns the id of the disconnected,
	// discovered peripheral with the strongest (numerically greatest)
	// RSSI, or "" if none.
	LowestRSSIDisconnected() string

	// WasManuallyDisconnected reports whether id is currently suppressed
	// from auto-connect.
	WasManuallyDisconnected(id string) bool

	// AutoConnect attempts to connect id; errors are logged by the
	// caller, not returned, per spec §4.4 ("schedule a debounced
	// connect").
	AutoConnect(id string)
}

// Session drives one scan against a Host. Not reentrant; bound to at most
// one Central (spec §4.4).
type Session struct {
	host   Host
	be     backend.Backend
	logger *logrus.Logger
	cfg    model.DiscoveryConfiguration

	mu          sync.Mutex
	staleTimer  *time.Timer
	autoConnTmr *time.Timer
	cancelScan  context.CancelFunc
	stopped     chan struct{}
}

// New creates a Session. Start must be called to begin scanning.
func New(host Host, be backend.Backend, cfg model.DiscoveryConfiguration, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{host: host, be: be, cfg: cfg, logger: logger, stopped: make(chan struct{})}
}

// Start begins scanning in the background. Advertisements are filtered
// and dispatched to the Host synchronously from the scan-consuming
// goroutine; Host implementations are expected to serialize their own
// mutations (e.g. by posting to a serial execution context).
func (s *Session) Start(ctx context.Context) error {
	scanCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelScan = cancel
	s.mu.Unlock()

	events, err := s.be.Scan(scanCtx, true)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		for ev := range events {
			s.handleAdvertisement(ev)
		}
		close(s.stopped)
	}()
	return nil
}

// Stop tears the session down: the scan is cancelled and both timers are
// stopped.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cancelScan != nil {
		s.cancelScan()
	}
	if s.staleTimer != nil {
		s.staleTimer.Stop()
	}
	if s.autoConnTmr != nil {
		s.autoConnTmr.Stop()
	}
	s.mu.Unlock()
}

// Reconfigure replaces the session's DiscoveryConfiguration (spec §4.2):
// the new RSSI threshold, stale interval, auto-connect settings and
// descriptions apply from the next advertisement handled. The backend scan
// is not restarted.
func (s *Session) Reconfigure(cfg model.DiscoveryConfiguration) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Session) handleAdvertisement(ev backend.AdvertisementEvent) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if ev.RSSI == model.RSSIUnavailable || ev.RSSI < cfg.MinimumRSSI {
		return
	}

	desc := matchCriterion(cfg, ev.Data)
	isNew := s.host.InsertOrUpdate(ev.Peripheral.ID(), ev.Peripheral, ev.Data, ev.RSSI, desc)

	s.rescheduleStale(cfg)
	if isNew {
		s.ensureStaleTimerRunning(cfg)
	}
	s.maybeScheduleAutoConnect(cfg)
}

func matchCriterion(cfg model.DiscoveryConfiguration, data model.AdvertisementData) model.DeviceDescription {
	for _, d := range cfg.Descriptions {
		if d.Criterion != nil && d.Criterion(data) {
			return d.Device
		}
	}
	return model.DeviceDescription{}
}

// ensureStaleTimerRunning starts the single stale timer if none is
// currently running, targeting the device with the smallest lastActivity.
func (s *Session) ensureStaleTimerRunning(cfg model.DiscoveryConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleTimer != nil {
		return
	}
	s.armStaleTimerLocked(cfg)
}

// rescheduleStale cancels and re-arms the stale timer against the
// current oldest disconnected peripheral, per spec §4.4 "Existing
// peripheral: if this peripheral was the current stale-timer target,
// cancel it and reschedule". Rescheduling unconditionally against the
// oldest target is behaviorally equivalent and avoids tracking which id
// the timer currently names.
func (s *Session) rescheduleStale(cfg model.DiscoveryConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleTimer != nil {
		s.staleTimer.Stop()
		s.staleTimer = nil
	}
	s.armStaleTimerLocked(cfg)
}

func (s *Session) armStaleTimerLocked(cfg model.DiscoveryConfiguration) {
	activity := s.host.DisconnectedActivity()
	if len(activity) == 0 {
		return
	}
	var oldest time.Time
	first := true
	for _, t := range activity {
		if first || t.Before(oldest) {
			oldest = t
			first = false
		}
	}
	delay := time.Until(oldest.Add(cfg.AdvertisementStaleInterval))
	if delay < 0 {
		delay = 0
	}
	s.staleTimer = time.AfterFunc(delay, func() { s.fireStale(cfg) })
}

func (s *Session) fireStale(cfg model.DiscoveryConfiguration) {
	s.mu.Lock()
	s.staleTimer = nil
	s.mu.Unlock()

	now := time.Now()
	activity := s.host.DisconnectedActivity()
	var expired []string
	for id, t := range activity {
		if t.Add(cfg.AdvertisementStaleInterval).Before(now) {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		s.host.ExpireStale(expired)
	}

	s.mu.Lock()
	s.armStaleTimerLocked(cfg)
	s.mu.Unlock()
}

// maybeScheduleAutoConnect implements spec §4.4 "Auto-connect": schedules
// or reschedules a single debounced connect attempt against the
// disconnected peripheral Host.LowestRSSIDisconnected selects (the one
// with the strongest signal).
func (s *Session) maybeScheduleAutoConnect(cfg model.DiscoveryConfiguration) {
	if !cfg.AutoConnect || s.host.ConnectedCount() > 0 {
		s.mu.Lock()
		if s.autoConnTmr != nil {
			s.autoConnTmr.Stop()
			s.autoConnTmr = nil
		}
		s.mu.Unlock()
		return
	}

	target := s.host.LowestRSSIDisconnected()
	if target == "" || s.host.WasManuallyDisconnected(target) {
		return
	}

	s.mu.Lock()
	if s.autoConnTmr != nil {
		s.autoConnTmr.Stop()
	}
	s.autoConnTmr = time.AfterFunc(cfg.AutoConnectDebounce, func() {
		s.host.AutoConnect(target)
	})
	s.mu.Unlock()
}
