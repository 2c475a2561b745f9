// Package central implements the Central Coordinator of spec §4.2: lazy
// backend allocation, the strong/weak peripheral registries, power
// lifecycle, idle deallocation and central-state subscription.
//
// The strong-discovered registry is grounded on scanner/scanner.go's use
// of github.com/cornelk/hashmap for concurrent, low-contention reads from
// any goroutine. The weak-retrieved registry uses Go 1.24's weak package
// (no teacher precedent — the teacher predates weak.Pointer; this is the
// idiomatic modern-Go way to express spec §3's "retrieved-by-id
// peripherals are held weakly" without a manual refcount) together with
// runtime.AddCleanup to notify the coordinator when a weakly-held
// Peripheral is garbage collected (spec §4.3 "Orphan deinit").
package central

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/backend"
	"github.com/srg/blecentral/discovery"
	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/observe"
	"github.com/srg/blecentral/peripheral"
	"github.com/srg/blecentral/serial"
)

// BackendFactory constructs a fresh backend.Backend on demand. Central
// calls it lazily the first time a backend handle is actually needed
// (spec §4.2 "defers platform authorization prompts to the latest
// moment").
type BackendFactory func(logger *logrus.Logger) (backend.Backend, error)

// Coordinator is the Central Coordinator. It owns the singleton serial
// execution context and every peripheral reachable through it.
type Coordinator struct {
	factory BackendFactory
	logger  *logrus.Logger
	serial  *serial.Context

	mu                   sync.Mutex
	be                   backend.Backend
	beCancel             context.CancelFunc
	state                model.CentralState
	keepPoweredOn        bool
	session              *discovery.Session
	manuallyDisconnected map[string]bool
	peripheralWatches    map[string]context.CancelFunc

	discovered *hashmap.Map[string, *peripheral.Peripheral]
	retrieved  map[string]weak.Pointer[peripheral.Peripheral]

	stateChange *observe.Registry[model.CentralState]
}

var _ discovery.Host = (*Coordinator)(nil)

// New creates a Coordinator in the unknown power state. No backend is
// allocated until PowerOn, ScanNearbyDevices or RetrievePeripheral is
// called.
func New(factory BackendFactory, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		factory:              factory,
		logger:               logger,
		serial:               serial.New("central", 1024),
		state:                model.CentralUnknown,
		manuallyDisconnected: make(map[string]bool),
		peripheralWatches:    make(map[string]context.CancelFunc),
		discovered:           hashmap.New[string, *peripheral.Peripheral](),
		retrieved:            make(map[string]weak.Pointer[peripheral.Peripheral]),
		stateChange:          observe.NewRegistry[model.CentralState](),
	}
}

// RegisterOnStateChange attaches fn to fire on every CentralState
// transition and returns a scoped Handle (spec §4.2 "State subscription").
func (c *Coordinator) RegisterOnStateChange(fn func(model.CentralState)) *observe.Handle {
	return c.stateChange.Register(fn)
}

// PowerOn forces backend allocation, allocating one via BackendFactory if
// none exists yet.
func (c *Coordinator) PowerOn(ctx context.Context) error {
	return serial.Call(c.serial, func() error {
		return c.ensureBackendLocked()
	})
}

// PowerOff requests deallocation when idle; if the coordinator is not
// idle, the backend stays allocated until it becomes so.
func (c *Coordinator) PowerOff() {
	c.serial.Post(func() {
		c.keepPoweredOn = false
		c.deallocateIfIdleLocked()
	})
}

// SetKeepPoweredOn disables idle deallocation while true.
func (c *Coordinator) SetKeepPoweredOn(keep bool) {
	c.serial.Post(func() {
		c.keepPoweredOn = keep
	})
}

func (c *Coordinator) ensureBackendLocked() error {
	if c.be != nil {
		return nil
	}
	be, err := c.factory(c.logger)
	if err != nil {
		c.setStateLocked(model.CentralUnsupported)
		return fmt.Errorf("central: allocating backend: %w", err)
	}
	c.be = be
	ctx, cancel := context.WithCancel(context.Background())
	c.beCancel = cancel
	go c.watchBackendState(ctx, be)
	c.setStateLocked(be.State())
	return nil
}

// watchBackendState relays backend power-state transitions onto the
// serial execution context and drives the "connected peripherals reduce
// to disconnected" behavior of spec §8 ("State reduction on power
// change") whenever the backend reports poweredOff.
func (c *Coordinator) watchBackendState(ctx context.Context, be backend.Backend) {
	states, err := be.WatchState(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("central: watching backend state failed")
		return
	}
	for s := range states {
		state := s
		c.serial.Post(func() {
			c.setStateLocked(state)
			if state == model.CentralPoweredOff {
				c.reduceOnPowerOffLocked()
			}
		})
	}
}

// reduceOnPowerOffLocked disconnects and clears the service cache of
// every connected or connecting peripheral, per spec §8's testable
// property 15.
func (c *Coordinator) reduceOnPowerOffLocked() {
	var live []*peripheral.Peripheral
	c.discovered.Range(func(_ string, p *peripheral.Peripheral) bool {
		if s := p.State(); s == model.Connected || s == model.Connecting {
			live = append(live, p)
		}
		return true
	})
	for _, p := range live {
		p := p
		if cancel, ok := c.peripheralWatches[p.ID()]; ok {
			cancel()
			delete(c.peripheralWatches, p.ID())
		}
		go func() {
			_ = p.Disconnect(context.Background())
			p.ClearServiceCache()
		}()
	}
}

func (c *Coordinator) setStateLocked(s model.CentralState) {
	if c.state == s {
		return
	}
	c.state = s
	c.stateChange.Fire(s)
}

func (c *Coordinator) deallocateIfIdleLocked() {
	if c.be == nil {
		return
	}
	if c.keepPoweredOn {
		return
	}
	if c.session != nil {
		return
	}
	if c.discovered.Len() > 0 {
		return
	}
	if c.liveRetrievedCountLocked() > 0 {
		return
	}
	if c.beCancel != nil {
		c.beCancel()
		c.beCancel = nil
	}
	for id, cancel := range c.peripheralWatches {
		cancel()
		delete(c.peripheralWatches, id)
	}
	c.be = nil
	c.setStateLocked(model.CentralUnknown)
}

func (c *Coordinator) liveRetrievedCountLocked() int {
	n := 0
	for id, wp := range c.retrieved {
		if wp.Value() == nil {
			delete(c.retrieved, id)
			continue
		}
		n++
	}
	return n
}

// ScanNearbyDevices starts a DiscoverySession with the given configuration,
// or, if one is already running, hands cfg to it via Session.Reconfigure
// (spec §4.2 "Discovery control"). A running backend scan is not
// restarted, even when the set of service descriptions changes.
func (c *Coordinator) ScanNearbyDevices(ctx context.Context, cfg model.DiscoveryConfiguration) error {
	return serial.Call(c.serial, func() error {
		if err := c.ensureBackendLocked(); err != nil {
			return err
		}
		if c.session != nil {
			c.session.Reconfigure(cfg)
			return nil
		}
		c.session = discovery.New(c, c.be, cfg, c.logger)
		return c.session.Start(ctx)
	})
}

// StopScanning tears the session down and triggers idle-deallocation.
func (c *Coordinator) StopScanning() {
	c.serial.Post(func() {
		if c.session == nil {
			return
		}
		c.session.Stop()
		c.session = nil
		c.deallocateIfIdleLocked()
	})
}

// Peripherals returns every currently discovered (strongly held)
// peripheral, for callers (the CLI's scan/inspect commands) that need to
// enumerate rather than look up by id.
func (c *Coordinator) Peripherals() []*peripheral.Peripheral {
	var out []*peripheral.Peripheral
	c.discovered.Range(func(_ string, p *peripheral.Peripheral) bool {
		out = append(out, p)
		return true
	})
	return out
}

// RetrievePeripheral resolves id to a weakly-held Peripheral, allocating
// the backend if necessary (spec §4.2 "Retrieval").
func (c *Coordinator) RetrievePeripheral(ctx context.Context, id string, desc model.DeviceDescription) (*peripheral.Peripheral, error) {
	type result struct {
		p   *peripheral.Peripheral
		err error
	}
	r := serial.Call(c.serial, func() result {
		if err := c.ensureBackendLocked(); err != nil {
			return result{err: err}
		}
		if p, ok := c.discovered.Get(id); ok {
			return result{p: p}
		}
		if wp, ok := c.retrieved[id]; ok {
			if p := wp.Value(); p != nil {
				return result{p: p}
			}
		}
		handle, err := c.be.RetrieveByID(ctx, id)
		if err != nil {
			return result{err: fmt.Errorf("central: retrieving peripheral %s: %w", id, err)}
		}
		p := peripheral.New(id, handle, c.be, c.logger)
		c.retrieved[id] = weak.Make(p)
		runtime.AddCleanup(p, func(pid string) {
			c.serial.Post(func() {
				delete(c.retrieved, pid)
				c.deallocateIfIdleLocked()
			})
		}, id)
		return result{p: p}
	})
	return r.p, r.err
}

// Connect upgrades a weakly-retrieved peripheral to strong on connect and
// drives its connection/discovery pipeline.
func (c *Coordinator) Connect(ctx context.Context, p *peripheral.Peripheral, desc model.DeviceDescription) error {
	c.serial.Post(func() {
		c.discovered.Set(p.ID(), p)
		delete(c.retrieved, p.ID())
		delete(c.manuallyDisconnected, p.ID())
	})
	if err := p.Connect(ctx, desc); err != nil {
		return err
	}
	go c.watchPeripheral(p)
	return nil
}

// Disconnect requests disconnection and records the peripheral as
// manually disconnected (spec §4.4 "Manual disconnect"). While the record
// stands, the discovery session does not auto-connect to this peripheral;
// auto-connect to other peripherals is not suppressed.
func (c *Coordinator) Disconnect(ctx context.Context, p *peripheral.Peripheral) error {
	c.serial.Post(func() {
		c.manuallyDisconnected[p.ID()] = true
		if cancel, ok := c.peripheralWatches[p.ID()]; ok {
			cancel()
			delete(c.peripheralWatches, p.ID())
		}
	})
	return p.Disconnect(ctx)
}

// watchPeripheral relays peer-initiated disconnects, unsolicited value
// updates and "services changed" indications from the backend to p,
// implementing §4.2's "Event routing" for the lifetime of one connection.
// It stops when the backend confirms the peer disconnected, when
// Disconnect cancels it, or when the backend is deallocated.
func (c *Coordinator) watchPeripheral(p *peripheral.Peripheral) {
	ctx, cancel := context.WithCancel(context.Background())
	c.serial.Post(func() {
		c.peripheralWatches[p.ID()] = cancel
	})

	c.mu.Lock()
	be := c.be
	c.mu.Unlock()
	if be == nil {
		cancel()
		return
	}
	handle := p.Handle()

	connEvents, err := be.WatchConnectionEvents(ctx, handle)
	if err != nil {
		c.logger.WithError(err).WithField("peripheral", p.ID()).Debug("central: watching connection events failed")
	}
	notifyEvents, changedEvents, err := be.WatchNotifications(ctx, handle)
	if err != nil {
		c.logger.WithError(err).WithField("peripheral", p.ID()).Debug("central: watching notifications failed")
	}

	for connEvents != nil || notifyEvents != nil || changedEvents != nil {
		select {
		case ev, ok := <-connEvents:
			if !ok {
				connEvents = nil
				continue
			}
			if !ev.Connected {
				c.serial.Post(func() {
					delete(c.peripheralWatches, p.ID())
				})
				go func() { _ = p.Disconnect(context.Background()) }()
				cancel()
				return
			}
		case ev, ok := <-notifyEvents:
			if !ok {
				notifyEvents = nil
				continue
			}
			p.HandleNotification(ev.ServiceUUID, ev.CharacteristicUUID, ev.Value)
		case _, ok := <-changedEvents:
			if !ok {
				changedEvents = nil
				continue
			}
			p.HandleServicesChanged()
		case <-ctx.Done():
			return
		}
	}
}

// --- discovery.Host ---

func (c *Coordinator) DisconnectedActivity() map[string]time.Time {
	return serial.Call(c.serial, func() map[string]time.Time {
		out := make(map[string]time.Time)
		c.discovered.Range(func(id string, p *peripheral.Peripheral) bool {
			if p.State() == model.Disconnected {
				out[id] = p.LastActivity()
			}
			return true
		})
		return out
	})
}

func (c *Coordinator) InsertOrUpdate(id string, handle backend.PeripheralHandle, data model.AdvertisementData, rssi int, desc model.DeviceDescription) bool {
	return serial.Call(c.serial, func() bool {
		if p, ok := c.discovered.Get(id); ok {
			p.UpdateFromAdvertisement(data, rssi)
			return false
		}
		p := peripheral.New(id, handle, c.be, c.logger)
		p.UpdateFromAdvertisement(data, rssi)
		c.discovered.Set(id, p)
		return true
	})
}

func (c *Coordinator) ExpireStale(ids []string) {
	c.serial.Post(func() {
		for _, id := range ids {
			if p, ok := c.discovered.Get(id); ok && p.State() == model.Disconnected {
				c.discovered.Del(id)
				delete(c.manuallyDisconnected, id)
			}
		}
		c.deallocateIfIdleLocked()
	})
}

func (c *Coordinator) ConnectedCount() int {
	return serial.Call(c.serial, func() int {
		n := 0
		c.discovered.Range(func(_ string, p *peripheral.Peripheral) bool {
			if p.State() == model.Connected || p.State() == model.Connecting {
				n++
			}
			return true
		})
		return n
	})
}

// LowestRSSIDisconnected returns the id of the disconnected, discovered
// peripheral with the strongest advertised signal, or "" if none are
// disconnected. Despite the name (spec §4.4/GLOSSARY describe this as
// "lowest RSSI"), testable property §8 #9 is unambiguous that auto-connect
// must target the stronger of two competing signals (e.g. -60 over -70);
// RSSI is a negative dBm value, so "stronger" means numerically greater.
// See DESIGN.md for the resolution of this spec-internal contradiction.
func (c *Coordinator) LowestRSSIDisconnected() string {
	return serial.Call(c.serial, func() string {
		best := ""
		var bestRSSI int
		found := false
		c.discovered.Range(func(id string, p *peripheral.Peripheral) bool {
			if p.State() != model.Disconnected {
				return true
			}
			if r := p.RSSI(); !found || r > bestRSSI {
				bestRSSI, best, found = r, id, true
			}
			return true
		})
		return best
	})
}

func (c *Coordinator) WasManuallyDisconnected(id string) bool {
	return serial.Call(c.serial, func() bool {
		return c.manuallyDisconnected[id]
	})
}

func (c *Coordinator) AutoConnect(id string) {
	p, ok := c.discovered.Get(id)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backend.OperationTimeout)
		defer cancel()
		if err := c.Connect(ctx, p, model.DeviceDescription{}); err != nil {
			c.logger.WithError(err).WithField("peripheral", id).Debug("central: auto-connect failed")
		}
	}()
}
