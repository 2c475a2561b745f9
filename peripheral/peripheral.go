// Package peripheral implements the Peripheral Model of spec §4.3: the
// connection lifecycle, per-characteristic operation serialization, the
// connection/discovery pipeline and change notification dispatch.
//
// The per-characteristic operation slot is grounded on
// internal/device/ble_connection.go's BLECharacteristic (one mutex-guarded
// value cache plus a notification channel per characteristic) and on
// internal/device/subscription.go's cancellation-aware subscription
// lifecycle, adapted to the Backend interface's synchronous call shape:
// instead of a literal promise/continuation slot machine, each
// characteristic owns a cancellation-aware, single-slot semaphore so at
// most one GATT operation against it is outstanding at a time, which is
// the invariant spec §4.3 actually cares about.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/backend"
	"github.com/srg/blecentral/blerrors"
	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/observe"
	"github.com/srg/blecentral/uuid"
)

// slot serializes GATT operations against a single characteristic.
type slot struct {
	sem chan struct{}
}

func newSlot() *slot { return &slot{sem: make(chan struct{}, 1)} }

// acquire blocks until the slot is free, ctx is cancelled, or disconnected
// fires, whichever comes first.
func (s *slot) acquire(ctx context.Context, disconnected <-chan struct{}) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return blerrors.NewCancelled("characteristic operation")
	case <-disconnected:
		return blerrors.NewCancelled("characteristic operation")
	}
}

func (s *slot) release() {
	select {
	case <-s.sem:
	default:
	}
}

// Characteristic is a cached view of one GATT characteristic plus its
// operation slot and registered change handlers.
type Characteristic struct {
	UUID       uuid.BTUUID
	Properties model.Properties

	mu          sync.RWMutex
	value       []byte
	isNotifying bool
	wantNotify  bool

	opSlot   *slot
	onChange *observe.Registry[[]byte]
}

func newCharacteristic(uuid uuid.BTUUID, props model.Properties) *Characteristic {
	return &Characteristic{
		UUID:       uuid,
		Properties: props,
		opSlot:     newSlot(),
		onChange:   observe.NewRegistry[[]byte](),
	}
}

// Value returns the last cached value, or nil if none has been read or
// notified yet.
func (c *Characteristic) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *Characteristic) setValue(v []byte) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.onChange.Fire(v)
}

// IsNotifying reports whether notifications are currently enabled.
func (c *Characteristic) IsNotifying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isNotifying
}

// RegisterOnChange attaches fn to fire whenever the characteristic's
// cached value changes (read completion or unsolicited notification).
// The returned Handle deregisters fn on Deregister.
func (c *Characteristic) RegisterOnChange(fn func([]byte)) *observe.Handle {
	return c.onChange.Register(fn)
}

// Service is a cached view of one discovered GATT service.
type Service struct {
	UUID            uuid.BTUUID
	IsPrimary       bool
	characteristics map[uuid.BTUUID]*Characteristic
}

// Characteristics returns the service's characteristics sorted by UUID
// string form, for stable iteration order.
func (s *Service) Characteristics() []*Characteristic {
	out := make([]*Characteristic, 0, len(s.characteristics))
	for _, c := range s.characteristics {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID.String() < out[j].UUID.String() })
	return out
}

// Peripheral is the runtime representation of one BLE peer: its
// connection state, cached GATT table and per-characteristic
// serialization.
type Peripheral struct {
	id     string
	handle backend.PeripheralHandle
	be     backend.Backend
	logger *logrus.Logger

	mu            sync.RWMutex
	state         model.PeripheralState
	advertisement model.AdvertisementData
	rssi          int
	name          string
	lastActivity  time.Time
	nearby        bool
	configuration model.DeviceDescription
	services      map[uuid.BTUUID]*Service

	connCtx       context.Context
	connCancel    context.CancelFunc
	disconnected  chan struct{}
	rssiSlot      *slot
	wwrSlot       *slot
	stateChange *observe.Registry[model.PeripheralState]
	connectErr  error
	connectDone chan struct{}
}

// New creates a Peripheral in the disconnected state, owned strongly or
// weakly by the caller (central package decides which).
func New(id string, handle backend.PeripheralHandle, be backend.Backend, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	return &Peripheral{
		id:           id,
		handle:       handle,
		be:           be,
		logger:       logger,
		state:        model.Disconnected,
		rssi:         model.RSSIUnavailable,
		services:     make(map[uuid.BTUUID]*Service),
		disconnected: make(chan struct{}),
		rssiSlot:     newSlot(),
		wwrSlot:      newSlot(),
		stateChange:  observe.NewRegistry[model.PeripheralState](),
	}
}

// ID returns the peripheral's stable identity.
func (p *Peripheral) ID() string { return p.id }

// Handle returns the backend-assigned handle this Peripheral was
// constructed with, for callers (the central coordinator's event-routing
// loop) that talk to the backend directly on p's behalf.
func (p *Peripheral) Handle() backend.PeripheralHandle { return p.handle }

// State returns the current PeripheralState.
func (p *Peripheral) State() model.PeripheralState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Peripheral) setState(s model.PeripheralState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.stateChange.Fire(s)
}

// RegisterOnStateChange attaches fn to fire on every PeripheralState
// transition.
func (p *Peripheral) RegisterOnStateChange(fn func(model.PeripheralState)) *observe.Handle {
	return p.stateChange.Register(fn)
}

// Advertisement returns the most recently observed advertisement data.
func (p *Peripheral) Advertisement() model.AdvertisementData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.advertisement
}

// RSSI returns the last known RSSI sample, or model.RSSIUnavailable.
func (p *Peripheral) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

// UpdateFromAdvertisement refreshes the peripheral's advertised state
// (called by the discovery session on every matching advertisement).
func (p *Peripheral) UpdateFromAdvertisement(data model.AdvertisementData, rssi int) {
	p.mu.Lock()
	p.advertisement = data
	p.rssi = rssi
	p.nearby = true
	if p.name == "" && data.LocalName != "" {
		p.name = data.LocalName
	}
	if p.state == model.Disconnected {
		p.lastActivity = time.Now()
	}
	p.mu.Unlock()
}

// LastActivity returns the timestamp used by the stale-peripheral timer.
// While connecting/connected/disconnecting it is always "now" (spec §3).
func (p *Peripheral) LastActivity() time.Time {
	p.mu.RLock()
	state := p.state
	last := p.lastActivity
	p.mu.RUnlock()
	if state != model.Disconnected {
		return time.Now()
	}
	return last
}

// GetService returns a cached service by UUID.
func (p *Peripheral) GetService(svc uuid.BTUUID) (*Service, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.services[svc]
	if !ok {
		return nil, blerrors.NewNotPresent("service", svc.String())
	}
	return s, nil
}

// GetCharacteristic returns a cached characteristic by (service, char) UUID.
func (p *Peripheral) GetCharacteristic(svc, ch uuid.BTUUID) (*Characteristic, error) {
	s, err := p.GetService(svc)
	if err != nil {
		return nil, err
	}
	c, ok := s.characteristics[ch]
	if !ok {
		return nil, blerrors.NewNotPresent("characteristic", ch.String())
	}
	return c, nil
}

// Connect drives the peripheral to model.Connected, performing service and
// characteristic discovery per configuration. Concurrent callers share the
// same outcome; cancelling the calling context triggers Disconnect.
func (p *Peripheral) Connect(ctx context.Context, configuration model.DeviceDescription) error {
	p.mu.Lock()
	if p.state == model.Connected {
		p.mu.Unlock()
		return nil
	}
	if p.connectDone == nil {
		p.connectDone = make(chan struct{})
		p.configuration = configuration
		p.connCtx, p.connCancel = context.WithCancel(context.Background())
		go p.runConnect()
	}
	done := p.connectDone
	p.mu.Unlock()

	select {
	case <-done:
		p.mu.RLock()
		err := p.connectErr
		p.mu.RUnlock()
		return err
	case <-ctx.Done():
		go func() { _ = p.Disconnect(context.Background()) }()
		return ctx.Err()
	}
}

func (p *Peripheral) runConnect() {
	p.setState(model.Connecting)

	err := p.be.Connect(p.connCtx, p.handle)
	if err != nil {
		p.finishConnect(wrapBackendErr("connect", err))
		return
	}

	if len(p.configuration.Services) == 0 {
		p.finishConnect(nil)
		return
	}

	discovered, err := p.be.DiscoverServices(p.connCtx, p.handle, &p.configuration)
	if err != nil {
		p.finishConnect(wrapBackendErr("discover services", err))
		_ = p.Disconnect(context.Background())
		return
	}

	p.mu.Lock()
	old := p.services
	p.services = make(map[uuid.BTUUID]*Service, len(discovered))
	for _, ds := range discovered {
		svc := &Service{UUID: ds.UUID, IsPrimary: ds.IsPrimary, characteristics: make(map[uuid.BTUUID]*Characteristic)}
		for _, dc := range ds.Characteristics {
			c := newCharacteristic(dc.UUID, dc.Properties)
			if prevSvc, ok := old[ds.UUID]; ok {
				if prev, ok := prevSvc.characteristics[dc.UUID]; ok {
					c.wantNotify = prev.wantNotificationsRequested()
				}
			}
			svc.characteristics[dc.UUID] = c
		}
		p.services[ds.UUID] = svc
	}
	p.mu.Unlock()

	p.runDiscoveryFanOut()

	p.finishConnect(nil)
}

// runDiscoveryFanOut performs step 5 of the connection pipeline: auto-read
// and auto-notify for every described characteristic, concurrently, with
// errors logged rather than propagated (only the service discovery step
// itself can fail the connect() continuation). Descriptor discovery is not
// performed; the DiscoverDescriptors flag is ignored.
func (p *Peripheral) runDiscoveryFanOut() {
	var wg sync.WaitGroup
	for _, sd := range p.configuration.Services {
		svc, err := p.GetService(sd.UUID)
		if err != nil {
			continue
		}
		descs := sd.Characteristics
		if descs == nil {
			for _, c := range svc.Characteristics() {
				descs = append(descs, model.CharacteristicDescription{UUID: c.UUID})
			}
		}
		for _, cd := range descs {
			ch, ok := svc.characteristics[cd.UUID]
			if !ok {
				continue
			}
			cd := cd
			sdUUID := sd.UUID
			if cd.AutoRead && ch.Properties.Has(model.PropRead) && ch.Value() == nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := p.Read(p.connCtx, sdUUID, ch.UUID); err != nil {
						p.logger.WithError(err).Debug("peripheral: auto-read failed")
					}
				}()
			}
			if ch.wantNotificationsRequested() && (ch.Properties.Has(model.PropNotify) || ch.Properties.Has(model.PropIndicate)) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := p.setNotify(p.connCtx, sdUUID, ch.UUID, true); err != nil {
						p.logger.WithError(err).Debug("peripheral: auto-subscribe failed")
					}
				}()
			}
			_ = cd.DiscoverDescriptors // descriptor discovery surfaced via backend extension, out of scope here
		}
	}
	wg.Wait()
}

func (c *Characteristic) wantNotificationsRequested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wantNotify
}

// wrapBackendErr resolves a failed backend call to either Cancelled or
// BackendError. A Disconnect racing an in-flight operation cancels its
// linked context (connCtx during the connect pipeline, or the
// disconnect-linked context threaded into Read/Write/etc.), which
// surfaces here as a bare context.Canceled with no distinguishing backend
// error attached; per spec §9's open-question resolution, that case
// resolves the waiter with Cancelled rather than a wrapped backend error.
func wrapBackendErr(detail string, err error) error {
	if errors.Is(err, context.Canceled) {
		return blerrors.NewCancelled(detail)
	}
	return blerrors.NewBackendError(detail, err)
}

func (p *Peripheral) finishConnect(err error) {
	p.mu.Lock()
	p.connectErr = err
	done := p.connectDone
	p.mu.Unlock()
	if err == nil {
		p.setState(model.Connected)
	}
	close(done)
}

// Disconnect requests disconnection. Before cancellation, any active
// notifications are turned off, best effort. Returns once the request has
// been submitted to the backend.
func (p *Peripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == model.Disconnected || p.state == model.Disconnecting {
		p.mu.Unlock()
		return nil
	}
	p.state = model.Disconnecting
	services := p.services
	cancel := p.connCancel
	p.mu.Unlock()
	p.stateChange.Fire(model.Disconnecting)

	for _, svc := range services {
		for _, ch := range svc.Characteristics() {
			if ch.IsNotifying() {
				_ = p.setNotify(ctx, svc.UUID, ch.UUID, false)
			}
		}
	}

	if cancel != nil {
		cancel()
	}
	close(p.disconnected)

	err := p.be.Disconnect(ctx, p.handle)

	p.mu.Lock()
	p.state = model.Disconnected
	p.lastActivity = time.Now()
	p.disconnected = make(chan struct{})
	p.connectDone = nil
	p.mu.Unlock()
	p.stateChange.Fire(model.Disconnected)

	if err != nil {
		return blerrors.NewBackendError("disconnect", err)
	}
	return nil
}

// Read performs a serialized GATT read of (svc, ch).
func (p *Peripheral) Read(ctx context.Context, svc, ch uuid.BTUUID) ([]byte, error) {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return nil, err
	}
	if !c.Properties.Has(model.PropRead) {
		return nil, blerrors.NewIncompatibleDataFormat(ch.String(), fmt.Errorf("characteristic is not readable"))
	}
	if err := c.opSlot.acquire(ctx, p.disconnectedCh()); err != nil {
		return nil, err
	}
	defer c.opSlot.release()

	opCtx, cancel := p.linkDisconnect(ctx)
	defer cancel()
	v, err := p.be.ReadCharacteristic(opCtx, p.handle, svc, ch)
	if err != nil {
		return nil, wrapBackendErr("read", err)
	}
	c.setValue(v)
	return v, nil
}

// Write performs a serialized, acknowledged GATT write.
func (p *Peripheral) Write(ctx context.Context, svc, ch uuid.BTUUID, value []byte) error {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return err
	}
	if !c.Properties.Has(model.PropWrite) {
		return blerrors.NewIncompatibleDataFormat(ch.String(), fmt.Errorf("characteristic is not writable"))
	}
	if err := c.opSlot.acquire(ctx, p.disconnectedCh()); err != nil {
		return err
	}
	defer c.opSlot.release()

	opCtx, cancel := p.linkDisconnect(ctx)
	defer cancel()
	if err := p.be.WriteCharacteristic(opCtx, p.handle, svc, ch, value, true); err != nil {
		return wrapBackendErr("write", err)
	}
	return nil
}

// WriteWithoutResponse writes using Write Command semantics, serialized
// through a single per-peripheral slot (not per-characteristic, per spec
// §4.3). Cancellation coalesces into a silent no-op: the bytes are
// discarded rather than surfacing an error.
func (p *Peripheral) WriteWithoutResponse(ctx context.Context, svc, ch uuid.BTUUID, value []byte) error {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return err
	}
	if !c.Properties.Has(model.PropWriteWithoutResponse) {
		return blerrors.NewIncompatibleDataFormat(ch.String(), fmt.Errorf("characteristic does not support write without response"))
	}
	if err := p.wwrSlot.acquire(ctx, p.disconnectedCh()); err != nil {
		return nil // coalesced no-op
	}
	defer p.wwrSlot.release()

	opCtx, cancel := p.linkDisconnect(ctx)
	defer cancel()
	if err := p.be.WriteCharacteristic(opCtx, p.handle, svc, ch, value, false); err != nil {
		return wrapBackendErr("writeWithoutResponse", err)
	}
	return nil
}

// EnableNotifications registers the caller's desire for (svc, ch)
// notifications. It returns NotPresent if (svc, ch) is not in the cached
// service table. If the peripheral is connected, the subscribe happens
// immediately; otherwise the request is honored during the next
// connection's discovery pass. Idempotent.
func (p *Peripheral) EnableNotifications(ctx context.Context, svc, ch uuid.BTUUID, enabled bool) error {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.wantNotify = enabled
	c.mu.Unlock()

	if p.State() == model.Connected {
		return p.setNotify(ctx, svc, ch, enabled)
	}
	return nil
}

func (p *Peripheral) setNotify(ctx context.Context, svc, ch uuid.BTUUID, enabled bool) error {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return err
	}
	if err := c.opSlot.acquire(ctx, p.disconnectedCh()); err != nil {
		return err
	}
	defer c.opSlot.release()

	opCtx, cancel := p.linkDisconnect(ctx)
	defer cancel()
	if err := p.be.SetNotify(opCtx, p.handle, svc, ch, enabled); err != nil {
		return wrapBackendErr("setNotify", err)
	}
	c.mu.Lock()
	c.isNotifying = enabled
	c.mu.Unlock()
	return nil
}

// ReadRSSI performs a serialized, live GATT RSSI read (spec §4.3
// readRSSI, §6 readRSSI/didReadRSSI). The cached RSSI returned by RSSI()
// reflects only the last advertisement or read; this always issues a
// fresh backend call.
func (p *Peripheral) ReadRSSI(ctx context.Context) (int, error) {
	if err := p.rssiSlot.acquire(ctx, p.disconnectedCh()); err != nil {
		return 0, err
	}
	defer p.rssiSlot.release()

	opCtx, cancel := p.linkDisconnect(ctx)
	defer cancel()
	rssi, err := p.be.ReadRSSI(opCtx, p.handle)
	if err != nil {
		return 0, wrapBackendErr("readRSSI", err)
	}
	p.mu.Lock()
	p.rssi = rssi
	p.mu.Unlock()
	return rssi, nil
}

// SendRequest performs a control-point operation (spec §5 "sendRequest",
// GLOSSARY "control-point characteristic"): it writes value to (svc, ch)
// and awaits the response delivered via a notification on that same
// characteristic. The characteristic must already be notifying; a second
// request against a control point that still has one outstanding is
// rejected rather than queued, since a queued response could not be
// matched back to the right write.
func (p *Peripheral) SendRequest(ctx context.Context, svc, ch uuid.BTUUID, value []byte) ([]byte, error) {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return nil, err
	}
	if !c.IsNotifying() {
		return nil, blerrors.NewControlPointRequiresNotifying(ch.String())
	}
	select {
	case c.opSlot.sem <- struct{}{}:
	default:
		return nil, blerrors.NewControlPointInProgress(ch.String())
	}
	defer c.opSlot.release()

	response := make(chan []byte, 1)
	handle := c.RegisterOnChange(func(v []byte) {
		select {
		case response <- v:
		default:
		}
	})
	defer handle.Deregister()

	opCtx, cancel := p.linkDisconnect(ctx)
	defer cancel()
	if err := p.be.WriteCharacteristic(opCtx, p.handle, svc, ch, value, true); err != nil {
		return nil, wrapBackendErr("sendRequest", err)
	}

	select {
	case v := <-response:
		return v, nil
	case <-opCtx.Done():
		return nil, blerrors.NewCancelled("sendRequest")
	}
}

func (p *Peripheral) disconnectedCh() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.disconnected
}

// linkDisconnect derives a context that is cancelled when ctx is done, or
// when the peripheral disconnects, whichever happens first. Used to bound
// any synchronous backend call made after a slot has already been
// acquired, so a Disconnect racing an in-flight operation cancels it
// within one tick (spec §4.3, §8 testable property 13) rather than only
// being observed by the next slot.acquire.
func (p *Peripheral) linkDisconnect(ctx context.Context) (context.Context, context.CancelFunc) {
	linked, cancel := context.WithCancel(ctx)
	disconnected := p.disconnectedCh()
	stop := make(chan struct{})
	go func() {
		select {
		case <-disconnected:
			cancel()
		case <-stop:
		}
	}()
	return linked, func() {
		close(stop)
		cancel()
	}
}

// ClearServiceCache discards the cached GATT table without attempting
// rediscovery. Used when the central coordinator reduces a peripheral's
// state in response to a backend power-off transition (spec §8, testable
// property 15), where rediscovery would be meaningless.
func (p *Peripheral) ClearServiceCache() {
	p.mu.Lock()
	p.services = make(map[uuid.BTUUID]*Service)
	p.mu.Unlock()
}

// HandleNotification applies an unsolicited value update from the backend:
// the cache is updated and onChange handlers fire. Called by the central
// coordinator's event-routing loop.
func (p *Peripheral) HandleNotification(svc, ch uuid.BTUUID, value []byte) {
	c, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return
	}
	c.setValue(value)
}

// HandleServicesChanged invalidates the peripheral's cached GATT table and
// restarts discovery for the previously requested services (spec §4.3
// "Service invalidation").
func (p *Peripheral) HandleServicesChanged() {
	p.mu.Lock()
	removed := p.services
	p.services = make(map[uuid.BTUUID]*Service)
	p.mu.Unlock()

	for _, svc := range removed {
		for _, c := range svc.Characteristics() {
			c.onChange.Fire(nil)
		}
	}

	if p.connCtx != nil {
		go p.runDiscoveryRestart()
	}
}

func (p *Peripheral) runDiscoveryRestart() {
	discovered, err := p.be.DiscoverServices(p.connCtx, p.handle, &p.configuration)
	if err != nil {
		p.logger.WithError(err).Warn("peripheral: service rediscovery failed")
		return
	}
	p.mu.Lock()
	p.services = make(map[uuid.BTUUID]*Service, len(discovered))
	for _, ds := range discovered {
		svc := &Service{UUID: ds.UUID, IsPrimary: ds.IsPrimary, characteristics: make(map[uuid.BTUUID]*Characteristic)}
		for _, dc := range ds.Characteristics {
			svc.characteristics[dc.UUID] = newCharacteristic(dc.UUID, dc.Properties)
		}
		p.services[ds.UUID] = svc
	}
	p.mu.Unlock()
	p.runDiscoveryFanOut()
}
