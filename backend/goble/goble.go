//go:build darwin || linux

// Package goble is the concrete backend.Backend adapter over
// github.com/go-ble/ble, grounded on internal/device/go-ble/connection.go
// and pkg/ble/scanner.go. It is the only package in the module that
// imports a platform device package (ble/darwin, ble/linux).
package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/backend"
	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/uuid"
)

// DeviceFactory constructs the platform ble.Device. Overridable in tests,
// following internal/device/go-ble/connection.go's DeviceFactory idiom.
var DeviceFactory func() (ble.Device, error)

// Handle wraps a go-ble advertisement's address as a
// backend.PeripheralHandle, plus the live ble.Client once connected.
type Handle struct {
	addr string

	mu        sync.Mutex
	client    ble.Client
	notifyCh  chan backend.NotificationEvent
	changedCh chan backend.ServicesChangedEvent
}

// ID implements backend.PeripheralHandle.
func (h *Handle) ID() string { return h.addr }

// channels lazily creates the notification/service-changed channels this
// handle's subscriptions deliver on, shared across WatchNotifications
// callers for the lifetime of one connection.
func (h *Handle) channels() (chan backend.NotificationEvent, chan backend.ServicesChangedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notifyCh == nil {
		h.notifyCh = make(chan backend.NotificationEvent, backend.DefaultChannelBuffer)
	}
	if h.changedCh == nil {
		h.changedCh = make(chan backend.ServicesChangedEvent, 1)
	}
	return h.notifyCh, h.changedCh
}

// Backend adapts a single go-ble device instance to backend.Backend.
type Backend struct {
	logger *logrus.Logger

	mu      sync.Mutex
	dev     ble.Device
	state   model.CentralState
	handles map[string]*Handle
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend, initializing the platform device via
// DeviceFactory. Bluetooth-state errors are normalized the way
// internal/device/ble_connection.go's DeviceFactory does.
func New(logger *logrus.Logger) (*Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if DeviceFactory == nil {
		return nil, fmt.Errorf("goble: no DeviceFactory configured for this platform")
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("goble: creating BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	return &Backend{
		logger:  logger,
		dev:     dev,
		state:   model.CentralPoweredOn,
		handles: make(map[string]*Handle),
	}, nil
}

func (b *Backend) State() model.CentralState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Backend) WatchState(ctx context.Context) (<-chan model.CentralState, error) {
	ch := make(chan model.CentralState, 1)
	ch <- b.State()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *Backend) handleFor(addr string) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[addr]
	if !ok {
		h = &Handle{addr: addr}
		b.handles[addr] = h
	}
	return h
}

func (b *Backend) Scan(ctx context.Context, allowDuplicates bool) (<-chan backend.AdvertisementEvent, error) {
	out := make(chan backend.AdvertisementEvent, backend.DefaultChannelBuffer)

	go func() {
		defer close(out)
		err := ble.Scan(ctx, allowDuplicates, func(adv ble.Advertisement) {
			ev := backend.AdvertisementEvent{
				Peripheral: b.handleFor(adv.Addr().String()),
				RSSI:       adv.RSSI(),
				Data:       convertAdvertisement(adv),
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}, nil)
		if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
			b.logger.WithError(err).Error("goble: scan terminated")
		}
	}()

	return out, nil
}

func (b *Backend) RetrieveByID(ctx context.Context, id string) (backend.PeripheralHandle, error) {
	return b.handleFor(id), nil
}

func (b *Backend) Connect(ctx context.Context, p backend.PeripheralHandle) error {
	h, ok := p.(*Handle)
	if !ok {
		return fmt.Errorf("goble: foreign peripheral handle")
	}
	client, err := ble.Dial(ctx, ble.NewAddr(h.addr))
	if err != nil {
		return fmt.Errorf("goble: connect %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.client = client
	h.mu.Unlock()
	return nil
}

func (b *Backend) Disconnect(ctx context.Context, p backend.PeripheralHandle) error {
	h, ok := p.(*Handle)
	if !ok {
		return fmt.Errorf("goble: foreign peripheral handle")
	}
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

func (b *Backend) WatchConnectionEvents(ctx context.Context, p backend.PeripheralHandle) (<-chan backend.ConnectionEvent, error) {
	h, ok := p.(*Handle)
	if !ok {
		return nil, fmt.Errorf("goble: foreign peripheral handle")
	}
	out := make(chan backend.ConnectionEvent, 1)
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		close(out)
		return out, nil
	}
	go func() {
		defer close(out)
		select {
		case <-client.Disconnected():
			select {
			case out <- backend.ConnectionEvent{Peripheral: p, Connected: false}:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (b *Backend) DiscoverServices(ctx context.Context, p backend.PeripheralHandle, wanted *model.DeviceDescription) ([]backend.DiscoveredService, error) {
	h, ok := p.(*Handle)
	if !ok {
		return nil, fmt.Errorf("goble: foreign peripheral handle")
	}
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("goble: not connected")
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("goble: discovering services: %w", err)
	}

	var result []backend.DiscoveredService
	for _, s := range profile.Services {
		svcUUID, err := uuid.Parse(s.UUID.String())
		if err != nil {
			continue
		}
		if wanted != nil && !wants(wanted, svcUUID) {
			continue
		}
		var keep map[uuid.BTUUID]bool
		if wanted != nil {
			for _, sd := range wanted.Services {
				if sd.UUID == svcUUID && len(sd.Characteristics) > 0 {
					keep = make(map[uuid.BTUUID]bool, len(sd.Characteristics))
					for _, cd := range sd.Characteristics {
						keep[cd.UUID] = true
					}
				}
			}
		}
		ds := backend.DiscoveredService{UUID: svcUUID, IsPrimary: true}
		for _, c := range s.Characteristics {
			chUUID, err := uuid.Parse(c.UUID.String())
			if err != nil {
				continue
			}
			if keep != nil && !keep[chUUID] {
				continue
			}
			ds.Characteristics = append(ds.Characteristics, backend.DiscoveredCharacteristic{
				UUID:       chUUID,
				Properties: convertProperties(c.Property),
			})
		}
		result = append(result, ds)
	}
	return result, nil
}

func wants(d *model.DeviceDescription, svc uuid.BTUUID) bool {
	if len(d.Services) == 0 {
		return true
	}
	for _, s := range d.Services {
		if s.UUID == svc {
			return true
		}
	}
	return false
}

func convertProperties(p ble.Property) model.Properties {
	var out model.Properties
	if p&ble.CharRead != 0 {
		out |= model.PropRead
	}
	if p&ble.CharWrite != 0 {
		out |= model.PropWrite
	}
	if p&ble.CharWriteNR != 0 {
		out |= model.PropWriteWithoutResponse
	}
	if p&ble.CharNotify != 0 {
		out |= model.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= model.PropIndicate
	}
	return out
}

func convertAdvertisement(adv ble.Advertisement) model.AdvertisementData {
	data := model.AdvertisementData{
		LocalName:        adv.LocalName(),
		ManufacturerData: adv.ManufacturerData(),
		TxPowerLevel:     adv.TxPowerLevel(),
		RawAdvertisement: adv,
	}
	if adv.Connectable() {
		data.IsConnectable = model.True
	} else {
		data.IsConnectable = model.False
	}
	for _, u := range adv.Services() {
		if parsed, err := uuid.Parse(u.String()); err == nil {
			data.ServiceUUIDs = append(data.ServiceUUIDs, parsed)
		}
	}
	for _, u := range adv.OverflowService() {
		if parsed, err := uuid.Parse(u.String()); err == nil {
			data.OverflowServiceUUIDs = append(data.OverflowServiceUUIDs, parsed)
		}
	}
	for _, u := range adv.SolicitedService() {
		if parsed, err := uuid.Parse(u.String()); err == nil {
			data.SolicitedServiceUUIDs = append(data.SolicitedServiceUUIDs, parsed)
		}
	}
	if sd := adv.ServiceData(); len(sd) > 0 {
		data.ServiceData = make(map[uuid.BTUUID][]byte, len(sd))
		for _, entry := range sd {
			if parsed, err := uuid.Parse(entry.UUID.String()); err == nil {
				data.ServiceData[parsed] = entry.Data
			}
		}
	}
	return data
}

func (b *Backend) ReadCharacteristic(ctx context.Context, p backend.PeripheralHandle, svc, ch uuid.BTUUID) ([]byte, error) {
	h, client, err := b.clientFor(p)
	if err != nil {
		return nil, err
	}
	c, err := b.resolveChar(client, svc, ch)
	if err != nil {
		return nil, err
	}
	_ = h
	return client.ReadCharacteristic(c)
}

func (b *Backend) WriteCharacteristic(ctx context.Context, p backend.PeripheralHandle, svc, ch uuid.BTUUID, value []byte, withResponse bool) error {
	_, client, err := b.clientFor(p)
	if err != nil {
		return err
	}
	c, err := b.resolveChar(client, svc, ch)
	if err != nil {
		return err
	}
	return client.WriteCharacteristic(c, value, !withResponse)
}

func (b *Backend) SetNotify(ctx context.Context, p backend.PeripheralHandle, svc, ch uuid.BTUUID, enabled bool) error {
	h, client, err := b.clientFor(p)
	if err != nil {
		return err
	}
	c, err := b.resolveChar(client, svc, ch)
	if err != nil {
		return err
	}
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	if !enabled {
		return client.Unsubscribe(c, ind)
	}
	notifyCh, _ := h.channels()
	return client.Subscribe(c, ind, func(v []byte) {
		ev := backend.NotificationEvent{
			Peripheral:         p,
			ServiceUUID:        svc,
			CharacteristicUUID: ch,
			Value:              append([]byte(nil), v...),
		}
		select {
		case notifyCh <- ev:
		default:
		}
	})
}

// ReadRSSI performs a live RSSI read against the connected peripheral.
// go-ble's Client.ReadRSSI is synchronous and has no context of its own,
// matching ReadCharacteristic/WriteCharacteristic's shape in this file.
func (b *Backend) ReadRSSI(ctx context.Context, p backend.PeripheralHandle) (int, error) {
	_, client, err := b.clientFor(p)
	if err != nil {
		return 0, err
	}
	return client.ReadRSSI(), nil
}

// WatchNotifications returns the handle's shared notification and
// service-changed channels. They are not closed when ctx is cancelled —
// a fresh Subscribe after reconnect reuses the same handle — but no
// further events are delivered once the caller stops reading.
func (b *Backend) WatchNotifications(ctx context.Context, p backend.PeripheralHandle) (<-chan backend.NotificationEvent, <-chan backend.ServicesChangedEvent, error) {
	h, ok := p.(*Handle)
	if !ok {
		return nil, nil, fmt.Errorf("goble: foreign peripheral handle")
	}
	notify, changed := h.channels()
	return notify, changed, nil
}

func (b *Backend) clientFor(p backend.PeripheralHandle) (*Handle, ble.Client, error) {
	h, ok := p.(*Handle)
	if !ok {
		return nil, nil, fmt.Errorf("goble: foreign peripheral handle")
	}
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, nil, fmt.Errorf("goble: not connected")
	}
	return h, client, nil
}

func (b *Backend) resolveChar(client ble.Client, svc, ch uuid.BTUUID) (*ble.Characteristic, error) {
	profile, err := client.DiscoverProfile(false)
	if err != nil {
		return nil, fmt.Errorf("goble: resolving characteristic: %w", err)
	}
	for _, s := range profile.Services {
		parsedSvc, err := uuid.Parse(s.UUID.String())
		if err != nil || parsedSvc != svc {
			continue
		}
		for _, c := range s.Characteristics {
			parsedCh, err := uuid.Parse(c.UUID.String())
			if err == nil && parsedCh == ch {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("goble: characteristic %s/%s not found", svc, ch)
}
