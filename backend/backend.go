// Package backend defines the abstract GATT Backend Interface (spec §6):
// the seam between the runtime's state machine and a concrete transport.
// It is generalized from internal/device/device.go's ScanningDevice/
// Device/Connection interfaces and internal/device/ble_connection.go's
// BLEConnection, stripped of any go-ble-specific type so the central and
// peripheral packages never import a platform package directly.
package backend

import (
	"context"
	"time"

	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/uuid"
)

// PeripheralHandle is an opaque backend-assigned identity for a
// peripheral discovered or retrieved through a Backend. Implementations
// define their own concrete type; callers treat it as opaque.
type PeripheralHandle interface {
	// ID is the stable identifier the rest of the runtime indexes
	// peripherals by (spec §3's Peripheral identity).
	ID() string
}

// AdvertisementEvent is delivered by Backend.Scan for every advertisement
// observed, regardless of any filtering (filtering is the Discovery
// Session's job, not the backend's).
type AdvertisementEvent struct {
	Peripheral PeripheralHandle
	Data       model.AdvertisementData
	RSSI       int
}

// ConnectionEvent reports an asynchronous connection-state transition
// originating from the backend (e.g. a peer-initiated disconnect).
type ConnectionEvent struct {
	Peripheral PeripheralHandle
	Connected  bool
	Err        error
}

// NotificationEvent delivers a single updated characteristic value.
type NotificationEvent struct {
	Peripheral         PeripheralHandle
	ServiceUUID        uuid.BTUUID
	CharacteristicUUID uuid.BTUUID
	Value              []byte
}

// ServicesChangedEvent reports a "Service Changed" indication: the
// peripheral's GATT table must be rediscovered (spec §4.3 "Service
// invalidation").
type ServicesChangedEvent struct {
	Peripheral PeripheralHandle
}

// DiscoveredCharacteristic is one characteristic as reported by the
// backend's service-discovery call.
type DiscoveredCharacteristic struct {
	UUID       uuid.BTUUID
	Properties model.Properties
}

// DiscoveredService is one service as reported by the backend's
// service-discovery call.
type DiscoveredService struct {
	UUID            uuid.BTUUID
	IsPrimary       bool
	Characteristics []DiscoveredCharacteristic
}

// Backend is the abstract GATT Backend Interface of spec §6. A concrete
// implementation (backend/goble, backend/mock) owns exactly one
// adapter's worth of platform state; the central package owns exactly
// one Backend instance.
type Backend interface {
	// State returns the adapter's current power/availability state.
	State() model.CentralState

	// WatchState delivers every CentralState transition until ctx is
	// cancelled.
	WatchState(ctx context.Context) (<-chan model.CentralState, error)

	// Scan begins scanning, delivering every observed advertisement
	// until ctx is cancelled. allowDuplicates mirrors the platform
	// scan option of the same name.
	Scan(ctx context.Context, allowDuplicates bool) (<-chan AdvertisementEvent, error)

	// RetrieveByID resolves a previously-seen peripheral identifier to a
	// handle without scanning, for the "retrieved weakly" path of §3.
	RetrieveByID(ctx context.Context, id string) (PeripheralHandle, error)

	// Connect establishes a connection, returning once the platform
	// reports the link is up (prior to GATT discovery).
	Connect(ctx context.Context, p PeripheralHandle) error

	// Disconnect tears down an established connection.
	Disconnect(ctx context.Context, p PeripheralHandle) error

	// WatchConnectionEvents delivers peer-initiated connection-state
	// changes for p until ctx is cancelled.
	WatchConnectionEvents(ctx context.Context, p PeripheralHandle) (<-chan ConnectionEvent, error)

	// DiscoverServices enumerates p's GATT table, honoring the optional
	// service/characteristic filter from a DeviceDescription. A nil
	// filter means "discover everything".
	DiscoverServices(ctx context.Context, p PeripheralHandle, wanted *model.DeviceDescription) ([]DiscoveredService, error)

	// ReadCharacteristic performs a GATT read.
	ReadCharacteristic(ctx context.Context, p PeripheralHandle, svc, ch uuid.BTUUID) ([]byte, error)

	// WriteCharacteristic performs a GATT write. withResponse selects
	// Write Request vs Write Command (writeWithoutResponse).
	WriteCharacteristic(ctx context.Context, p PeripheralHandle, svc, ch uuid.BTUUID, value []byte, withResponse bool) error

	// SetNotify enables or disables notify/indicate delivery for ch.
	SetNotify(ctx context.Context, p PeripheralHandle, svc, ch uuid.BTUUID, enabled bool) error

	// ReadRSSI performs a live GATT RSSI read against a connected
	// peripheral (spec §4.3 readRSSI, §6 readRSSI/didReadRSSI).
	ReadRSSI(ctx context.Context, p PeripheralHandle) (int, error)

	// WatchNotifications delivers NotificationEvent and
	// ServicesChangedEvent for p until ctx is cancelled.
	WatchNotifications(ctx context.Context, p PeripheralHandle) (<-chan NotificationEvent, <-chan ServicesChangedEvent, error)
}

// OperationTimeout bounds any single Backend call when a caller does not
// supply its own context deadline. Mirrors the default timeouts carried
// on Config (pkg/config/config.go's ScanTimeout/DeviceTimeout, generalized).
const OperationTimeout = 30 * time.Second

// DefaultChannelBuffer is the default buffer depth for event channels
// returned by Scan/WatchNotifications, mirroring internal/device/go-ble/
// connection.go's DefaultChannelBuffer.
const DefaultChannelBuffer = 128
