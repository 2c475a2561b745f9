// Package mock is a testify/mock implementation of backend.Backend,
// grounded on pkg/device/device_test.go's MockAdvertisement/MockAddr
// pattern, generalized to the full Backend interface so discovery/
// peripheral/central tests can run without any platform stack.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blecentral/backend"
	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/uuid"
)

// Handle is a trivial backend.PeripheralHandle for tests.
type Handle struct {
	id string
}

// NewHandle wraps id as a PeripheralHandle.
func NewHandle(id string) Handle { return Handle{id: id} }

// ID implements backend.PeripheralHandle.
func (h Handle) ID() string { return h.id }

// Backend is a mock.Mock-based backend.Backend. Every method records its
// call and returns whatever was configured with .On(...).
type Backend struct {
	mock.Mock
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) State() model.CentralState {
	args := b.Called()
	return args.Get(0).(model.CentralState)
}

func (b *Backend) WatchState(ctx context.Context) (<-chan model.CentralState, error) {
	args := b.Called(ctx)
	ch, _ := args.Get(0).(<-chan model.CentralState)
	return ch, args.Error(1)
}

func (b *Backend) Scan(ctx context.Context, allowDuplicates bool) (<-chan backend.AdvertisementEvent, error) {
	args := b.Called(ctx, allowDuplicates)
	ch, _ := args.Get(0).(<-chan backend.AdvertisementEvent)
	return ch, args.Error(1)
}

func (b *Backend) RetrieveByID(ctx context.Context, id string) (backend.PeripheralHandle, error) {
	args := b.Called(ctx, id)
	h, _ := args.Get(0).(backend.PeripheralHandle)
	return h, args.Error(1)
}

func (b *Backend) Connect(ctx context.Context, p backend.PeripheralHandle) error {
	args := b.Called(ctx, p)
	return args.Error(0)
}

func (b *Backend) Disconnect(ctx context.Context, p backend.PeripheralHandle) error {
	args := b.Called(ctx, p)
	return args.Error(0)
}

func (b *Backend) WatchConnectionEvents(ctx context.Context, p backend.PeripheralHandle) (<-chan backend.ConnectionEvent, error) {
	args := b.Called(ctx, p)
	ch, _ := args.Get(0).(<-chan backend.ConnectionEvent)
	return ch, args.Error(1)
}

func (b *Backend) DiscoverServices(ctx context.Context, p backend.PeripheralHandle, wanted *model.DeviceDescription) ([]backend.DiscoveredService, error) {
	args := b.Called(ctx, p, wanted)
	svcs, _ := args.Get(0).([]backend.DiscoveredService)
	return svcs, args.Error(1)
}

func (b *Backend) ReadCharacteristic(ctx context.Context, p backend.PeripheralHandle, svc, ch uuid.BTUUID) ([]byte, error) {
	args := b.Called(ctx, p, svc, ch)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (b *Backend) WriteCharacteristic(ctx context.Context, p backend.PeripheralHandle, svc, ch uuid.BTUUID, value []byte, withResponse bool) error {
	args := b.Called(ctx, p, svc, ch, value, withResponse)
	return args.Error(0)
}

func (b *Backend) SetNotify(ctx context.Context, p backend.PeripheralHandle, svc, ch uuid.BTUUID, enabled bool) error {
	args := b.Called(ctx, p, svc, ch, enabled)
	return args.Error(0)
}

func (b *Backend) ReadRSSI(ctx context.Context, p backend.PeripheralHandle) (int, error) {
	args := b.Called(ctx, p)
	return args.Int(0), args.Error(1)
}

func (b *Backend) WatchNotifications(ctx context.Context, p backend.PeripheralHandle) (<-chan backend.NotificationEvent, <-chan backend.ServicesChangedEvent, error) {
	args := b.Called(ctx, p)
	notify, _ := args.Get(0).(<-chan backend.NotificationEvent)
	changed, _ := args.Get(1).(<-chan backend.ServicesChangedEvent)
	return notify, changed, args.Error(2)
}
