package peripheral

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/backend"
	bemock "github.com/srg/blecentral/backend/mock"
	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/uuid"
)

var (
	testSvcUUID = uuid.MustParse("180d")
	testChrUUID = uuid.MustParse("2a37")
)

func discoverable() []backend.DiscoveredService {
	return []backend.DiscoveredService{
		{
			UUID:      testSvcUUID,
			IsPrimary: true,
			Characteristics: []backend.DiscoveredCharacteristic{
				{UUID: testChrUUID, Properties: model.PropRead | model.PropNotify},
			},
		},
	}
}

func newTestPeripheral(t *testing.T) (*Peripheral, *bemock.Backend) {
	t.Helper()
	be := new(bemock.Backend)
	h := bemock.NewHandle("peer-1")
	p := New("peer-1", h, be, logrus.New())
	return p, be
}

func TestConnectDiscoversServices(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	be.On("DiscoverServices", mock.Anything, p.handle, mock.Anything).Return(discoverable(), nil)

	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvcUUID}}}
	err := p.Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.Connected, p.State())

	svc, err := p.GetService(testSvcUUID)
	require.NoError(t, err)
	assert.True(t, svc.IsPrimary)

	_, err = p.GetCharacteristic(testSvcUUID, testChrUUID)
	require.NoError(t, err)
}

func TestConnectConcurrentCallersShareOutcome(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)

	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() { results <- p.Connect(context.Background(), model.DeviceDescription{}) }()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, model.Connected, p.State())
	be.AssertNumberOfCalls(t, "Connect", 1)
}

func TestReadFailsWhenNotReadable(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	be.On("DiscoverServices", mock.Anything, p.handle, mock.Anything).Return([]backend.DiscoveredService{
		{UUID: testSvcUUID, Characteristics: []backend.DiscoveredCharacteristic{
			{UUID: testChrUUID, Properties: model.PropWrite},
		}},
	}, nil)
	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvcUUID}}}
	require.NoError(t, p.Connect(context.Background(), cfg))

	_, err := p.Read(context.Background(), testSvcUUID, testChrUUID)
	require.Error(t, err)
}

func TestReadUpdatesCacheAndFiresOnChange(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	be.On("DiscoverServices", mock.Anything, p.handle, mock.Anything).Return(discoverable(), nil)
	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvcUUID}}}
	require.NoError(t, p.Connect(context.Background(), cfg))

	be.On("ReadCharacteristic", mock.Anything, p.handle, testSvcUUID, testChrUUID).Return([]byte{0x42}, nil)

	fired := make(chan []byte, 1)
	ch, err := p.GetCharacteristic(testSvcUUID, testChrUUID)
	require.NoError(t, err)
	ch.RegisterOnChange(func(v []byte) { fired <- v })

	v, err := p.Read(context.Background(), testSvcUUID, testChrUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, v)

	select {
	case got := <-fired:
		assert.Equal(t, []byte{0x42}, got)
	case <-time.After(time.Second):
		t.Fatal("onChange did not fire")
	}
}

func TestWriteWithoutResponseCoalescesCancellation(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	be.On("DiscoverServices", mock.Anything, p.handle, mock.Anything).Return([]backend.DiscoveredService{
		{UUID: testSvcUUID, Characteristics: []backend.DiscoveredCharacteristic{
			{UUID: testChrUUID, Properties: model.PropWriteWithoutResponse},
		}},
	}, nil)
	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvcUUID}}}
	require.NoError(t, p.Connect(context.Background(), cfg))

	// Hold the slot so the second call blocks, then cancel it.
	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan struct{})
	be.On("WriteCharacteristic", mock.Anything, p.handle, testSvcUUID, testChrUUID, []byte{1}, false).
		Run(func(args mock.Arguments) {
			close(blocked)
			time.Sleep(50 * time.Millisecond)
		}).Return(nil).Once()

	go func() { _ = p.WriteWithoutResponse(context.Background(), testSvcUUID, testChrUUID, []byte{1}) }()
	<-blocked
	cancel()

	err := p.WriteWithoutResponse(ctx, testSvcUUID, testChrUUID, []byte{2})
	assert.NoError(t, err, "cancelled writeWithoutResponse must coalesce to a silent no-op")
}

func TestDisconnectResetsState(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	be.On("DiscoverServices", mock.Anything, p.handle, mock.Anything).Return(discoverable(), nil)
	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvcUUID}}}
	require.NoError(t, p.Connect(context.Background(), cfg))

	be.On("Disconnect", mock.Anything, p.handle).Return(nil)
	require.NoError(t, p.Disconnect(context.Background()))
	assert.Equal(t, model.Disconnected, p.State())
}

func TestHandleNotificationUpdatesCache(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	be.On("DiscoverServices", mock.Anything, p.handle, mock.Anything).Return(discoverable(), nil)
	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvcUUID}}}
	require.NoError(t, p.Connect(context.Background(), cfg))

	p.HandleNotification(testSvcUUID, testChrUUID, []byte{0x9})
	ch, err := p.GetCharacteristic(testSvcUUID, testChrUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x9}, ch.Value())
}

func TestLastActivityIsNowWhileConnected(t *testing.T) {
	p, be := newTestPeripheral(t)
	be.On("Connect", mock.Anything, p.handle).Return(nil)
	require.NoError(t, p.Connect(context.Background(), model.DeviceDescription{}))

	before := time.Now()
	assert.True(t, !p.LastActivity().Before(before))
}
