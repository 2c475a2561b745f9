package bridge

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
	"github.com/srg/blecentral/peripheral"
	"github.com/srg/blecentral/uuid"
)

var (
	testSvc    = uuid.MustParse("ffe0")
	testWrite  = uuid.MustParse("ffe1")
	testNotify = uuid.MustParse("ffe2")
)

func connectedPeripheral(t *testing.T) (*peripheral.Peripheral, *bemock.Backend) {
	t.Helper()
	be := new(bemock.Backend)
	h := bemock.NewHandle("bridge-peer")
	p := peripheral.New("bridge-peer", h, be, logrus.New())

	be.On("Connect", mock.Anything, mock.Anything).Return(nil)
	be.On("DiscoverServices", mock.Anything, mock.Anything, mock.Anything).Return([]backend.DiscoveredService{
		{UUID: testSvc, IsPrimary: true, Characteristics: []backend.DiscoveredCharacteristic{
			{UUID: testWrite, Properties: model.PropWriteWithoutResponse},
			{UUID: testNotify, Properties: model.PropNotify},
		}},
	}, nil)

	cfg := model.DeviceDescription{Services: []model.ServiceDescription{{UUID: testSvc}}}
	require.NoError(t, p.Connect(context.Background(), cfg))
	return p, be
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 1024, opts.BufferSize)
}

func TestStartRejectsMissingOptions(t *testing.T) {
	p, _ := connectedPeripheral(t)
	b := New(nil)
	_, err := b.Start(context.Background(), p, &Options{})
	assert.Error(t, err)
}

func TestStartAndStopRoundTrip(t *testing.T) {
	p, be := connectedPeripheral(t)
	be.On("WriteCharacteristic", mock.Anything, mock.Anything, testSvc, testWrite, mock.Anything, false).Return(nil)

	b := New(logrus.New())
	name, err := b.Start(context.Background(), p, &Options{
		Service:              testSvc,
		WriteCharacteristic:  testWrite,
		NotifyCharacteristic: testNotify,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	assert.Equal(t, name, b.Name())

	require.NoError(t, b.Stop())
	assert.Empty(t, b.Name())
}

func TestStartTwiceFails(t *testing.T) {
	p, be := connectedPeripheral(t)
	be.On("WriteCharacteristic", mock.Anything, mock.Anything, testSvc, testWrite, mock.Anything, false).Return(nil).Maybe()

	b := New(logrus.New())
	opts := &Options{Service: testSvc, WriteCharacteristic: testWrite, NotifyCharacteristic: testNotify}
	_, err := b.Start(context.Background(), p, opts)
	require.NoError(t, err)
	defer b.Stop()

	_, err = b.Start(context.Background(), p, opts)
	assert.Error(t, err)
}

func TestNotificationIsWrittenBackToPTY(t *testing.T) {
	p, be := connectedPeripheral(t)
	be.On("WriteCharacteristic", mock.Anything, mock.Anything, testSvc, testWrite, mock.Anything, false).Return(nil).Maybe()

	b := New(logrus.New())
	_, err := b.Start(context.Background(), p, &Options{
		Service:              testSvc,
		WriteCharacteristic:  testWrite,
		NotifyCharacteristic: testNotify,
	})
	require.NoError(t, err)
	defer b.Stop()

	p.HandleNotification(testSvc, testNotify, []byte("hello"))

	buf := make([]byte, 16)
	require.NoError(t, b.slave.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := b.slave.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}
