package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/backend"
	bemock "github.com/srg/blecentral/backend/mock"
	"github.com/srg/blecentral/model"
)

// fakeHost is a hand-rolled Host recording every call, good enough for
// discovery's timer-scheduling logic without dragging in the central
// package (which would create an import cycle back into this one).
type fakeHost struct {
	mu           sync.Mutex
	activity     map[string]time.Time
	connected    int
	manualDisc   map[string]bool
	expired      []string
	autoConnects []string
	lowestRSSI   string
}

func newFakeHost() *fakeHost {
	return &fakeHost{activity: make(map[string]time.Time), manualDisc: make(map[string]bool)}
}

func (h *fakeHost) DisconnectedActivity() map[string]time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]time.Time, len(h.activity))
	for k, v := range h.activity {
		out[k] = v
	}
	return out
}

func (h *fakeHost) InsertOrUpdate(id string, _ backend.PeripheralHandle, _ model.AdvertisementData, _ int, _ model.DeviceDescription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, existed := h.activity[id]
	h.activity[id] = time.Now()
	return !existed
}

func (h *fakeHost) ExpireStale(ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired = append(h.expired, ids...)
	for _, id := range ids {
		delete(h.activity, id)
	}
}

func (h *fakeHost) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *fakeHost) LowestRSSIDisconnected() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lowestRSSI
}

func (h *fakeHost) WasManuallyDisconnected(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manualDisc[id]
}

func (h *fakeHost) AutoConnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoConnects = append(h.autoConnects, id)
}

func (h *fakeHost) snapshotExpired() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.expired))
	copy(out, h.expired)
	return out
}

func (h *fakeHost) snapshotAutoConnects() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.autoConnects))
	copy(out, h.autoConnects)
	return out
}

func newTestSession(t *testing.T, host Host, cfg model.DiscoveryConfiguration) (*Session, chan backend.AdvertisementEvent, *bemock.Backend) {
	t.Helper()
	be := new(bemock.Backend)
	events := make(chan backend.AdvertisementEvent, 16)
	be.On("Scan", mock.Anything, true).Return((<-chan backend.AdvertisementEvent)(events), nil)
	s := New(host, be, cfg, logrus.New())
	require.NoError(t, s.Start(context.Background()))
	return s, events, be
}

func TestHandleAdvertisementFiltersLowRSSI(t *testing.T) {
	host := newFakeHost()
	cfg := model.DiscoveryConfiguration{MinimumRSSI: -80, AdvertisementStaleInterval: time.Hour}
	s, events, _ := newTestSession(t, host, cfg)
	defer s.Stop()

	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -90}
	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("b"), RSSI: model.RSSIUnavailable}
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, host.DisconnectedActivity())
}

func TestHandleAdvertisementInsertsAboveThreshold(t *testing.T) {
	host := newFakeHost()
	cfg := model.DiscoveryConfiguration{MinimumRSSI: -80, AdvertisementStaleInterval: time.Hour}
	s, events, _ := newTestSession(t, host, cfg)
	defer s.Stop()

	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -50}
	time.Sleep(50 * time.Millisecond)

	assert.Contains(t, host.DisconnectedActivity(), "a")
}

func TestStaleExpiryFiresAfterInterval(t *testing.T) {
	host := newFakeHost()
	cfg := model.DiscoveryConfiguration{MinimumRSSI: -80, AdvertisementStaleInterval: 30 * time.Millisecond}
	s, events, _ := newTestSession(t, host, cfg)
	defer s.Stop()

	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -50}

	require.Eventually(t, func() bool {
		return len(host.snapshotExpired()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, host.snapshotExpired())
}

func TestAutoConnectDebouncesToLowestRSSI(t *testing.T) {
	host := newFakeHost()
	host.lowestRSSI = "a"
	cfg := model.DiscoveryConfiguration{
		MinimumRSSI:                -80,
		AdvertisementStaleInterval: time.Hour,
		AutoConnect:                true,
		AutoConnectDebounce:        20 * time.Millisecond,
	}
	s, events, _ := newTestSession(t, host, cfg)
	defer s.Stop()

	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -50}
	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -51}

	require.Eventually(t, func() bool {
		return len(host.snapshotAutoConnects()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAutoConnectSkippedWhenManuallyDisconnected(t *testing.T) {
	host := newFakeHost()
	host.lowestRSSI = "a"
	host.manualDisc["a"] = true
	cfg := model.DiscoveryConfiguration{
		MinimumRSSI:                -80,
		AdvertisementStaleInterval: time.Hour,
		AutoConnect:                true,
		AutoConnectDebounce:        10 * time.Millisecond,
	}
	s, events, _ := newTestSession(t, host, cfg)
	defer s.Stop()

	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -50}
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, host.snapshotAutoConnects())
}

func TestReconfigureAppliesLive(t *testing.T) {
	host := newFakeHost()
	cfg := model.DiscoveryConfiguration{MinimumRSSI: -40, AdvertisementStaleInterval: time.Hour}
	s, events, _ := newTestSession(t, host, cfg)
	defer s.Stop()

	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -50}
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, host.DisconnectedActivity())

	s.Reconfigure(model.DiscoveryConfiguration{MinimumRSSI: -80, AdvertisementStaleInterval: time.Hour})
	events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("a"), RSSI: -50}
	time.Sleep(30 * time.Millisecond)
	assert.Contains(t, host.DisconnectedActivity(), "a")
}
