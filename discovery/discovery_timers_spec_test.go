package discovery

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blecentral/backend"
	bemock "github.com/srg/blecentral/backend/mock"
	"github.com/srg/blecentral/model"
)

var _ = Describe("stale-expiry timer", func() {
	var (
		host   *fakeHost
		sess   *Session
		events chan backend.AdvertisementEvent
	)

	BeforeEach(func() {
		host = newFakeHost()
		be := new(bemock.Backend)
		events = make(chan backend.AdvertisementEvent, 16)
		be.On("Scan", mock.Anything, true).Return((<-chan backend.AdvertisementEvent)(events), nil)
		sess = New(host, be, model.DiscoveryConfiguration{
			MinimumRSSI:                -100,
			AdvertisementStaleInterval: 40 * time.Millisecond,
		}, logrus.New())
		Expect(sess.Start(context.Background())).To(Succeed())
	})

	AfterEach(func() {
		sess.Stop()
	})

	It("expires a peripheral whose last advertisement is older than the stale interval", func() {
		events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("stale-one"), RSSI: -50}

		Eventually(host.snapshotExpired, time.Second, 5*time.Millisecond).Should(ContainElement("stale-one"))
	})

	It("keeps a peripheral alive as long as it keeps advertising", func() {
		events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("lively"), RSSI: -50}

		refresh := time.NewTicker(10 * time.Millisecond)
		defer refresh.Stop()
		done := time.After(120 * time.Millisecond)
	loop:
		for {
			select {
			case <-refresh.C:
				events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("lively"), RSSI: -50}
			case <-done:
				break loop
			}
		}

		Expect(host.snapshotExpired()).NotTo(ContainElement("lively"))
	})
})

var _ = Describe("auto-connect debounce", func() {
	It("schedules exactly one AutoConnect call after the debounce interval, reusing the single work item", func() {
		host := newFakeHost()
		host.lowestRSSI = "candidate"
		be := new(bemock.Backend)
		events := make(chan backend.AdvertisementEvent, 16)
		be.On("Scan", mock.Anything, true).Return((<-chan backend.AdvertisementEvent)(events), nil)
		sess := New(host, be, model.DiscoveryConfiguration{
			MinimumRSSI:                -100,
			AdvertisementStaleInterval: time.Hour,
			AutoConnect:                true,
			AutoConnectDebounce:        20 * time.Millisecond,
		}, logrus.New())
		Expect(sess.Start(context.Background())).To(Succeed())
		defer sess.Stop()

		events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("candidate"), RSSI: -50}
		events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("candidate"), RSSI: -49}
		events <- backend.AdvertisementEvent{Peripheral: bemock.NewHandle("candidate"), RSSI: -48}

		Eventually(host.snapshotAutoConnects, time.Second, 5*time.Millisecond).Should(HaveLen(1))
		Consistently(host.snapshotAutoConnects, 60*time.Millisecond, 10*time.Millisecond).Should(HaveLen(1))
	})
})
