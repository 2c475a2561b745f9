// Package model implements the data model of spec §3: advertisement
// snapshots, peripheral/central state machines and the discovery
// configuration that drives scanning.
package model

import (
	"time"

	"github.com/srg/blecentral/uuid"
)

// Tristate is a true/false/unknown value, used for AdvertisementData's
// isConnectable (a backend may not report connectability).
type Tristate int

const (
	Unknown Tristate = iota
	True
	False
)

// AdvertisementData is an immutable snapshot of one advertisement packet.
type AdvertisementData struct {
	LocalName             string
	ManufacturerData      []byte
	ServiceData           map[uuid.BTUUID][]byte
	ServiceUUIDs          []uuid.BTUUID
	OverflowServiceUUIDs  []uuid.BTUUID
	TxPowerLevel          int
	IsConnectable         Tristate
	SolicitedServiceUUIDs []uuid.BTUUID

	// RawAdvertisement is an opaque backend-specific payload, passed
	// through without interpretation (spec §3).
	RawAdvertisement any
}

// PeripheralState is the connection lifecycle state of a Peripheral.
type PeripheralState int

const (
	Disconnected PeripheralState = iota
	Connecting
	Connected
	Disconnecting
)

func (s PeripheralState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// CentralState is the power/availability state of the local Bluetooth
// adapter as reported by the backend.
type CentralState int

const (
	CentralUnknown CentralState = iota
	CentralPoweredOff
	CentralUnsupported
	CentralUnauthorized
	CentralPoweredOn
)

func (s CentralState) String() string {
	switch s {
	case CentralPoweredOff:
		return "poweredOff"
	case CentralUnsupported:
		return "unsupported"
	case CentralUnauthorized:
		return "unauthorized"
	case CentralPoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// RSSIUnavailable is the sentinel value for an RSSI reading that has no
// current sample (spec §3).
const RSSIUnavailable = 127

// Properties is a bitset of GATT characteristic properties.
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

func (p Properties) Has(flag Properties) bool { return p&flag != 0 }

// CharacteristicDescription is one entry of a ServiceDescription's
// requested characteristic set.
type CharacteristicDescription struct {
	UUID                uuid.BTUUID
	AutoRead            bool
	DiscoverDescriptors bool
}

// ServiceDescription names a service to discover and, optionally, a
// restricted set of characteristics within it. A nil Characteristics
// means "discover all" (spec §3).
type ServiceDescription struct {
	UUID            uuid.BTUUID
	Characteristics []CharacteristicDescription
}

// DeviceDescription is the requested shape of a connection: which
// services, and within them which characteristics, the caller cares
// about.
type DeviceDescription struct {
	Services []ServiceDescription
}

// DiscoveryCriterion is a predicate over AdvertisementData used to decide
// whether an advertisement is of interest.
type DiscoveryCriterion func(AdvertisementData) bool

// AnyAdvertisement matches every advertisement.
func AnyAdvertisement(AdvertisementData) bool { return true }

// AdvertisesService matches advertisements listing svc among their
// service or overflow-service UUIDs.
func AdvertisesService(svc uuid.BTUUID) DiscoveryCriterion {
	return func(ad AdvertisementData) bool {
		for _, u := range ad.ServiceUUIDs {
			if u == svc {
				return true
			}
		}
		for _, u := range ad.OverflowServiceUUIDs {
			if u == svc {
				return true
			}
		}
		return false
	}
}

// ManufacturerDataPrefix matches advertisements whose manufacturer data
// begins with prefix.
func ManufacturerDataPrefix(prefix []byte) DiscoveryCriterion {
	cp := append([]byte(nil), prefix...)
	return func(ad AdvertisementData) bool {
		if len(ad.ManufacturerData) < len(cp) {
			return false
		}
		for i, b := range cp {
			if ad.ManufacturerData[i] != b {
				return false
			}
		}
		return true
	}
}

// DiscoveryDescription pairs a DeviceDescription with the criterion that
// selects advertisements it applies to.
type DiscoveryDescription struct {
	Device    DeviceDescription
	Criterion DiscoveryCriterion
}

// DiscoveryConfiguration governs a discovery session. Defaults mirror
// spec §3 and are filled in by github.com/mcuadros/go-defaults when a
// zero-value configuration is loaded through the config package.
type DiscoveryConfiguration struct {
	Descriptions []DiscoveryDescription

	MinimumRSSI                int           `default:"-80"`
	AdvertisementStaleInterval time.Duration `default:"8s"`
	AutoConnect                bool
	AutoConnectDebounce        time.Duration `default:"1s"`
}
