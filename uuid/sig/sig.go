// Package sig is a small, hand-curated table of well-known Bluetooth SIG
// UUID names, used only for informational/debug output (SPEC_FULL.md
// "SUPPLEMENTED FEATURES"). It never participates in matching or any
// runtime invariant.
package sig

import "github.com/srg/blecentral/uuid"

var (
	services = map[string]string{
		"1800": "Generic Access",
		"1801": "Generic Attribute",
		"180a": "Device Information",
		"180d": "Heart Rate",
		"180f": "Battery Service",
		"1812": "Human Interface Device",
	}

	characteristics = map[string]string{
		"2a00": "Device Name",
		"2a01": "Appearance",
		"2a19": "Battery Level",
		"2a24": "Model Number String",
		"2a25": "Serial Number String",
		"2a29": "Manufacturer Name String",
		"2a37": "Heart Rate Measurement",
		"2a38": "Body Sensor Location",
	}

	descriptors = map[string]string{
		"2900": "Characteristic Extended Properties",
		"2901": "Characteristic User Descriptor",
		"2902": "Client Characteristic Configuration",
		"2903": "Server Characteristic Configuration",
	}
)

func lookup(table map[string]string, u uuid.BTUUID) (string, bool) {
	short, ok := u.Short16()
	if !ok {
		return "", false
	}
	name, ok := table[shortHex(short)]
	return name, ok
}

func shortHex(v uint16) string {
	const hexDigits = "0123456789abcdef"
	b := [4]byte{
		hexDigits[(v>>12)&0xf],
		hexDigits[(v>>8)&0xf],
		hexDigits[(v>>4)&0xf],
		hexDigits[v&0xf],
	}
	return string(b[:])
}

// LookupService returns the SIG-assigned name of a service UUID, if known.
func LookupService(u uuid.BTUUID) (string, bool) { return lookup(services, u) }

// LookupCharacteristic returns the SIG-assigned name of a characteristic
// UUID, if known.
func LookupCharacteristic(u uuid.BTUUID) (string, bool) { return lookup(characteristics, u) }

// LookupDescriptor returns the SIG-assigned name of a descriptor UUID, if
// known.
func LookupDescriptor(u uuid.BTUUID) (string, bool) { return lookup(descriptors, u) }

// Name returns the best-known human name for u across all three tables,
// falling back to its canonical string form.
func Name(u uuid.BTUUID) string {
	if n, ok := LookupService(u); ok {
		return n
	}
	if n, ok := LookupCharacteristic(u); ok {
		return n
	}
	if n, ok := LookupDescriptor(u); ok {
		return n
	}
	return u.String()
}
