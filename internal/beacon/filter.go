// Package beacon classifies advertisements and tracks the devices worth polling.
package beacon

import "beaconscan/internal/model"

// DefaultVendorID is the Bluetooth SIG company identifier the scanner looks for.
const DefaultVendorID uint16 = 0x0059

// IsTargetVendor reports whether the advertisement carries manufacturer data
// tagged with vendorID. Missing manufacturer data is a plain miss.
func IsTargetVendor(adv model.Advertisement, vendorID uint16) bool {
	if len(adv.ManufacturerData) == 0 {
		return false
	}
	_, ok := adv.ManufacturerData[vendorID]
	return ok
}
