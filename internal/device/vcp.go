package device

import (
	"fmt"

	"brightdock/internal/config"
)

// VCP opcodes for the features this bridge controls (VESA MCCS).
const (
	vcpBrightness  byte = 0x10
	vcpContrast    byte = 0x12
	vcpInputSource byte = 0x60
)

var featureCodes = map[string]byte{
	config.FeatureBrightness:  vcpBrightness,
	config.FeatureContrast:    vcpContrast,
	config.FeatureInputSource: vcpInputSource,
}

// featureCode resolves a binding's feature name to its VCP opcode.
func featureCode(feature string) (byte, error) {
	code, ok := featureCodes[feature]
	if !ok {
		return 0, fmt.Errorf("no VCP opcode for feature %q", feature)
	}
	return code, nil
}
