package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feature names accepted in the bindings file. The device package maps
// these onto VCP opcodes.
const (
	FeatureBrightness  = "brightness"
	FeatureContrast    = "contrast"
	FeatureInputSource = "input_source"
)

// DeviceBinding maps one logical device to a controllable feature on a
// physical node. Bindings are static for the process lifetime.
type DeviceBinding struct {
	ID       string `yaml:"id"`
	EntityID string `yaml:"entity_id"`
	Node     string `yaml:"node"`
	Feature  string `yaml:"feature"`
	Min      int    `yaml:"min"`
	Max      int    `yaml:"max"`
}

// bindingsFile is the top-level structure of devices.yaml.
type bindingsFile struct {
	Devices []DeviceBinding `yaml:"devices"`
}

// featureDefaults gives the value range used when a binding omits
// min/max. Brightness and contrast are percentages; input source is a
// raw VCP byte.
var featureDefaults = map[string][2]int{
	FeatureBrightness:  {0, 100},
	FeatureContrast:    {0, 100},
	FeatureInputSource: {0, 255},
}

// LoadBindings reads and validates the device bindings file.
func LoadBindings(path string) ([]DeviceBinding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file: %w", err)
	}

	var file bindingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse bindings file: %w", err)
	}

	if len(file.Devices) == 0 {
		return nil, fmt.Errorf("bindings file %s declares no devices", path)
	}

	seenID := make(map[string]bool)
	seenTarget := make(map[string]bool)
	for i := range file.Devices {
		b := &file.Devices[i]

		if b.ID == "" || b.EntityID == "" || b.Node == "" {
			return nil, fmt.Errorf("binding %d: id, entity_id and node are required", i)
		}
		if seenID[b.ID] {
			return nil, fmt.Errorf("duplicate device id %q", b.ID)
		}
		seenID[b.ID] = true

		defaults, ok := featureDefaults[b.Feature]
		if !ok {
			return nil, fmt.Errorf("device %s: unknown feature %q", b.ID, b.Feature)
		}

		// One logical device per node+feature pair; two devices
		// driving the same VCP register would fight each other.
		target := b.Node + "/" + b.Feature
		if seenTarget[target] {
			return nil, fmt.Errorf("device %s: %s on %s is already bound", b.ID, b.Feature, b.Node)
		}
		seenTarget[target] = true

		if b.Min == 0 && b.Max == 0 {
			b.Min, b.Max = defaults[0], defaults[1]
		}
		if b.Min < 0 || b.Max > 65535 || b.Min >= b.Max {
			return nil, fmt.Errorf("device %s: invalid range [%d, %d]", b.ID, b.Min, b.Max)
		}
	}

	return file.Devices, nil
}
