// Package preset maps named resource tiers onto concrete CPU and memory
// allocations.
package preset

import (
	"errors"
	"fmt"
)

// Default is used when a descriptor does not name a preset.
const Default = "standard"

var ErrUnknownPreset = errors.New("unknown resource preset")

type Preset struct {
	Name   string
	CPU    int
	Memory string
}

// Table order is the order presets are listed in error messages.
var table = [...]Preset{
	{Name: "small", CPU: 2, Memory: "8Gi"},
	{Name: "standard", CPU: 4, Memory: "16Gi"},
	{Name: "large", CPU: 8, Memory: "32Gi"},
}

// Names returns the valid preset names in table order.
func Names() []string {
	names := make([]string, len(table))
	for i, p := range table {
		names[i] = p.Name
	}
	return names
}

// Valid reports whether name is a known preset.
func Valid(name string) bool {
	for _, p := range table {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Resolve returns the allocation for name. An empty name resolves to Default.
func Resolve(name string) (Preset, error) {
	if name == "" {
		name = Default
	}
	for _, p := range table {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}
