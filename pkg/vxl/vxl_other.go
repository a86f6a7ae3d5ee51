//go:build !(windows && amd64)

package vxl

import "fmt"

// Load reports ErrNotSupported, vxlapi64.dll only exists on 64-bit Windows.
// Use NewVirtual on other platforms.
func Load() (Driver, error) {
	return nil, fmt.Errorf("vxlapi64.dll: %w", ErrNotSupported)
}
