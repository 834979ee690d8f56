package serial

import (
	"path/filepath"
	"sort"
)

// patterns cover the device names USB serial adapters show up as on
// macOS and Linux.
var patterns = []string{
	"/dev/cu.usbserial*",
	"/dev/cu.usbmodem*",
	"/dev/cu.wchusbserial*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
}

// ListPorts enumerates serial devices that may host a GRBL controller.
// Enumeration is delegated to the OS; a missing pattern is not an error.
func ListPorts() []string {
	var ports []string
	seen := make(map[string]bool)
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			ports = append(ports, m)
		}
	}
	sort.Strings(ports)
	return ports
}
