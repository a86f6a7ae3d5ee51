package slcan

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port an adapter may be attached to.
type PortInfo struct {
	Name         string
	USB          bool
	VID, PID     string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s serial %s %s)", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
}

// Ports lists the serial ports present on the system.
func Ports() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:         p.Name,
			USB:          p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return out, nil
}

// FindPort looks name up among ports. Windows port names compare case insensitively.
func FindPort(ports []PortInfo, name string) (PortInfo, error) {
	if len(ports) == 0 {
		return PortInfo{}, errors.New("no serial ports found")
	}
	for _, p := range ports {
		if p.Name == name || (runtime.GOOS == "windows" && strings.EqualFold(p.Name, name)) {
			return p, nil
		}
	}
	return PortInfo{}, fmt.Errorf("serial port %q not found", name)
}
