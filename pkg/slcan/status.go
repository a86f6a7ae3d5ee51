package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/albenik/bcd"
)

// StatusFlags is the SJA1000 status byte returned by the F command.
type StatusFlags uint8

const (
	StatusRxFull          StatusFlags = 1 << iota // CAN receive FIFO queue full
	StatusTxFull                                  // CAN transmit FIFO queue full
	StatusErrorWarning                            // EI
	StatusDataOverrun                             // DOI
	_                                             // not used
	StatusErrorPassive                            // EPI
	StatusArbitrationLost                         // ALI, no red light
	StatusBusError                                // BEI, constant red light
)

var (
	ErrRxFull          = errors.New("CAN receive FIFO queue full")
	ErrTxFull          = errors.New("CAN transmit FIFO queue full")
	ErrErrorWarning    = errors.New("error warning (EI)")
	ErrDataOverrun     = errors.New("data overrun (DOI)")
	ErrErrorPassive    = errors.New("error passive (EPI)")
	ErrArbitrationLost = errors.New("arbitration lost (ALI)")
	ErrBusError        = errors.New("bus error (BEI)")
)

var statusErrors = []struct {
	flag StatusFlags
	err  error
}{
	{StatusRxFull, ErrRxFull},
	{StatusTxFull, ErrTxFull},
	{StatusErrorWarning, ErrErrorWarning},
	{StatusDataOverrun, ErrDataOverrun},
	{StatusErrorPassive, ErrErrorPassive},
	{StatusArbitrationLost, ErrArbitrationLost},
	{StatusBusError, ErrBusError},
}

// Err joins the errors for every set flag, nil when the controller is fine.
func (s StatusFlags) Err() error {
	var errs []error
	for _, se := range statusErrors {
		if s&se.flag != 0 {
			errs = append(errs, se.err)
		}
	}
	return errors.Join(errs...)
}

func (s StatusFlags) String() string {
	if s == 0 {
		return "ok"
	}
	var parts []string
	for _, se := range statusErrors {
		if s&se.flag != 0 {
			parts = append(parts, se.err.Error())
		}
	}
	return strings.Join(parts, ", ")
}

// ParseStatus decodes an F reply such as "F08".
func ParseStatus(line []byte) (StatusFlags, error) {
	if len(line) != 3 || line[0] != 'F' {
		return 0, fmt.Errorf("%w: status %q", ErrMalformed, line)
	}
	b, err := hex.DecodeString(string(line[1:]))
	if err != nil {
		return 0, fmt.Errorf("failed to decode status: %w", err)
	}
	return StatusFlags(b[0]), nil
}

// Version is the reply to the V command.
type Version struct {
	Hardware, Software int
}

func (v Version) String() string {
	return fmt.Sprintf("H/W %d.%d S/W %d.%d", v.Hardware/10, v.Hardware%10, v.Software/10, v.Software%10)
}

// ParseVersion decodes a V reply such as "V1013": four BCD digits, two for
// the hardware and two for the software version.
func ParseVersion(line []byte) (Version, error) {
	if len(line) != 5 || line[0] != 'V' {
		return Version{}, fmt.Errorf("%w: version %q", ErrMalformed, line)
	}
	b, err := hex.DecodeString(string(line[1:]))
	if err != nil {
		return Version{}, fmt.Errorf("failed to decode version: %w", err)
	}
	for _, d := range b {
		if d>>4 > 9 || d&0xF > 9 {
			return Version{}, fmt.Errorf("%w: version %q is not BCD", ErrMalformed, line)
		}
	}
	v := int(bcd.ToUint16(b))
	return Version{Hardware: v / 100, Software: v % 100}, nil
}
