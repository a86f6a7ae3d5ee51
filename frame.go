package xlcan

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const (
	MaxStdID = 0x7FF
	MaxExtID = 0x1FFFFFFF
)

// Frame is a normalized CAN or CAN-FD frame.
//
// Frames built with NewFrame are padded to the length their DLC mandates and
// carry consistent flags. Frames decoded from a driver carry the flags and DLC
// the driver reported and the payload length their DLC mandates, capped at 8
// bytes for classical frames.
type Frame struct {
	Timestamp  float64 // seconds on the MonotonicTime clock, zero until stamped by hardware
	Channel    int     // channel a received frame arrived on
	Identifier uint32
	Extended   bool
	FD         bool
	RTR        bool
	Error      bool
	Rx         bool // received from the bus, false for local transmissions and their echoes
	BRS        bool // CAN-FD bitrate switch
	ESI        bool // CAN-FD error state indicator
	DLC        uint8
	Data       []byte
}

type frameSpec struct {
	extended, fd, rtr, errorFrame, brs, esi bool
	length                                  *int
}

// FrameOpt configures an outbound frame for NewFrame.
type FrameOpt func(*frameSpec)

// OptExtended selects a 29-bit identifier.
func OptExtended() FrameOpt {
	return func(s *frameSpec) { s.extended = true }
}

// OptFD marks the frame as CAN-FD.
func OptFD() FrameOpt {
	return func(s *frameSpec) { s.fd = true }
}

// OptRemote marks the frame as a remote transmission request.
func OptRemote() FrameOpt {
	return func(s *frameSpec) { s.rtr = true }
}

// OptErrorFrame marks the frame as an error frame.
func OptErrorFrame() FrameOpt {
	return func(s *frameSpec) { s.errorFrame = true }
}

// OptBRS requests the CAN-FD bitrate switch.
func OptBRS() FrameOpt {
	return func(s *frameSpec) { s.brs = true }
}

// OptESI sets the CAN-FD error state indicator.
func OptESI() FrameOpt {
	return func(s *frameSpec) { s.esi = true }
}

// OptLength requests an explicit data length in bytes instead of len(data).
// The length is rounded up to the next length a DLC can express.
func OptLength(n int) FrameOpt {
	return func(s *frameSpec) { s.length = &n }
}

// NewFrame validates and normalizes an outbound frame. The data slice is copied.
//
// Classical frames never exceed DLC 8 and never carry BRS or ESI. CAN-FD frames
// longer than 8 bytes always switch bitrate. The payload is padded with 0xAA
// up to the DLC length and is never truncated. Invalid input returns an error
// wrapping ErrInvalidFrame.
func NewFrame(identifier uint32, data []byte, opts ...FrameOpt) (*Frame, error) {
	var s frameSpec
	for _, opt := range opts {
		opt(&s)
	}

	switch {
	case s.rtr && s.fd:
		return nil, frameErrorf("remote frame cannot be CAN-FD")
	case s.rtr && s.errorFrame:
		return nil, frameErrorf("remote frame cannot be an error frame")
	case s.extended && identifier > MaxExtID:
		return nil, frameErrorf("extended identifier 0x%X out of range", identifier)
	case !s.extended && identifier > MaxStdID:
		return nil, frameErrorf("standard identifier 0x%X out of range", identifier)
	case s.fd && len(data) > MaxFDDataLen:
		return nil, frameErrorf("%d bytes exceed the CAN-FD maximum of %d", len(data), MaxFDDataLen)
	case !s.fd && len(data) > MaxDataLen:
		return nil, frameErrorf("%d bytes exceed the CAN maximum of %d", len(data), MaxDataLen)
	case s.length != nil && *s.length < 0:
		return nil, frameErrorf("negative length %d", *s.length)
	}

	length := len(data)
	if s.length != nil && *s.length > length {
		length = *s.length
	}
	dlc := LengthToDLC(length)

	f := &Frame{
		Identifier: identifier,
		Extended:   s.extended,
		FD:         s.fd,
		RTR:        s.rtr,
		Error:      s.errorFrame,
		BRS:        s.brs,
		ESI:        s.esi,
	}
	if s.fd {
		if DLCToLength(dlc) > MaxDataLen {
			f.BRS = true
		}
	} else {
		if DLCToLength(dlc) > MaxDataLen {
			dlc = MaxDataLen
		}
		f.BRS, f.ESI = false, false
	}
	f.DLC = dlc
	f.Data = pad(data, DLCToLength(dlc))
	return f, nil
}

// NewExtendedFrame is shorthand for NewFrame with OptExtended.
func NewExtendedFrame(identifier uint32, data []byte, opts ...FrameOpt) (*Frame, error) {
	return NewFrame(identifier, data, append([]FrameOpt{OptExtended()}, opts...)...)
}

// Normalize runs f back through NewFrame, keeping its flags and DLC length.
// Frames already built by NewFrame come back unchanged.
func (f *Frame) Normalize() (*Frame, error) {
	opts := []FrameOpt{OptLength(DLCToLength(f.DLC))}
	if f.Extended {
		opts = append(opts, OptExtended())
	}
	if f.FD {
		opts = append(opts, OptFD())
	}
	if f.RTR {
		opts = append(opts, OptRemote())
	}
	if f.Error {
		opts = append(opts, OptErrorFrame())
	}
	if f.BRS {
		opts = append(opts, OptBRS())
	}
	if f.ESI {
		opts = append(opts, OptESI())
	}
	n, err := NewFrame(f.Identifier, f.Data, opts...)
	if err != nil {
		return nil, err
	}
	n.Timestamp, n.Channel, n.Rx = f.Timestamp, f.Channel, f.Rx
	return n, nil
}

func pad(data []byte, length int) []byte {
	out := make([]byte, max(len(data), length))
	n := copy(out, data)
	for i := n; i < len(out); i++ {
		out[i] = PaddingByte
	}
	return out
}

// InboundFrame is a frame as a driver reports it, before normalization.
type InboundFrame struct {
	Identifier  uint32
	Extended    bool
	FD          bool
	RTR         bool
	Error       bool
	Rx          bool
	BRS         bool
	ESI         bool
	DLC         uint8
	Data        []byte // raw receive buffer, may be longer than the DLC length
	TimestampNs uint64 // driver clock
	TimeOffset  float64
	Channel     int
}

// DecodeFrame rebuilds a Frame from driver output. The DLC is kept as received,
// saturated at 15. Remote frames carry no data, classical frames at most 8 bytes
// whatever their DLC, and the payload is cut to the DLC length.
// The driver nanosecond timestamp is moved to the MonotonicTime domain by adding
// TimeOffset.
func DecodeFrame(in InboundFrame) *Frame {
	dlc := min(in.DLC, MaxDLC)
	n := DLCToLength(dlc)
	if !in.FD {
		n = min(n, MaxDataLen)
	}
	if in.RTR {
		n = 0
	}
	if n > len(in.Data) {
		n = len(in.Data)
	}
	data := make([]byte, n)
	copy(data, in.Data)
	return &Frame{
		Timestamp:  float64(in.TimestampNs)*1e-9 + in.TimeOffset,
		Channel:    in.Channel,
		Identifier: in.Identifier,
		Extended:   in.Extended,
		FD:         in.FD,
		RTR:        in.RTR,
		Error:      in.Error,
		Rx:         in.Rx,
		BRS:        in.FD && in.BRS,
		ESI:        in.FD && in.ESI,
		DLC:        dlc,
		Data:       data,
	}
}

// Length returns the payload length in bytes.
func (f *Frame) Length() int {
	return len(f.Data)
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *Frame) direction() string {
	if f.Rx {
		return "<i>"
	}
	return "<o>"
}

func (f *Frame) id() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *Frame) flags() string {
	var fl []string
	if f.FD {
		fl = append(fl, "FD")
	}
	if f.BRS {
		fl = append(fl, "BRS")
	}
	if f.ESI {
		fl = append(fl, "ESI")
	}
	if f.RTR {
		fl = append(fl, "RTR")
	}
	if f.Error {
		fl = append(fl, "ERR")
	}
	return strings.Join(fl, ",")
}

func (f *Frame) hex() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return hexView.String()
}

func (f *Frame) String() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%.6f ", f.Timestamp))
	out.WriteString(f.direction() + " || ")
	out.WriteString(f.id() + " || ")
	out.WriteString(fmt.Sprintf("%-11s", f.flags()) + " || ")
	out.WriteString(fmt.Sprintf("%2d", f.DLC) + " || ")
	out.WriteString(f.hex())
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%.6f ", f.Timestamp))
	out.WriteString(f.direction() + " || ")
	out.WriteString(green(f.id()) + " || ")
	out.WriteString(fmt.Sprintf("%-11s", f.flags()) + " || ")
	out.WriteString(fmt.Sprintf("%2d", f.DLC) + " || ")
	out.WriteString(red(f.hex()))
	out.WriteString(" || ")
	out.WriteString(yellow(onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
