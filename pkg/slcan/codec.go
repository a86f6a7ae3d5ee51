// Package slcan speaks the Lawicel/SLCAN ASCII protocol used by CANUSB,
// CANable and most other serial line CAN adapters.
package slcan

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/roffe/xlcan"
)

var (
	ErrUnsupported = errors.New("frame not representable in SLCAN")
	ErrCommand     = errors.New("command error") // adapter answered BELL
	ErrMalformed   = errors.New("malformed SLCAN line")
)

// frame commands, lower case for standard identifiers
const (
	cmdStd       = 't'
	cmdExt       = 'T'
	cmdStdRemote = 'r'
	cmdExtRemote = 'R'
	cmdStdFD     = 'd'
	cmdExtFD     = 'D'
	cmdStdFDBRS  = 'b'
	cmdExtFDBRS  = 'B'
)

// IsFrame reports if line carries a received frame.
func IsFrame(line []byte) bool {
	if len(line) < 5 {
		return false
	}
	switch line[0] {
	case cmdStd, cmdExt, cmdStdRemote, cmdExtRemote, cmdStdFD, cmdExtFD, cmdStdFDBRS, cmdExtFDBRS:
		return true
	}
	return false
}

func nybbleToHex(n byte) byte {
	n &= 0xF
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// AppendFrame appends the SLCAN transmit command for f, including the
// trailing carriage return, to buf.
func AppendFrame(buf []byte, f *xlcan.Frame) ([]byte, error) {
	if f == nil {
		return buf, fmt.Errorf("%w: nil frame", ErrUnsupported)
	}
	if f.Error {
		return buf, fmt.Errorf("%w: error frames cannot be sent", ErrUnsupported)
	}
	var cmd byte
	switch {
	case f.FD && f.BRS:
		cmd = cmdStdFDBRS
	case f.FD:
		cmd = cmdStdFD
	case f.RTR:
		cmd = cmdStdRemote
	default:
		cmd = cmdStd
	}
	if f.FD && f.RTR {
		return buf, fmt.Errorf("%w: CAN-FD has no remote frames", ErrUnsupported)
	}
	if !f.FD && f.DLC > xlcan.MaxDataLen {
		return buf, fmt.Errorf("%w: classical frame with DLC %d", ErrUnsupported, f.DLC)
	}

	if f.Extended {
		cmd -= 'a' - 'A'
		buf = append(buf, cmd)
		id := f.Identifier & xlcan.MaxExtID
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(id>>shift)))
		}
	} else {
		buf = append(buf, cmd)
		id := f.Identifier & xlcan.MaxStdID
		buf = append(buf, nybbleToHex(byte(id>>8)), nybbleToHex(byte(id>>4)), nybbleToHex(byte(id)))
	}
	buf = append(buf, nybbleToHex(f.DLC))
	if !f.RTR {
		n := min(xlcan.DLCToLength(f.DLC), len(f.Data))
		for _, b := range f.Data[:n] {
			buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b))
		}
	}
	return append(buf, '\r'), nil
}

// EncodeFrame returns the SLCAN transmit command for f.
func EncodeFrame(f *xlcan.Frame) ([]byte, error) {
	return AppendFrame(make([]byte, 0, 1+8+1+128+1), f)
}

// DecodeFrame parses a received frame line without its carriage return.
// A trailing four digit timestamp (Z1 mode) is accepted and dropped.
func DecodeFrame(line []byte) (*xlcan.Frame, error) {
	if !IsFrame(line) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	cmd := line[0]
	in := xlcan.InboundFrame{Rx: true}
	idLen := 3
	if cmd >= 'A' && cmd <= 'Z' {
		in.Extended = true
		idLen = 8
		cmd += 'a' - 'A'
	}
	switch cmd {
	case cmdStdRemote:
		in.RTR = true
	case cmdStdFD:
		in.FD = true
	case cmdStdFDBRS:
		in.FD, in.BRS = true, true
	}
	if len(line) < 1+idLen+1 {
		return nil, fmt.Errorf("%w: short line %q", ErrMalformed, line)
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %w", err)
	}
	if (!in.Extended && id > xlcan.MaxStdID) || id > xlcan.MaxExtID {
		return nil, fmt.Errorf("%w: identifier 0x%X out of range", ErrMalformed, id)
	}
	in.Identifier = uint32(id)

	dlc, err := strconv.ParseUint(string(line[1+idLen:2+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %w", err)
	}
	if !in.FD && dlc > xlcan.MaxDataLen {
		return nil, fmt.Errorf("%w: classical frame with DLC %d", ErrMalformed, dlc)
	}
	in.DLC = uint8(dlc)

	body := line[2+idLen:]
	n := 0
	if !in.RTR {
		n = xlcan.DLCToLength(in.DLC)
	}
	switch len(body) {
	case 2 * n, 2*n + 4:
	default:
		return nil, fmt.Errorf("%w: %d data characters for DLC %d", ErrMalformed, len(body), dlc)
	}
	in.Data = make([]byte, n)
	for i := range in.Data {
		b, err := strconv.ParseUint(string(body[2*i:2*i+2]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame body: %w", err)
		}
		in.Data[i] = byte(b)
	}
	return xlcan.DecodeFrame(in), nil
}
