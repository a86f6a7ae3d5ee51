package cmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/roffe/xlcan"
)

// parseFrame reads the cansend syntax:
//
//	123#DEADBEEF       standard frame
//	18DAF110#0210      extended frame, more than three id digits
//	123#R / 123#R4     remote frame, optional DLC
//	123##1DEADBEEF     CAN-FD, the digit after ## holds the flags (1 BRS, 2 ESI)
//
// Dots between data bytes are ignored.
func parseFrame(s string) (*xlcan.Frame, error) {
	idPart, rest, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return nil, fmt.Errorf("%q: missing '#'", s)
	}
	if len(idPart) == 0 || len(idPart) > 8 {
		return nil, fmt.Errorf("%q: bad identifier length", s)
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%q: failed to decode identifier: %w", s, err)
	}
	var opts []xlcan.FrameOpt
	if len(idPart) > 3 {
		opts = append(opts, xlcan.OptExtended())
	}

	switch {
	case strings.HasPrefix(rest, "#"):
		rest = rest[1:]
		if rest == "" {
			return nil, fmt.Errorf("%q: missing CAN-FD flags", s)
		}
		flags, err := strconv.ParseUint(rest[:1], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%q: failed to decode flags: %w", s, err)
		}
		opts = append(opts, xlcan.OptFD())
		if flags&1 != 0 {
			opts = append(opts, xlcan.OptBRS())
		}
		if flags&2 != 0 {
			opts = append(opts, xlcan.OptESI())
		}
		rest = rest[1:]
	case strings.HasPrefix(rest, "R") || strings.HasPrefix(rest, "r"):
		opts = append(opts, xlcan.OptRemote())
		if len(rest) > 1 {
			dlc, err := strconv.ParseUint(rest[1:], 16, 8)
			if err != nil || dlc > xlcan.MaxDataLen {
				return nil, fmt.Errorf("%q: bad remote DLC", s)
			}
			opts = append(opts, xlcan.OptLength(int(dlc)))
		}
		return xlcan.NewFrame(uint32(id), nil, opts...)
	}

	data, err := hex.DecodeString(strings.ReplaceAll(rest, ".", ""))
	if err != nil {
		return nil, fmt.Errorf("%q: failed to decode data: %w", s, err)
	}
	return xlcan.NewFrame(uint32(id), data, opts...)
}

// readFrames parses one frame per line. Empty lines and lines starting with
// ';' are skipped. candump log lines "(1.0) can0 123#11" use the last field.
func readFrames(r io.Reader) ([]*xlcan.Frame, error) {
	var out []*xlcan.Frame
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, ";") {
			continue
		}
		fields := strings.Fields(text)
		f, err := parseFrame(fields[len(fields)-1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, f)
	}
	return out, sc.Err()
}
