package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in       string
		id       uint32
		extended bool
		fd, brs  bool
		esi      bool
		rtr      bool
		dlc      uint8
		data     []byte
	}{
		{"123#DEADBEEF", 0x123, false, false, false, false, false, 4, []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"7E0#02.10.03", 0x7E0, false, false, false, false, false, 3, []byte{0x02, 0x10, 0x03}},
		{"123#", 0x123, false, false, false, false, false, 0, []byte{}},
		{"18DAF110#3E00", 0x18DAF110, true, false, false, false, false, 2, []byte{0x3E, 0x00}},
		{"0000001#", 0x1, true, false, false, false, false, 0, []byte{}},
		{"100#R", 0x100, false, false, false, false, true, 0, []byte{}},
		{"100#R4", 0x100, false, false, false, false, true, 4, []byte{0xAA, 0xAA, 0xAA, 0xAA}},
		{"123##0AB", 0x123, false, true, false, false, false, 1, []byte{0xAB}},
		{"123##3AB", 0x123, false, true, true, true, false, 1, []byte{0xAB}},
		{"123##0112233445566778899", 0x123, false, true, true, false, false, 9,
			[]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xAA, 0xAA}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := parseFrame(tt.in)
			if err != nil {
				t.Fatalf("parseFrame() error = %v", err)
			}
			if f.Identifier != tt.id || f.Extended != tt.extended || f.FD != tt.fd || f.BRS != tt.brs || f.ESI != tt.esi || f.RTR != tt.rtr {
				t.Errorf("parseFrame() = %+v", f)
			}
			if f.DLC != tt.dlc || !bytes.Equal(f.Data, tt.data) {
				t.Errorf("parseFrame() dlc %d data % X, want %d % X", f.DLC, f.Data, tt.dlc, tt.data)
			}
		})
	}
}

func TestParseFrameErrors(t *testing.T) {
	for _, in := range []string{
		"123",
		"#11",
		"123456789#",
		"XYZ#11",
		"123#1",
		"123#112233445566778899",
		"800#11",
		"123##",
		"123##G11",
		"123#R9",
	} {
		if f, err := parseFrame(in); err == nil {
			t.Errorf("parseFrame(%q) = %s, want error", in, f)
		}
	}
}

func TestReadFrames(t *testing.T) {
	in := `; startup sequence
7E0#0210030000000000

(1697200000.123456) can0 7E8#0650030032012000
18DB33F1##1DEAD
`
	frames, err := readFrames(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readFrames() error = %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("readFrames() returned %d frames, want 3", len(frames))
	}
	if frames[0].Identifier != 0x7E0 || frames[1].Identifier != 0x7E8 || !frames[2].FD || !frames[2].Extended {
		t.Errorf("readFrames() = %v", frames)
	}
	if _, err := readFrames(strings.NewReader("7E0#02\nbogus\n")); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("readFrames() error = %v, want it to name line 2", err)
	}
}
