package slcan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/roffe/xlcan"
)

func mustFrame(t *testing.T, id uint32, data []byte, opts ...xlcan.FrameOpt) *xlcan.Frame {
	t.Helper()
	f, err := xlcan.NewFrame(id, data, opts...)
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	return f
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name string
		id   uint32
		data []byte
		opts []xlcan.FrameOpt
		want string
	}{
		{"standard", 0x123, []byte{0xDE, 0xAD}, nil, "t1232DEAD\r"},
		{"standard empty", 0x7FF, nil, nil, "t7FF0\r"},
		{"extended", 0x18DAF110, []byte{1, 2, 3}, []xlcan.FrameOpt{xlcan.OptExtended()}, "T18DAF1103010203\r"},
		{"extended single byte", 0x18DA10F1, []byte{0x3E}, []xlcan.FrameOpt{xlcan.OptExtended()}, "T18DA10F113E\r"},
		{"remote", 0x100, nil, []xlcan.FrameOpt{xlcan.OptRemote(), xlcan.OptLength(4)}, "r1004\r"},
		{"extended remote", 0x1, nil, []xlcan.FrameOpt{xlcan.OptExtended(), xlcan.OptRemote()}, "R000000010\r"},
		{"fd", 0x10, []byte{0xAB}, []xlcan.FrameOpt{xlcan.OptFD()}, "d0101AB\r"},
		{"fd brs", 0x10, []byte{0xAB}, []xlcan.FrameOpt{xlcan.OptFD(), xlcan.OptBRS()}, "b0101AB\r"},
		{"fd padded", 0x20, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, []xlcan.FrameOpt{xlcan.OptFD()},
			"b0209" + "010203040506070809AAAAAA" + "\r"},
		{"extended fd", 0x1ABCDEF0, nil, []xlcan.FrameOpt{xlcan.OptExtended(), xlcan.OptFD()}, "D1ABCDEF00\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeFrame(mustFrame(t, tt.id, tt.data, tt.opts...))
			if err != nil {
				t.Fatalf("EncodeFrame() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeFrame() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeFrameUnsupported(t *testing.T) {
	errFrame := mustFrame(t, 0x1, nil, xlcan.OptErrorFrame())
	if _, err := EncodeFrame(errFrame); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EncodeFrame(error frame) error = %v, want ErrUnsupported", err)
	}
	if _, err := EncodeFrame(nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EncodeFrame(nil) error = %v, want ErrUnsupported", err)
	}
	long := &xlcan.Frame{Identifier: 1, DLC: 12, Data: make([]byte, 24)}
	if _, err := EncodeFrame(long); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EncodeFrame(classical DLC 12) error = %v, want ErrUnsupported", err)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		line     string
		id       uint32
		extended bool
		fd, brs  bool
		rtr      bool
		dlc      uint8
		data     []byte
	}{
		{"t1232DEAD", 0x123, false, false, false, false, 2, []byte{0xDE, 0xAD}},
		{"t1232DEAD1A2B", 0x123, false, false, false, false, 2, []byte{0xDE, 0xAD}},
		{"t7FF0", 0x7FF, false, false, false, false, 0, []byte{}},
		{"T18DAF1103010203", 0x18DAF110, true, false, false, false, 3, []byte{1, 2, 3}},
		{"r1004", 0x100, false, false, false, true, 4, []byte{}},
		{"R000000010", 0x1, true, false, false, true, 0, []byte{}},
		{"d0101ab", 0x10, false, true, false, false, 1, []byte{0xAB}},
		{"b0209010203040506070809AAAAAA", 0x20, false, true, true, false, 9, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0xAA, 0xAA, 0xAA}},
		{"D1ABCDEF00", 0x1ABCDEF0, true, true, false, false, 0, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.line))
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if f.Identifier != tt.id || f.Extended != tt.extended || f.FD != tt.fd || f.BRS != tt.brs || f.RTR != tt.rtr {
				t.Errorf("DecodeFrame() = %+v", f)
			}
			if f.DLC != tt.dlc || !bytes.Equal(f.Data, tt.data) {
				t.Errorf("DecodeFrame() dlc %d data % X, want %d % X", f.DLC, f.Data, tt.dlc, tt.data)
			}
			if !f.Rx {
				t.Error("decoded frame not marked received")
			}
		})
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"z",
		"t12",
		"tXYZ0",
		"t8000",
		"t1239",
		"t1232DE",
		"t1232DEADBE",
		"t1231ZZ",
		"T2000000000",
	} {
		if f, err := DecodeFrame([]byte(line)); err == nil {
			t.Errorf("DecodeFrame(%q) = %v, want error", line, f)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, f := range []*xlcan.Frame{
		mustFrame(t, 0x7E8, []byte{0x02, 0x10, 0x03}),
		mustFrame(t, 0x18DB33F1, []byte{0x01}, xlcan.OptExtended()),
		mustFrame(t, 0x555, make([]byte, 64), xlcan.OptFD()),
	} {
		line, err := EncodeFrame(f)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeFrame(bytes.TrimSuffix(line, []byte{'\r'}))
		if err != nil {
			t.Fatalf("DecodeFrame(%q) error = %v", line, err)
		}
		if got.Identifier != f.Identifier || got.DLC != f.DLC || !bytes.Equal(got.Data, f.Data) || got.BRS != f.BRS {
			t.Errorf("round trip of %s gave %s", f, got)
		}
	}
}
