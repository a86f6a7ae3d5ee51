package slcan

import (
	"testing"

	"github.com/roffe/xlcan"
)

func computeTiming(t *testing.T, o xlcan.TimingOpts) xlcan.BitTiming {
	t.Helper()
	bt, err := xlcan.ComputeTiming(o)
	if err != nil {
		t.Fatalf("ComputeTiming() error = %v", err)
	}
	return bt
}

func TestTimingBTR(t *testing.T) {
	tests := []struct {
		name string
		opts xlcan.TimingOpts
		want BTR
	}{
		// 16 tq fit the registers as computed
		{"500k", xlcan.TimingOpts{Bitrate: 500_000}, BTR{0x80, 0x2B}},
		{"1M", xlcan.TimingOpts{Bitrate: 1_000_000}, BTR{0x40, 0x14}},
		// 32 tq do not, the search halves them
		{"250k", xlcan.TimingOpts{Bitrate: 250_000}, BTR{0x81, 0x2B}},
		{"33.3k", xlcan.TimingOpts{Bitrate: 33_333}, BTR{0x8E, 0x2B}},
		{"segments", xlcan.TimingOpts{Bitrate: 615_384, TSeg1: xlcan.Ptr(8), TSeg2: xlcan.Ptr(4), SJW: 2}, BTR{0x40, 0x37}},
		{"triple sampling", xlcan.TimingOpts{Bitrate: 500_000, SJW: 1, Samples: 3}, BTR{0x00, 0xAB}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TimingBTR(computeTiming(t, tt.opts))
			if err != nil {
				t.Fatalf("TimingBTR() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TimingBTR() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTimingBTRErrors(t *testing.T) {
	if _, err := TimingBTR(xlcan.BitTiming{}); err == nil {
		t.Error("TimingBTR() with zero bitrate succeeded")
	}
	// 5 Mbit/s needs fewer than 4 tq per bit at 8 MHz
	if _, err := TimingBTR(xlcan.BitTiming{Bitrate: 5_000_000, SamplePoint: 0.8}); err == nil {
		t.Error("TimingBTR(5M) succeeded")
	}
}

func TestBTRCommand(t *testing.T) {
	b := BTR{0x0E, 0x1C}
	if got := b.Command(); got != "s0E1C" {
		t.Errorf("Command() = %q, want s0E1C", got)
	}
	if got := b.String(); got != "BTR0=0x0E BTR1=0x1C (33333 bit/s, brp=15 tseg1=13 tseg2=2 sjw=1)" {
		t.Errorf("String() = %q", got)
	}
}

func TestBitrateCommand(t *testing.T) {
	tests := []struct {
		name     string
		timing   xlcan.BitTiming
		explicit bool
		want     string
	}{
		{"standard", computeTiming(t, xlcan.TimingOpts{Bitrate: 125_000}), false, "S4"},
		{"explicit", computeTiming(t, xlcan.TimingOpts{Bitrate: 500_000}), true, "s802B"},
		{"no standard command", computeTiming(t, xlcan.TimingOpts{Bitrate: 33_333}), false, "s8E2B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BitrateCommand(tt.timing, tt.explicit)
			if err != nil {
				t.Fatalf("BitrateCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BitrateCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpeedCommand(t *testing.T) {
	for rate, want := range map[int]string{10_000: "S0", 500_000: "S6", 800_000: "S7", 1_000_000: "S8"} {
		if got, ok := SpeedCommand(rate); !ok || got != want {
			t.Errorf("SpeedCommand(%d) = %q, %v, want %q", rate, got, ok, want)
		}
	}
	if _, ok := SpeedCommand(33_333); ok {
		t.Error("SpeedCommand(33333) has a standard command")
	}
}
