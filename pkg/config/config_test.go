package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roffe/xlcan"
)

const fdYAML = `
channels: [1, 2]
debug: true
poll_interval: 5ms
fd:
  enabled: true
  arbitration:
    bitrate: 500000
  data:
    bitrate: 4000000
filters:
  - id: 0x7E8
    mask: 0x7FF
  - id: 0x18DAF100
    mask: 0x1FFFFF00
    extended: true
slcan:
  port: /dev/ttyACM0
`

func TestParseFD(t *testing.T) {
	c, err := Parse([]byte(fdYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cfg, err := c.BusConfig()
	if err != nil {
		t.Fatalf("BusConfig() error = %v", err)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0] != 1 || cfg.Channels[1] != 2 {
		t.Errorf("Channels = %v, want [1 2]", cfg.Channels)
	}
	if cfg.PollInterval != 5*time.Millisecond || !cfg.Debug {
		t.Errorf("PollInterval = %v Debug = %v", cfg.PollInterval, cfg.Debug)
	}
	if cfg.RxQueueSize != xlcan.DefaultRxQueueSize || cfg.Retries != xlcan.DefaultRetries {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Timing != nil || cfg.FDTiming == nil || !cfg.FDTiming.FD {
		t.Fatalf("timing = %v %v", cfg.Timing, cfg.FDTiming)
	}
	abr, dbr := cfg.FDTiming.Arbitration, cfg.FDTiming.Data
	if abr.TSeg1 != 63 || abr.TSeg2 != 16 || abr.BitCycles != 80 {
		t.Errorf("arbitration = %s", abr)
	}
	if dbr.Bitrate != 4_000_000 || dbr.TSeg1 != 13 || dbr.TSeg2 != 6 {
		t.Errorf("data = %s", dbr)
	}
	if len(cfg.Filters) != 2 || cfg.Filters[0].ID != 0x7E8 || !cfg.Filters[1].Extended {
		t.Errorf("Filters = %+v", cfg.Filters)
	}

	sl, err := c.SLCANConfig()
	if err != nil {
		t.Fatalf("SLCANConfig() error = %v", err)
	}
	if sl.Port != "/dev/ttyACM0" || sl.Timing.Bitrate != 500_000 || sl.ExplicitTiming {
		t.Errorf("SLCANConfig() = %+v", sl)
	}
	if sl.PortBaudrate != 115200 || sl.StatusInterval != 2*time.Second {
		t.Errorf("SLCANConfig() defaults = %d %v", sl.PortBaudrate, sl.StatusInterval)
	}
}

func TestParseClassical(t *testing.T) {
	c, err := Parse([]byte(`
can:
  bitrate: 250000
  sample_point: 0.75
  bit_cycles: 16
`))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := c.BusConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FDTiming != nil || cfg.Timing == nil {
		t.Fatalf("timing = %v %v", cfg.Timing, cfg.FDTiming)
	}
	if got := *cfg.Timing; got.TSeg1 != 11 || got.TSeg2 != 4 || got.Bitrate != 250_000 {
		t.Errorf("Timing = %s", got)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != 0 {
		t.Errorf("Channels = %v, want the default [0]", cfg.Channels)
	}
}

func TestParseNoTiming(t *testing.T) {
	c, err := Parse([]byte("channels: [3]\n"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := c.BusConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timing != nil || cfg.FDTiming != nil {
		t.Errorf("timing set without can or fd section")
	}
	if _, err := c.SLCANConfig(); err == nil {
		t.Error("SLCANConfig() without a port succeeded")
	}
}

func TestParseSLCANTiming(t *testing.T) {
	c, err := Parse([]byte(`
slcan:
  port: COM3
  baudrate: 921600
  status_interval: 500ms
  timing:
    bitrate: 500000
    tseg1: 13
    tseg2: 2
`))
	if err != nil {
		t.Fatal(err)
	}
	sl, err := c.SLCANConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !sl.ExplicitTiming || sl.Timing.TSeg1 != 13 || sl.Timing.TSeg2 != 2 || sl.Timing.BitCycles != 16 {
		t.Errorf("Timing = %s explicit %v", sl.Timing, sl.ExplicitTiming)
	}
	if sl.PortBaudrate != 921600 || sl.StatusInterval != 500*time.Millisecond {
		t.Errorf("SLCANConfig() = %+v", sl)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "channels: [1"},
		{"no channels", "channels: []"},
		{"channel range", "channels: [64]"},
		{"exclusive sections", "can: {bitrate: 500000}\nfd: {enabled: true}"},
		{"filter range", "filters: [{id: 0x800}]"},
		{"poll interval", "poll_interval: soon"},
		{"status interval", "slcan: {status_interval: 2}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("Parse(%q) succeeded", tt.yaml)
			}
		})
	}
}

func TestBusConfigTimingError(t *testing.T) {
	c, err := Parse([]byte("can: {bitrate: -1}"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.BusConfig(); err == nil {
		t.Error("BusConfig() with a negative bitrate succeeded")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xlcan.yaml")
	if err := os.WriteFile(path, []byte(fdYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.FD == nil || !c.FD.Enabled {
		t.Errorf("Load() = %+v", c)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}
