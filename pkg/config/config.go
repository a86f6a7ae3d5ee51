// Package config loads xlcan bus and bridge settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/roffe/xlcan"
	"github.com/roffe/xlcan/pkg/slcan"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration.
//
// The can section selects classical timing, the fd section CAN-FD timing.
// Omitted timing fields keep the driver defaults.
type Config struct {
	AppName      string         `yaml:"app_name"`
	Channels     []int          `yaml:"channels"`
	Virtual      bool           `yaml:"virtual"` // list and use the driver's virtual channels
	Debug        bool           `yaml:"debug"`
	RxQueueSize  int            `yaml:"rx_queue_size"`
	PollInterval string         `yaml:"poll_interval"` // e.g. "10ms"
	Retries      uint           `yaml:"retries"`
	CAN          *PhaseConfig   `yaml:"can"`
	FD           *FDConfig      `yaml:"fd"`
	Filters      []FilterConfig `yaml:"filters"`
	SLCAN        SLCANConfig    `yaml:"slcan"`
}

// PhaseConfig is the timing of one bitrate phase. Pointer fields are optional.
type PhaseConfig struct {
	Bitrate     int      `yaml:"bitrate"`
	SJW         int      `yaml:"sjw"`
	Samples     int      `yaml:"samples"`
	TSeg1       *int     `yaml:"tseg1"`
	TSeg2       *int     `yaml:"tseg2"`
	SamplePoint *float64 `yaml:"sample_point"`
	BitCycles   *int     `yaml:"bit_cycles"`
}

// FDConfig holds both CAN-FD phases.
type FDConfig struct {
	Enabled     bool        `yaml:"enabled"`
	NonISO      bool        `yaml:"non_iso"`
	Arbitration PhaseConfig `yaml:"arbitration"`
	Data        PhaseConfig `yaml:"data"`
}

type FilterConfig struct {
	ID       uint32 `yaml:"id"`
	Mask     uint32 `yaml:"mask"`
	Extended bool   `yaml:"extended"`
}

// SLCANConfig is the serial adapter used by the bridge command.
type SLCANConfig struct {
	Port           string       `yaml:"port"`
	Baudrate       int          `yaml:"baudrate"`
	Timing         *PhaseConfig `yaml:"timing"` // defaults to the can section bitrate
	StatusInterval string       `yaml:"status_interval"`
}

// Default returns a configuration for channel 0 at 500 kbit/s.
func Default() *Config {
	return &Config{
		Channels:     []int{0},
		RxQueueSize:  xlcan.DefaultRxQueueSize,
		PollInterval: xlcan.DefaultPollInterval.String(),
		Retries:      xlcan.DefaultRetries,
		SLCAN: SLCANConfig{
			Baudrate:       slcan.DefaultPortBaudrate,
			StatusInterval: slcan.DefaultStatusInterval.String(),
		},
	}
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks settings that do not depend on timing arithmetic.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 && c.AppName == "" {
		return errors.New("no channels configured")
	}
	for _, ch := range c.Channels {
		if ch < 0 || ch > 63 {
			return fmt.Errorf("channel %d out of range", ch)
		}
	}
	if c.CAN != nil && c.FD != nil {
		return errors.New("can and fd sections are exclusive")
	}
	for _, f := range c.Filters {
		limit := uint32(xlcan.MaxStdID)
		if f.Extended {
			limit = xlcan.MaxExtID
		}
		if f.ID > limit {
			return fmt.Errorf("filter id 0x%X out of range", f.ID)
		}
	}
	if _, err := duration(c.PollInterval); err != nil {
		return fmt.Errorf("poll_interval: %w", err)
	}
	if _, err := duration(c.SLCAN.StatusInterval); err != nil {
		return fmt.Errorf("slcan.status_interval: %w", err)
	}
	return nil
}

func duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Options converts the phase to timing inputs.
func (p PhaseConfig) Options() xlcan.TimingOpts {
	return xlcan.TimingOpts{
		Bitrate:     p.Bitrate,
		SJW:         p.SJW,
		Samples:     p.Samples,
		TSeg1:       p.TSeg1,
		TSeg2:       p.TSeg2,
		SamplePoint: p.SamplePoint,
		BitCycles:   p.BitCycles,
	}
}

// explicit reports if segments or a sample point were given.
func (p PhaseConfig) explicit() bool {
	return p.TSeg1 != nil || p.TSeg2 != nil || p.SamplePoint != nil || p.BitCycles != nil
}

// BusConfig computes timing and returns the settings for xlcan.Open.
// Timing is left nil when neither the can nor the fd section is present so
// the channel keeps whatever the driver has configured.
func (c *Config) BusConfig() (xlcan.BusConfig, error) {
	poll, err := duration(c.PollInterval)
	if err != nil {
		return xlcan.BusConfig{}, fmt.Errorf("poll_interval: %w", err)
	}
	cfg := xlcan.BusConfig{
		AppName:      c.AppName,
		Channels:     c.Channels,
		RxQueueSize:  c.RxQueueSize,
		PollInterval: poll,
		Retries:      c.Retries,
		Debug:        c.Debug,
	}
	switch {
	case c.FD != nil:
		t, err := xlcan.ComputeFDTiming(xlcan.FDTimingOpts{
			FD:          c.FD.Enabled,
			NonISO:      c.FD.NonISO,
			Arbitration: c.FD.Arbitration.Options(),
			Data:        c.FD.Data.Options(),
		})
		if err != nil {
			return xlcan.BusConfig{}, err
		}
		cfg.FDTiming = &t
	case c.CAN != nil:
		t, err := xlcan.ComputeTiming(c.CAN.Options())
		if err != nil {
			return xlcan.BusConfig{}, err
		}
		cfg.Timing = &t
	}
	for _, f := range c.Filters {
		cfg.Filters = append(cfg.Filters, xlcan.Filter{ID: f.ID, Mask: f.Mask, Extended: f.Extended})
	}
	return cfg, nil
}

// SLCANConfig returns the settings for slcan.Open.
func (c *Config) SLCANConfig() (slcan.Config, error) {
	if c.SLCAN.Port == "" {
		return slcan.Config{}, errors.New("slcan.port not set")
	}
	interval, err := duration(c.SLCAN.StatusInterval)
	if err != nil {
		return slcan.Config{}, fmt.Errorf("slcan.status_interval: %w", err)
	}
	phase := PhaseConfig{}
	switch {
	case c.SLCAN.Timing != nil:
		phase = *c.SLCAN.Timing
	case c.CAN != nil:
		phase = PhaseConfig{Bitrate: c.CAN.Bitrate}
	case c.FD != nil:
		phase = PhaseConfig{Bitrate: c.FD.Arbitration.Bitrate}
	}
	t, err := xlcan.ComputeTiming(phase.Options())
	if err != nil {
		return slcan.Config{}, fmt.Errorf("slcan timing: %w", err)
	}
	return slcan.Config{
		Port:           c.SLCAN.Port,
		PortBaudrate:   c.SLCAN.Baudrate,
		Timing:         t,
		ExplicitTiming: phase.explicit(),
		StatusInterval: interval,
		Debug:          c.Debug,
	}, nil
}
