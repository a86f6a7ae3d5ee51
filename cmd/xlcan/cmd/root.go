package cmd

import (
	"context"
	"log"

	"github.com/roffe/xlcan"
	"github.com/roffe/xlcan/pkg/config"
	"github.com/roffe/xlcan/pkg/vxl"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "xlcan",
	Short:        "CAN and CAN-FD through Vector XL interfaces",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig      = "config"
	flagChannel     = "channel"
	flagApp         = "app"
	flagVirtual     = "virtual"
	flagSim         = "sim"
	flagFD          = "fd"
	flagNonISO      = "non-iso"
	flagBitrate     = "bitrate"
	flagDataBitrate = "data-bitrate"
	flagDebug       = "debug"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "YAML configuration file")
	pf.IntSliceP(flagChannel, "n", []int{0}, "global channel index, repeat for multi channel buses")
	pf.StringP(flagApp, "a", "", "Vector Hardware Config application name, channels become application channels")
	pf.Bool(flagVirtual, false, "include the driver's virtual channels")
	pf.Bool(flagSim, false, "use the in-memory virtual driver instead of vxlapi64.dll")
	pf.Bool(flagFD, false, "CAN-FD mode")
	pf.Bool(flagNonISO, false, "Bosch (non-ISO) CAN-FD framing")
	pf.IntP(flagBitrate, "b", 0, "nominal bitrate, 0 keeps the driver configuration")
	pf.Int(flagDataBitrate, xlcan.DefaultDataBitrate, "CAN-FD data phase bitrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
}

// loadConfig reads --config and lets explicitly set flags override it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	pf := cmd.Flags()
	cfg := config.Default()
	if path, _ := pf.GetString(flagConfig); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if pf.Changed(flagChannel) {
		cfg.Channels, _ = pf.GetIntSlice(flagChannel)
	}
	if pf.Changed(flagApp) {
		cfg.AppName, _ = pf.GetString(flagApp)
	}
	if pf.Changed(flagVirtual) {
		cfg.Virtual, _ = pf.GetBool(flagVirtual)
	}
	if pf.Changed(flagDebug) {
		cfg.Debug, _ = pf.GetBool(flagDebug)
	}

	bitrate, _ := pf.GetInt(flagBitrate)
	fd, _ := pf.GetBool(flagFD)
	switch {
	case fd:
		dataBitrate, _ := pf.GetInt(flagDataBitrate)
		nonISO, _ := pf.GetBool(flagNonISO)
		cfg.CAN = nil
		cfg.FD = &config.FDConfig{
			Enabled:     true,
			NonISO:      nonISO,
			Arbitration: config.PhaseConfig{Bitrate: bitrate},
			Data:        config.PhaseConfig{Bitrate: dataBitrate},
		}
	case pf.Changed(flagBitrate):
		cfg.FD = nil
		cfg.CAN = &config.PhaseConfig{Bitrate: bitrate}
	}
	return cfg, cfg.Validate()
}

var simDriver *vxl.Virtual

// driver returns the XL driver, or a shared in-memory bus with --sim.
func driver(cmd *cobra.Command) (vxl.Driver, error) {
	if sim, _ := cmd.Flags().GetBool(flagSim); sim {
		if simDriver == nil {
			simDriver = vxl.NewVirtual(2)
			simDriver.SetLoopback(true)
		}
		return simDriver, nil
	}
	return vxl.Load()
}

// openBus opens the bus described by the flags and --config.
func openBus(cmd *cobra.Command) (*xlcan.Bus, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	busCfg, err := cfg.BusConfig()
	if err != nil {
		return nil, nil, err
	}
	drv, err := driver(cmd)
	if err != nil {
		return nil, nil, err
	}
	b, err := xlcan.Open(cmd.Context(), drv, busCfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Debug {
		log.Printf("bus open on channels %v, mask 0x%X", busCfg.Channels, uint64(b.Mask()))
	}
	return b, cfg, nil
}

// logEvents prints events at info level or above until ch is closed or ctx is done.
func logEvents(ctx context.Context, ch <-chan xlcan.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.AtLeast(xlcan.EventTypeInfo) {
				log.Println(e)
			}
		}
	}
}
