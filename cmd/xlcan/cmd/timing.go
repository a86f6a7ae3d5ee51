package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/xlcan"
	"github.com/roffe/xlcan/pkg/slcan"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	f := timingCmd.Flags()
	f.Int("sjw", 0, "synchronization jump width, 0 for the default")
	f.Int("samples", 0, "sampling mode, 1 or 3")
	f.Int("tseg1", -1, "time segment 1, -1 to derive")
	f.Int("tseg2", -1, "time segment 2, -1 to derive")
	f.Float64("sample-point", 0, "sample point as a fraction, 0 to derive")
	f.Int("bit-cycles", 0, "time quanta per bit, 0 to derive")
	f.Int("data-sjw", 0, "CAN-FD data phase sjw")
	f.Float64("data-sample-point", 0, "CAN-FD data phase sample point")
	f.Int("data-bit-cycles", 0, "CAN-FD data phase time quanta per bit")
	rootCmd.AddCommand(timingCmd)
}

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "compute and print bit timing",
	Long: `Derives bit timing the way the bus applies it. Sample point and bit cycles
win over tseg1/tseg2, which win over the bitrate alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		bitrate, _ := f.GetInt(flagBitrate)
		opts := phaseOpts(f, bitrate, "sjw", "samples", "tseg1", "tseg2", "sample-point", "bit-cycles")

		if fd, _ := f.GetBool(flagFD); fd {
			dataBitrate, _ := f.GetInt(flagDataBitrate)
			nonISO, _ := f.GetBool(flagNonISO)
			dataOpts := phaseOpts(f, dataBitrate, "data-sjw", "", "", "", "data-sample-point", "data-bit-cycles")
			t, err := xlcan.ComputeFDTiming(xlcan.FDTimingOpts{
				FD:          true,
				NonISO:      nonISO,
				Arbitration: opts,
				Data:        dataOpts,
			})
			if err != nil {
				return err
			}
			printHeader()
			printPhase("arbitration", opts.Mode(), t.Arbitration)
			printPhase("data", dataOpts.Mode(), t.Data)
			printValidation(t.Validate())
			return nil
		}

		t, err := xlcan.ComputeTiming(opts)
		if err != nil {
			return err
		}
		printHeader()
		printPhase("nominal", opts.Mode(), t)
		printValidation(t.Validate())
		if btr, err := slcan.TimingBTR(t); err == nil {
			fmt.Printf("SJA1000 %s, slcan %s\n", btr, btr.Command())
		}
		return nil
	},
}

// phaseOpts reads timing flags, an empty name skips that field.
func phaseOpts(f *pflag.FlagSet, bitrate int, sjw, samples, tseg1, tseg2, sp, cycles string) xlcan.TimingOpts {
	o := xlcan.TimingOpts{Bitrate: bitrate}
	if sjw != "" {
		o.SJW, _ = f.GetInt(sjw)
	}
	if samples != "" {
		o.Samples, _ = f.GetInt(samples)
	}
	if tseg1 != "" && tseg2 != "" {
		t1, _ := f.GetInt(tseg1)
		t2, _ := f.GetInt(tseg2)
		if t1 >= 0 && t2 >= 0 {
			o.TSeg1, o.TSeg2 = xlcan.Ptr(t1), xlcan.Ptr(t2)
		}
	}
	if v, _ := f.GetFloat64(sp); v > 0 {
		o.SamplePoint = xlcan.Ptr(v)
	}
	if v, _ := f.GetInt(cycles); v > 0 {
		o.BitCycles = xlcan.Ptr(v)
	}
	return o
}

var (
	headColor = color.New(color.FgCyan, color.Bold).SprintfFunc()
	okColor   = color.New(color.FgGreen).SprintFunc()
	errColor  = color.New(color.FgRed).SprintFunc()
)

func printHeader() {
	fmt.Println(headColor("%-12s %-12s %10s %6s %6s %4s %4s %8s %6s", "phase", "mode", "bitrate", "tseg1", "tseg2", "sjw", "sam", "sp", "tq"))
}

func printPhase(name string, mode xlcan.TimingMode, t xlcan.BitTiming) {
	fmt.Printf("%-12s %-12s %10d %6d %6d %4d %4d %7.2f%% %6d\n",
		name, mode, t.Bitrate, t.TSeg1, t.TSeg2, t.SJW, t.Samples, t.SamplePoint*100, t.BitCycles)
}

func printValidation(err error) {
	if err != nil {
		fmt.Println(errColor("not usable:"), err)
		return
	}
	fmt.Println(okColor("valid"))
}
