package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/xlcan"
	"github.com/spf13/cobra"
)

func init() {
	f := monitorCmd.Flags()
	f.StringSlice("filter", nil, "id[:mask] acceptance filter, more than three id digits means extended")
	f.Bool("tui", false, "full screen monitor")
	f.Bool("no-color", false, "plain output")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "monitor the bus for frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		specs, _ := cmd.Flags().GetStringSlice("filter")
		filters, err := parseFilters(specs)
		if err != nil {
			return err
		}

		b, _, err := openBus(cmd)
		if err != nil {
			return err
		}
		defer b.Close()
		if len(filters) > 0 {
			if err := b.SetFilters(filters...); err != nil {
				return err
			}
		}

		if tui, _ := cmd.Flags().GetBool("tui"); tui {
			return runMonitorTUI(ctx, b)
		}

		go logEvents(ctx, b.Events())
		noColor, _ := cmd.Flags().GetBool("no-color")
		for f := range b.Frames(ctx) {
			if noColor {
				fmt.Printf("%12.6f %d %s\n", f.Timestamp, f.Channel, f.String())
			} else {
				fmt.Printf("%12.6f %d %s\n", f.Timestamp, f.Channel, f.ColorString())
			}
		}
		fmt.Println(b.Stats())
		return nil
	},
}

// parseFilters reads id[:mask] pairs in hex. The mask defaults to all
// identifier bits.
func parseFilters(specs []string) ([]xlcan.Filter, error) {
	var out []xlcan.Filter
	for _, s := range specs {
		s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
		if s == "" {
			continue
		}
		idPart, maskPart, hasMask := strings.Cut(s, ":")
		id, err := strconv.ParseUint(idPart, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		fl := xlcan.Filter{ID: uint32(id), Mask: xlcan.MaxStdID}
		if len(idPart) > 3 {
			fl.Extended = true
			fl.Mask = xlcan.MaxExtID
		}
		if hasMask {
			mask, err := strconv.ParseUint(strings.TrimPrefix(maskPart, "0x"), 16, 32)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", s, err)
			}
			fl.Mask = uint32(mask)
		}
		limit := uint32(xlcan.MaxStdID)
		if fl.Extended {
			limit = xlcan.MaxExtID
		}
		if fl.ID > limit {
			return nil, fmt.Errorf("filter %q: identifier out of range", s)
		}
		out = append(out, fl)
	}
	return out, nil
}
