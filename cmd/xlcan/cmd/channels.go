package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/roffe/xlcan"
	"github.com/spf13/cobra"
)

func init() {
	channelsCmd.Flags().BoolP("pick", "p", false, "interactively pick a channel and print its details")
	rootCmd.AddCommand(channelsCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "list CAN capable channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		drv, err := driver(cmd)
		if err != nil {
			return err
		}
		virtual, _ := cmd.Flags().GetBool(flagVirtual)
		sim, _ := cmd.Flags().GetBool(flagSim)
		channels, err := xlcan.DetectChannels(drv, virtual || sim)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			return fmt.Errorf("no CAN channels found, try --%s", flagVirtual)
		}

		if pick, _ := cmd.Flags().GetBool("pick"); pick {
			ch, err := pickChannel(channels)
			if err != nil {
				return err
			}
			printChannelDetails(ch)
			return nil
		}
		for _, ch := range channels {
			printChannel(ch)
		}
		return nil
	},
}

var (
	idxColor   = color.New(color.FgHiWhite, color.Bold).SprintFunc()
	fdColor    = color.New(color.FgGreen).SprintFunc()
	onBusColor = color.New(color.FgYellow).SprintFunc()
)

func printChannel(ch xlcan.ChannelInfo) {
	flags := ""
	if ch.SupportsFD {
		flags += " " + fdColor("FD")
	}
	if ch.IsOnBus {
		flags += " " + onBusColor("on bus")
	}
	fmt.Printf("%s %-28s %-10s %s%s\n", idxColor(fmt.Sprintf("%2d", ch.ChannelIndex)), ch.Name, ch.HWType, ch.TransceiverName, flags)
}

func printChannelDetails(ch xlcan.ChannelInfo) {
	fmt.Printf("Name:        %s\n", ch.Name)
	fmt.Printf("Channel:     %d (mask 0x%X)\n", ch.ChannelIndex, uint64(ch.Mask))
	fmt.Printf("Hardware:    %s index %d channel %d\n", ch.HWType, ch.HWIndex, ch.HWChannel)
	fmt.Printf("Serial:      %d\n", ch.SerialNumber)
	fmt.Printf("Transceiver: %s\n", ch.TransceiverName)
	fmt.Printf("CAN-FD:      %v\n", ch.SupportsFD)
	fmt.Printf("On bus:      %v\n", ch.IsOnBus)
	if ch.Bitrate > 0 {
		fmt.Printf("Bitrate:     %d bit/s\n", ch.Bitrate)
	}
}

func pickChannel(channels []xlcan.ChannelInfo) (xlcan.ChannelInfo, error) {
	items := make([]string, len(channels))
	for i, ch := range channels {
		items[i] = ch.String()
	}
	prompt := promptui.Select{
		Label:    "Channel",
		HideHelp: true,
		Items:    items,
	}
	i, _, err := prompt.Run()
	if err != nil {
		return xlcan.ChannelInfo{}, fmt.Errorf("prompt failed: %w", err)
	}
	return channels[i], nil
}
