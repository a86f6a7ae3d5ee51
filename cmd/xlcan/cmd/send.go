package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/roffe/xlcan"
	"github.com/roffe/xlcan/pkg/bar"
	"github.com/spf13/cobra"
)

func init() {
	f := sendCmd.Flags()
	f.StringP("file", "f", "", "read frames from file, one per line")
	f.IntP("count", "r", 1, "send the frames this many times")
	f.DurationP("interval", "i", 0, "pause between rounds")
	f.Int("on", -1, "send on this channel only")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [frame...]",
	Short: "send frames, e.g. 7E0#0210030000000000 or 123##1DEADBEEF",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		frames, err := framesFromArgs(cmd, args)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		interval, _ := cmd.Flags().GetDuration("interval")
		on, _ := cmd.Flags().GetInt("on")

		b, cfg, err := openBus(cmd)
		if err != nil {
			return err
		}
		defer b.Close()
		go logEvents(ctx, b.Events())

		send := b.Send
		if on >= 0 {
			send = func(frames ...*xlcan.Frame) error {
				return b.SendOn(on, frames...)
			}
		}

		total := len(frames) * count
		progress := total > 1 && !cfg.Debug
		pb := bar.New(total, "sending")
		start := time.Now()
		for i := 0; i < count; i++ {
			if err := send(frames...); err != nil {
				return err
			}
			if progress {
				pb.Add(len(frames))
			} else {
				for _, f := range frames {
					log.Println(f.String())
				}
			}
			if interval > 0 && i < count-1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		}
		if progress {
			pb.Finish()
			fmt.Println()
		}
		st := b.Stats()
		log.Printf("sent %d frames in %s, %d retransmits", st.SentFrames, time.Since(start).Round(time.Millisecond), st.Retransmits)
		return nil
	},
}

func framesFromArgs(cmd *cobra.Command, args []string) ([]*xlcan.Frame, error) {
	var frames []*xlcan.Frame
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		if frames, err = readFrames(fh); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, a := range args {
		f, err := parseFrame(a)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames to send")
	}
	return frames, nil
}
