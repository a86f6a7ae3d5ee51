package cmd

import (
	"context"
	"errors"
	"log"

	"github.com/roffe/xlcan"
	"github.com/roffe/xlcan/pkg/slcan"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	f := bridgeCmd.Flags()
	f.StringP("port", "p", "", "SLCAN adapter serial port, overrides slcan.port")
	f.Int("port-baudrate", 0, "serial port speed, overrides slcan.baudrate")
	rootCmd.AddCommand(bridgeCmd)
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "forward frames between the XL bus and an SLCAN adapter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, cfg, err := openBus(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		if p, _ := cmd.Flags().GetString("port"); p != "" {
			cfg.SLCAN.Port = p
		}
		if baud, _ := cmd.Flags().GetInt("port-baudrate"); baud > 0 {
			cfg.SLCAN.Baudrate = baud
		}
		portCfg, err := cfg.SLCANConfig()
		if err != nil {
			return err
		}
		ports, err := slcan.Ports()
		if err != nil {
			return err
		}
		info, err := slcan.FindPort(ports, portCfg.Port)
		if err != nil {
			return err
		}
		port, err := slcan.Open(cmd.Context(), portCfg)
		if err != nil {
			return err
		}
		defer port.Close()
		log.Printf("bridging to %s, adapter %s", info, port.Version())

		return bridge(cmd.Context(), b, port)
	},
}

// bridge copies frames both ways until ctx is done or either side fails.
func bridge(ctx context.Context, b *xlcan.Bus, port *slcan.Port) error {
	g, ctx := errgroup.WithContext(ctx)
	go logEvents(ctx, b.Events())
	go logEvents(ctx, port.Events())

	g.Go(func() error {
		for f := range b.Frames(ctx) {
			// echoes of frames we forwarded
			if !f.Rx {
				continue
			}
			// classical frames may arrive with a raw DLC above 8
			n, err := f.Normalize()
			if err != nil {
				log.Printf("slcan: skipping %s: %v", f, err)
				continue
			}
			if err := port.Send(ctx, n); err != nil {
				if errors.Is(err, slcan.ErrUnsupported) {
					log.Printf("slcan: skipping %s: %v", f, err)
					continue
				}
				return err
			}
		}
		return ctx.Err()
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f, ok := <-port.Recv():
				if !ok {
					if err := port.Err(); err != nil {
						return err
					}
					return errors.New("slcan port closed")
				}
				if err := b.Send(f); err != nil {
					if errors.Is(err, xlcan.ErrInvalidFrame) {
						log.Printf("xl: skipping %s: %v", f, err)
						continue
					}
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
