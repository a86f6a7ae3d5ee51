package slcan

import (
	"fmt"
	"math"

	"github.com/roffe/xlcan"
)

// SJA1000 time quanta are counted at half the 16 MHz oscillator.
const btrClock = 8_000_000

// SJA1000 bus timing register limits.
const (
	maxBRP   = 64
	maxTSeg1 = 16
	maxTSeg2 = 8
	maxSJW   = 4
)

var speedCommands = map[int]string{
	10_000:    "S0",
	20_000:    "S1",
	50_000:    "S2",
	100_000:   "S3",
	125_000:   "S4",
	250_000:   "S5",
	500_000:   "S6",
	800_000:   "S7",
	1_000_000: "S8",
}

// SpeedCommand returns the standard Sn command for bitrate.
func SpeedCommand(bitrate int) (string, bool) {
	cmd, ok := speedCommands[bitrate]
	return cmd, ok
}

// BTR holds the SJA1000 bus timing registers.
type BTR struct {
	BTR0, BTR1 byte
}

// Command returns the sxxyy command that loads the registers.
func (b BTR) Command() string {
	return fmt.Sprintf("s%02X%02X", b.BTR0, b.BTR1)
}

func (b BTR) String() string {
	brp := int(b.BTR0&0x3F) + 1
	tseg1 := int(b.BTR1&0x0F) + 1
	tseg2 := int(b.BTR1>>4&0x07) + 1
	bitrate := btrClock / (brp * (1 + tseg1 + tseg2))
	return fmt.Sprintf("BTR0=0x%02X BTR1=0x%02X (%d bit/s, brp=%d tseg1=%d tseg2=%d sjw=%d)",
		b.BTR0, b.BTR1, bitrate, brp, tseg1, tseg2, int(b.BTR0>>6)+1)
}

func makeBTR(brp, tseg1, tseg2, sjw int, triple bool) BTR {
	sjw = max(1, min(sjw, maxSJW, tseg2))
	b := BTR{
		BTR0: byte(sjw-1)<<6 | byte(brp-1),
		BTR1: byte(tseg2-1)<<4 | byte(tseg1-1),
	}
	if triple {
		b.BTR1 |= 0x80
	}
	return b
}

// TimingBTR converts t to SJA1000 registers. Timing that fits the registers as
// is keeps its segments. Otherwise the prescaler and quanta count closest to
// the bitrate are searched, preferring the nearest sample point and then the
// smallest prescaler. Bitrates more than 0.5% off are rejected.
func TimingBTR(t xlcan.BitTiming) (BTR, error) {
	if t.Bitrate <= 0 {
		return BTR{}, fmt.Errorf("invalid bitrate %d", t.Bitrate)
	}
	triple := t.Samples == 3

	if t.BitCycles > 0 && t.TSeg1 >= 1 && t.TSeg1 <= maxTSeg1 && t.TSeg2 >= 1 && t.TSeg2 <= maxTSeg2 {
		if q := t.Bitrate * t.BitCycles; btrClock%q == 0 && btrClock/q <= maxBRP {
			return makeBTR(btrClock/q, t.TSeg1, t.TSeg2, t.SJW, triple), nil
		}
	}

	sp := t.SamplePoint
	if sp <= 0 || sp >= 1 {
		sp = xlcan.DefaultSamplePoint
	}
	var (
		found                bool
		bestBRP, bestT1      int
		bestT2               int
		bestRateErr, bestSPE float64
	)
	for brp := 1; brp <= maxBRP; brp++ {
		for n := 1 + maxTSeg1 + maxTSeg2; n >= 4; n-- {
			rate := float64(btrClock) / float64(brp*n)
			rateErr := math.Abs(rate-float64(t.Bitrate)) / float64(t.Bitrate)
			if rateErr > 0.005 {
				continue
			}
			tseg1 := int(math.Round(sp*float64(n))) - 1
			tseg1 = max(1, min(tseg1, maxTSeg1, n-2))
			tseg2 := n - 1 - tseg1
			if tseg2 > maxTSeg2 {
				tseg2 = maxTSeg2
				tseg1 = n - 1 - tseg2
			}
			if tseg1 > maxTSeg1 {
				continue
			}
			spErr := math.Abs(float64(1+tseg1)/float64(n) - sp)
			better := !found ||
				rateErr < bestRateErr-1e-12 ||
				(math.Abs(rateErr-bestRateErr) <= 1e-12 && spErr < bestSPE-1e-12)
			if better {
				found = true
				bestBRP, bestT1, bestT2 = brp, tseg1, tseg2
				bestRateErr, bestSPE = rateErr, spErr
			}
		}
	}
	if !found {
		return BTR{}, fmt.Errorf("no SJA1000 timing for %d bit/s", t.Bitrate)
	}
	return makeBTR(bestBRP, bestT1, bestT2, t.SJW, triple), nil
}

// BitrateCommand picks the command that sets t on the adapter: the standard
// Sn command when the bitrate has one and no explicit segments were asked
// for, the sxxyy register command otherwise.
func BitrateCommand(t xlcan.BitTiming, explicit bool) (string, error) {
	if !explicit {
		if cmd, ok := SpeedCommand(t.Bitrate); ok {
			return cmd, nil
		}
	}
	btr, err := TimingBTR(t)
	if err != nil {
		return "", err
	}
	return btr.Command(), nil
}
