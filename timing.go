package xlcan

import (
	"fmt"
	"math"
)

const (
	// Classical timing is derived from a nominal 16 MHz controller clock with a fixed prescaler of 2.
	classicRefClock = 16_000_000
	// Data phase timing is derived from an 80 MHz CAN-FD controller clock.
	fdRefClock = 80_000_000

	DefaultBitrate     = 500_000
	DefaultDataBitrate = 2_000_000

	DefaultSJW         = 4
	DefaultSamplePoint = 0.8125

	DefaultFDSJW         = 1
	DefaultFDSamplePoint = 0.8
	DefaultFDBitCycles   = 80

	DefaultDataSJW         = 1
	DefaultDataSamplePoint = 0.7
)

// sp*cycles can land a hair below a whole number (0.7*90 = 62.99999999999999)
const floorEpsilon = 1e-9

// BitTiming is one complete set of bus timing parameters for a single bit rate phase.
//
// BitCycles is the number of time quanta per bit and always equals 1+TSeg1+TSeg2.
// SamplePoint is (1+TSeg1)/BitCycles.
type BitTiming struct {
	Bitrate     int
	SJW         int
	Samples     int
	TSeg1       int
	TSeg2       int
	SamplePoint float64
	BitCycles   int
}

func (t BitTiming) String() string {
	return fmt.Sprintf("%d bit/s, tseg1=%d tseg2=%d sjw=%d sam=%d sp=%.2f%% (%d tq)",
		t.Bitrate, t.TSeg1, t.TSeg2, t.SJW, t.Samples, t.SamplePoint*100, t.BitCycles)
}

// Validate reports timing that no controller can run: fewer than 3 time quanta,
// empty phase segments, an SJW outside 1..4 or a sample mode other than 1 or 3.
//
// ComputeTiming never calls Validate; callers decide whether degenerate timing is an error.
func (t BitTiming) Validate() error {
	return t.validate(4)
}

func (t BitTiming) validate(maxSJW int) error {
	switch {
	case t.Bitrate <= 0:
		return timingErrorf("bitrate %d must be positive", t.Bitrate)
	case t.BitCycles < 3:
		return timingErrorf("%d bit cycles, need at least 3", t.BitCycles)
	case t.TSeg1 < 1:
		return timingErrorf("tseg1 %d must be at least 1", t.TSeg1)
	case t.TSeg2 < 1:
		return timingErrorf("tseg2 %d must be at least 1", t.TSeg2)
	case t.SJW < 1 || t.SJW > maxSJW:
		return timingErrorf("sjw %d out of range 1..%d", t.SJW, maxSJW)
	case t.Samples != 1 && t.Samples != 3:
		return timingErrorf("samples must be 1 or 3, got %d", t.Samples)
	}
	return nil
}

// TimingMode is the input mode a TimingOpts value selects.
type TimingMode int

const (
	// ModeBitrate derives the bit cycles from the bitrate and a reference clock.
	ModeBitrate TimingMode = iota
	// ModeSamplePoint uses an explicit sample point and bit cycle count.
	ModeSamplePoint
	// ModeSegments uses explicit phase segment lengths.
	ModeSegments
)

func (m TimingMode) String() string {
	switch m {
	case ModeSamplePoint:
		return "sample point"
	case ModeSegments:
		return "segments"
	default:
		return "bitrate"
	}
}

// TimingOpts holds the caller supplied timing inputs. The pointer fields are
// optional; a nil pointer means "not given" so an explicit zero is kept as zero.
// A zero Bitrate, SJW or Samples selects the phase default.
type TimingOpts struct {
	Bitrate     int
	SJW         int
	Samples     int
	TSeg1       *int
	TSeg2       *int
	SamplePoint *float64
	BitCycles   *int
}

// Mode returns the derivation mode the given fields select.
// Sample point and bit cycles win over segments, segments win over bitrate.
func (o TimingOpts) Mode() TimingMode {
	switch {
	case o.SamplePoint != nil && o.BitCycles != nil:
		return ModeSamplePoint
	case o.TSeg1 != nil && o.TSeg2 != nil:
		return ModeSegments
	default:
		return ModeBitrate
	}
}

func (o TimingOpts) check() error {
	if o.Bitrate < 0 {
		return timingErrorf("negative bitrate %d", o.Bitrate)
	}
	if o.SJW < 0 {
		return timingErrorf("negative sjw %d", o.SJW)
	}
	if o.Samples != 0 && o.Samples != 1 && o.Samples != 3 {
		return timingErrorf("samples must be 1 or 3, got %d", o.Samples)
	}
	for _, f := range []struct {
		name string
		v    *int
	}{{"tseg1", o.TSeg1}, {"tseg2", o.TSeg2}, {"bit cycles", o.BitCycles}} {
		if f.v != nil && *f.v < 0 {
			return timingErrorf("negative %s %d", f.name, *f.v)
		}
	}
	if o.SamplePoint != nil && (*o.SamplePoint < 0 || math.IsNaN(*o.SamplePoint)) {
		return timingErrorf("sample point %v out of range", *o.SamplePoint)
	}
	return nil
}

type phaseDefaults struct {
	bitrate     int
	sjw         int
	samplePoint float64
	bitCycles   func(bitrate int) int
}

var (
	classicDefaults = phaseDefaults{
		bitrate:     DefaultBitrate,
		sjw:         DefaultSJW,
		samplePoint: DefaultSamplePoint,
		bitCycles:   func(bitrate int) int { return classicRefClock / bitrate / 2 },
	}
	arbitrationDefaults = phaseDefaults{
		bitrate:     DefaultBitrate,
		sjw:         DefaultFDSJW,
		samplePoint: DefaultFDSamplePoint,
		bitCycles:   func(int) int { return DefaultFDBitCycles },
	}
	dataDefaults = phaseDefaults{
		bitrate:     DefaultDataBitrate,
		sjw:         DefaultDataSJW,
		samplePoint: DefaultDataSamplePoint,
		bitCycles:   func(bitrate int) int { return fdRefClock / bitrate },
	}
)

// ComputeTiming derives a classical CAN bit timing from partial inputs.
//
// It fails only for inputs the arithmetic cannot handle (negative values, a
// sample mode other than 1 or 3, a non positive bitrate in bitrate mode). The
// result is not checked for physical plausibility, see BitTiming.Validate.
func ComputeTiming(o TimingOpts) (BitTiming, error) {
	return computePhase(o, classicDefaults)
}

func computePhase(o TimingOpts, d phaseDefaults) (BitTiming, error) {
	if err := o.check(); err != nil {
		return BitTiming{}, err
	}
	t := BitTiming{
		Bitrate: o.Bitrate,
		SJW:     o.SJW,
		Samples: o.Samples,
	}
	if t.Bitrate == 0 {
		t.Bitrate = d.bitrate
	}
	if t.SJW == 0 {
		t.SJW = d.sjw
	}
	if t.Samples == 0 {
		t.Samples = 1
	}

	switch o.Mode() {
	case ModeSamplePoint:
		t.BitCycles = *o.BitCycles
		t.TSeg1, t.TSeg2 = segments(*o.SamplePoint, t.BitCycles)
	case ModeSegments:
		t.TSeg1, t.TSeg2 = *o.TSeg1, *o.TSeg2
		t.BitCycles = 1 + t.TSeg1 + t.TSeg2
	default:
		if o.BitCycles != nil {
			t.BitCycles = *o.BitCycles
		} else {
			t.BitCycles = d.bitCycles(t.Bitrate)
		}
		sp := d.samplePoint
		if o.SamplePoint != nil {
			sp = *o.SamplePoint
		}
		t.TSeg1, t.TSeg2 = segments(sp, t.BitCycles)
	}
	if t.BitCycles > 0 {
		t.SamplePoint = float64(1+t.TSeg1) / float64(t.BitCycles)
	}
	return t, nil
}

func segments(samplePoint float64, bitCycles int) (tseg1, tseg2 int) {
	tseg1 = int(math.Floor(samplePoint*float64(bitCycles)+floorEpsilon)) - 1
	tseg2 = bitCycles - 1 - tseg1
	return tseg1, tseg2
}

// FDTiming is the timing of a CAN-FD channel: the arbitration phase plus the
// data phase used by frames with the bitrate switch set.
// When FD is false only Arbitration is applied to the channel.
type FDTiming struct {
	FD          bool
	NonISO      bool // Bosch (non-ISO) CAN-FD framing
	Arbitration BitTiming
	Data        BitTiming
}

func (t FDTiming) String() string {
	iso := "ISO"
	if t.NonISO {
		iso = "non-ISO"
	}
	if !t.FD {
		return "CAN " + t.Arbitration.String()
	}
	return fmt.Sprintf("CAN-FD (%s) arbitration %s, data %s", iso, t.Arbitration, t.Data)
}

// Validate applies BitTiming.Validate to both phases. CAN-FD controllers
// accept an SJW up to the phase's tseg2.
func (t FDTiming) Validate() error {
	if !t.FD {
		return t.Arbitration.Validate()
	}
	if err := t.Arbitration.validate(max(t.Arbitration.TSeg2, 1)); err != nil {
		return fmt.Errorf("arbitration phase: %w", err)
	}
	if err := t.Data.validate(max(t.Data.TSeg2, 1)); err != nil {
		return fmt.Errorf("data phase: %w", err)
	}
	return nil
}

// FDTimingOpts are the inputs for ComputeFDTiming.
type FDTimingOpts struct {
	FD          bool
	NonISO      bool
	Arbitration TimingOpts
	Data        TimingOpts
}

// ComputeFDTiming derives both phases of a CAN-FD timing. The arbitration phase
// defaults to 80 time quanta at a 0.8 sample point, the data phase divides an
// 80 MHz clock by the data bitrate and samples at 0.7.
func ComputeFDTiming(o FDTimingOpts) (FDTiming, error) {
	abr, err := computePhase(o.Arbitration, arbitrationDefaults)
	if err != nil {
		return FDTiming{}, fmt.Errorf("arbitration phase: %w", err)
	}
	dbr, err := computePhase(o.Data, dataDefaults)
	if err != nil {
		return FDTiming{}, fmt.Errorf("data phase: %w", err)
	}
	return FDTiming{
		FD:          o.FD,
		NonISO:      o.NonISO,
		Arbitration: abr,
		Data:        dbr,
	}, nil
}

// Ptr returns a pointer to v, handy for the optional TimingOpts fields.
func Ptr[T any](v T) *T {
	return &v
}
