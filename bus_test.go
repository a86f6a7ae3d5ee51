package xlcan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roffe/xlcan/pkg/vxl"
)

type countingDriver struct {
	*vxl.Virtual
	opens int
}

func (c *countingDriver) OpenDriver() error {
	c.opens++
	return c.Virtual.OpenDriver()
}

func openBus(t *testing.T, drv vxl.Driver, cfg BusConfig) *Bus {
	t.Helper()
	b, err := Open(context.Background(), drv, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func mustFrame(t *testing.T, id uint32, data []byte, opts ...FrameOpt) *Frame {
	t.Helper()
	f, err := NewFrame(id, data, opts...)
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	return f
}

func recvN(t *testing.T, b *Bus, n int) []*Frame {
	t.Helper()
	var out []*Frame
	for len(out) < n {
		f, err := b.Recv(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if f == nil {
			t.Fatalf("Recv() timed out after %d of %d frames", len(out), n)
		}
		out = append(out, f)
	}
	return out
}

func expectSilence(t *testing.T, b *Bus) {
	t.Helper()
	f, err := b.Recv(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if f != nil {
		t.Fatalf("Recv() = %v, want nothing", f)
	}
}

func TestBusSendRecv(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})

	before := MonotonicTime()
	if err := tx.Send(mustFrame(t, 0x123, []byte{1, 2, 3})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	f := recvN(t, rx, 1)[0]
	after := MonotonicTime()

	if f.Identifier != 0x123 || f.Extended || f.FD {
		t.Errorf("Recv() = %v", f)
	}
	if !bytes.Equal(f.Data, []byte{1, 2, 3}) || f.DLC != 3 {
		t.Errorf("Data = % X DLC %d", f.Data, f.DLC)
	}
	if !f.Rx || f.Channel != 1 {
		t.Errorf("Rx = %v Channel = %d, want true 1", f.Rx, f.Channel)
	}
	if f.Timestamp < before-0.01 || f.Timestamp > after+0.01 {
		t.Errorf("Timestamp %v outside [%v, %v]", f.Timestamp, before, after)
	}
	if st := tx.Stats(); st.SentFrames != 1 {
		t.Errorf("tx Stats() = %v", st)
	}
	if st := rx.Stats(); st.RecvFrames != 1 {
		t.Errorf("rx Stats() = %v", st)
	}
}

func TestBusExtendedRemoteError(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})

	frames := []*Frame{
		mustFrame(t, 0x18DAF110, []byte{0xDE, 0xAD}, OptExtended()),
		mustFrame(t, 0x7DF, nil, OptRemote(), OptLength(8)),
		mustFrame(t, 0x001, nil, OptErrorFrame()),
	}
	if err := tx.Send(frames...); err != nil {
		t.Fatal(err)
	}
	got := recvN(t, rx, 3)
	if !got[0].Extended || got[0].Identifier != 0x18DAF110 {
		t.Errorf("extended frame = %v", got[0])
	}
	if !got[1].RTR || got[1].DLC != 8 || len(got[1].Data) != 0 {
		t.Errorf("remote frame = %+v", got[1])
	}
	if !got[2].Error {
		t.Errorf("error frame = %+v", got[2])
	}
}

func TestBusRetransmitsTail(t *testing.T) {
	drv := vxl.NewVirtual(2)
	drv.SetTxLimit(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})

	var frames []*Frame
	for i := 0; i < 5; i++ {
		frames = append(frames, mustFrame(t, uint32(0x100+i), []byte{byte(i)}))
	}
	if err := tx.Send(frames...); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	for i, f := range recvN(t, rx, 5) {
		if f.Identifier != uint32(0x100+i) {
			t.Errorf("frame %d id = 0x%X, want 0x%X", i, f.Identifier, 0x100+i)
		}
	}
	st := tx.Stats()
	if st.SentFrames != 5 || st.Retransmits != 2 {
		t.Errorf("Stats() = %v, want 5 sent 2 retransmits", st)
	}
}

func TestBusFD(t *testing.T) {
	drv := vxl.NewVirtual(2)
	timing, err := ComputeFDTiming(FDTimingOpts{FD: true})
	if err != nil {
		t.Fatal(err)
	}
	tx := openBus(t, drv, BusConfig{Channels: []int{0}, FDTiming: &timing})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}, FDTiming: &timing})
	if !tx.FD() {
		t.Fatal("bus not opened for CAN-FD")
	}

	conf, ok := drv.FdConf(0)
	if !ok {
		t.Fatal("no CAN-FD configuration applied")
	}
	want := vxl.CanFdConf{
		ArbitrationBitRate: 500000, SJWAbr: 1, TSeg1Abr: 63, TSeg2Abr: 16,
		DataBitRate: 2000000, SJWDbr: 1, TSeg1Dbr: 27, TSeg2Dbr: 12,
	}
	if conf != want {
		t.Errorf("FdConf = %+v, want %+v", conf, want)
	}

	if err := tx.Send(mustFrame(t, 0x7E0, []byte{0xFF, 0x00}, OptFD(), OptLength(32))); err != nil {
		t.Fatal(err)
	}
	f := recvN(t, rx, 1)[0]
	if !f.FD || !f.BRS || f.DLC != 13 || len(f.Data) != 32 {
		t.Errorf("Recv() = %v", f)
	}
	if f.Data[0] != 0xFF || f.Data[1] != 0x00 || f.Data[31] != PaddingByte {
		t.Errorf("Data = % X", f.Data)
	}

	if err := tx.Send(mustFrame(t, 0x100, []byte{1, 2})); err != nil {
		t.Fatal(err)
	}
	f = recvN(t, rx, 1)[0]
	if f.FD || f.BRS || len(f.Data) != 2 {
		t.Errorf("classical frame on FD bus = %v", f)
	}
}

func TestBusNonISO(t *testing.T) {
	drv := vxl.NewVirtual(1)
	timing, err := ComputeFDTiming(FDTimingOpts{FD: true, NonISO: true, Data: TimingOpts{Bitrate: 4000000}})
	if err != nil {
		t.Fatal(err)
	}
	openBus(t, drv, BusConfig{Channels: []int{0}, FDTiming: &timing})
	conf, _ := drv.FdConf(0)
	if conf.Options&vxl.CANFD_CONFOPT_NO_ISO == 0 {
		t.Errorf("Options = 0x%X, want NO_ISO", conf.Options)
	}
	if conf.DataBitRate != 4000000 || conf.TSeg1Dbr != 13 || conf.TSeg2Dbr != 6 {
		t.Errorf("FdConf = %+v", conf)
	}
}

func TestBusFDFrameOnClassicalBus(t *testing.T) {
	drv := vxl.NewVirtual(1)
	b := openBus(t, drv, BusConfig{Channels: []int{0}})
	err := b.Send(mustFrame(t, 0x100, []byte{1}, OptFD()))
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Send() error = %v, want ErrInvalidFrame", err)
	}
	if err := b.Send(nil); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Send(nil) error = %v, want ErrInvalidFrame", err)
	}
}

func TestBusClassicalTiming(t *testing.T) {
	drv := vxl.NewVirtual(1)
	timing, err := ComputeTiming(TimingOpts{Bitrate: 500000})
	if err != nil {
		t.Fatal(err)
	}
	openBus(t, drv, BusConfig{Channels: []int{0}, Timing: &timing})
	got, ok := drv.ChipParams(0)
	if !ok {
		t.Fatal("no chip params applied")
	}
	want := vxl.ChipParams{BitRate: 500000, SJW: 4, TSeg1: 12, TSeg2: 3, Sam: 1}
	if got != want {
		t.Errorf("ChipParams = %+v, want %+v", got, want)
	}
}

func TestBusFDTimingWithoutFD(t *testing.T) {
	drv := vxl.NewVirtual(1)
	timing, err := ComputeFDTiming(FDTimingOpts{Arbitration: TimingOpts{Bitrate: 250000, SJW: 2}})
	if err != nil {
		t.Fatal(err)
	}
	b := openBus(t, drv, BusConfig{Channels: []int{0}, FDTiming: &timing})
	if b.FD() {
		t.Error("bus opened for CAN-FD with FD false")
	}
	if _, ok := drv.FdConf(0); ok {
		t.Error("CAN-FD configuration applied")
	}
	got, _ := drv.ChipParams(0)
	if got.BitRate != 250000 || got.TSeg1 != 63 || got.TSeg2 != 16 {
		t.Errorf("ChipParams = %+v", got)
	}
}

func TestBusInvalidTiming(t *testing.T) {
	drv := vxl.NewVirtual(1)
	bad := BitTiming{Bitrate: 500000, SJW: 1, Samples: 1, TSeg1: 0, TSeg2: 1, BitCycles: 2}
	_, err := Open(context.Background(), drv, BusConfig{Channels: []int{0}, Timing: &bad})
	if !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("Open() error = %v, want ErrInvalidTiming", err)
	}
	if drv.PortCount() != 0 || drv.OpenCount() != 0 {
		t.Errorf("ports %d driver opens %d left behind", drv.PortCount(), drv.OpenCount())
	}
}

func TestBusNoInitAccess(t *testing.T) {
	drv := vxl.NewVirtual(1)
	timing, _ := ComputeTiming(TimingOpts{})
	openBus(t, drv, BusConfig{Channels: []int{0}, Timing: &timing})

	second := openBus(t, drv, BusConfig{Channels: []int{0}, Timing: &timing})
	select {
	case ev := <-second.Events():
		if ev.Type != EventTypeWarning {
			t.Errorf("event = %v, want a warning", ev)
		}
	default:
		t.Error("no warning without init access")
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		drv  vxl.Driver
		cfg  BusConfig
		want error
	}{
		{"nil driver", nil, BusConfig{Channels: []int{0}}, ErrNilDriver},
		{"no channels", vxl.NewVirtual(1), BusConfig{}, ErrNoChannels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.drv, tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
		})
	}

	drv := vxl.NewVirtual(1)
	if _, err := Open(context.Background(), drv, BusConfig{Channels: []int{4}}); err == nil {
		t.Error("Open() on a missing channel succeeded")
	}
	if drv.OpenCount() != 0 {
		t.Errorf("driver left open %d times", drv.OpenCount())
	}
}

func TestOpenRetries(t *testing.T) {
	drv := &countingDriver{Virtual: vxl.NewVirtual(1)}
	drv.FailOpen(vxl.ErrHWNotReady, vxl.ErrCmdTimeout)
	b, err := Open(context.Background(), drv, BusConfig{Channels: []int{0}})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()
	if drv.opens != 3 {
		t.Errorf("OpenDriver called %d times, want 3", drv.opens)
	}
}

func TestOpenPermanentError(t *testing.T) {
	drv := &countingDriver{Virtual: vxl.NewVirtual(1)}
	drv.FailOpen(vxl.ErrNoLicense, vxl.ErrNoLicense, vxl.ErrNoLicense)
	_, err := Open(context.Background(), drv, BusConfig{Channels: []int{0}})
	if !errors.Is(err, vxl.ErrNoLicense) {
		t.Fatalf("Open() error = %v, want ErrNoLicense", err)
	}
	if IsRecoverable(err) {
		t.Error("missing license reported as recoverable")
	}
	if drv.opens != 1 {
		t.Errorf("OpenDriver called %d times, want 1", drv.opens)
	}
}

func TestBusAppName(t *testing.T) {
	drv := vxl.NewVirtual(2)
	drv.SetApplConfig("CANalyzer", 0, vxl.XL_HWTYPE_VIRTUAL, 0, 1)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{AppName: "CANalyzer", Channels: []int{0}})
	if rx.Mask() != 1<<1 {
		t.Errorf("Mask() = 0x%X, want 0x2", uint64(rx.Mask()))
	}
	if err := tx.Send(mustFrame(t, 0x42, []byte{1})); err != nil {
		t.Fatal(err)
	}
	if f := recvN(t, rx, 1)[0]; f.Channel != 0 {
		t.Errorf("Channel = %d, want application channel 0", f.Channel)
	}

	_, err := Open(context.Background(), drv, BusConfig{AppName: "CANalyzer", Channels: []int{5}})
	if err == nil {
		t.Error("Open() with an unassigned application channel succeeded")
	}
}

func TestBusLoopback(t *testing.T) {
	drv := vxl.NewVirtual(1)
	drv.SetLoopback(true)
	b := openBus(t, drv, BusConfig{Channels: []int{0}})
	if err := b.Send(mustFrame(t, 0x321, []byte{9})); err != nil {
		t.Fatal(err)
	}
	f := recvN(t, b, 1)[0]
	if f.Rx || f.Identifier != 0x321 {
		t.Errorf("echo = %v, want a local transmission", f)
	}
}

func TestBusSendOn(t *testing.T) {
	drv := vxl.NewVirtual(3)
	tx := openBus(t, drv, BusConfig{Channels: []int{0, 1}})
	rx := openBus(t, drv, BusConfig{Channels: []int{2}})
	if err := tx.SendOn(1, mustFrame(t, 0x10, nil)); err != nil {
		t.Fatal(err)
	}
	recvN(t, rx, 1)
	expectSilence(t, rx)
	if err := tx.SendOn(2, mustFrame(t, 0x10, nil)); err == nil {
		t.Error("SendOn() a channel outside the bus succeeded")
	}
}

func TestBusHardwareFilters(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}, Filters: []Filter{{ID: 0x100, Mask: 0x7FF}}})

	for _, f := range []*Frame{
		mustFrame(t, 0x200, nil),
		mustFrame(t, 0x100, nil, OptExtended()),
		mustFrame(t, 0x100, []byte{1}),
	} {
		if err := tx.Send(f); err != nil {
			t.Fatal(err)
		}
	}
	f := recvN(t, rx, 1)[0]
	if f.Identifier != 0x100 || f.Extended {
		t.Errorf("Recv() = %v", f)
	}
	expectSilence(t, rx)
	if st := rx.Stats(); st.Filtered != 0 {
		t.Errorf("Filtered = %d, want hardware filtering", st.Filtered)
	}

	if err := rx.SetFilters(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Send(mustFrame(t, 0x200, nil)); err != nil {
		t.Fatal(err)
	}
	recvN(t, rx, 1)
}

func TestBusSoftwareFilters(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})
	err := rx.SetFilters(
		Filter{ID: 0x100, Mask: 0x7FF},
		Filter{ID: 0x102, Mask: 0x7FF},
		Filter{ID: 0x18DA0000, Mask: 0x1FFF0000, Extended: true},
	)
	if err != nil {
		t.Fatal(err)
	}
	sent := []*Frame{
		mustFrame(t, 0x100, nil),
		mustFrame(t, 0x101, nil),
		mustFrame(t, 0x102, nil),
		mustFrame(t, 0x18DAF110, nil, OptExtended()),
		mustFrame(t, 0x18DBF110, nil, OptExtended()),
	}
	if err := tx.Send(sent...); err != nil {
		t.Fatal(err)
	}
	got := recvN(t, rx, 3)
	for i, want := range []uint32{0x100, 0x102, 0x18DAF110} {
		if got[i].Identifier != want {
			t.Errorf("frame %d = 0x%X, want 0x%X", i, got[i].Identifier, want)
		}
	}
	expectSilence(t, rx)
	if st := rx.Stats(); st.Filtered != 2 {
		t.Errorf("Filtered = %d, want 2", st.Filtered)
	}
}

func TestBusRecvTimeout(t *testing.T) {
	drv := vxl.NewVirtual(1)
	b := openBus(t, drv, BusConfig{Channels: []int{0}})
	start := time.Now()
	f, err := b.Recv(context.Background(), 30*time.Millisecond)
	if err != nil || f != nil {
		t.Fatalf("Recv() = %v, %v, want nil, nil", f, err)
	}
	if el := time.Since(start); el < 25*time.Millisecond {
		t.Errorf("Recv() returned after %s", el)
	}
	if f, err := b.Recv(context.Background(), 0); f != nil || err != nil {
		t.Errorf("Recv(0) = %v, %v", f, err)
	}
}

func TestBusRecvWakesOnFrame(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})
	frame := mustFrame(t, 0x55, []byte{5})
	go func() {
		time.Sleep(30 * time.Millisecond)
		tx.Send(frame)
	}()
	start := time.Now()
	f, err := rx.Recv(context.Background(), 2*time.Second)
	if err != nil || f == nil {
		t.Fatalf("Recv() = %v, %v", f, err)
	}
	if el := time.Since(start); el > time.Second {
		t.Errorf("Recv() took %s", el)
	}
}

func TestBusRecvContext(t *testing.T) {
	drv := vxl.NewVirtual(1)
	b := openBus(t, drv, BusConfig{Channels: []int{0}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Recv(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv() error = %v, want context.Canceled", err)
	}
}

func TestBusFrames(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})
	ctx, cancel := context.WithCancel(context.Background())
	frames := rx.Frames(ctx)
	for i := 0; i < 3; i++ {
		if err := tx.Send(mustFrame(t, uint32(i), nil)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case f := <-frames:
			if f.Identifier != uint32(i) {
				t.Errorf("frame %d id = %d", i, f.Identifier)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
	cancel()
	select {
	case _, ok := <-frames:
		if ok {
			t.Error("frame after cancel")
		}
	case <-time.After(time.Second):
		t.Error("Frames() not closed after cancel")
	}
}

func TestBusReset(t *testing.T) {
	drv := vxl.NewVirtual(2)
	tx := openBus(t, drv, BusConfig{Channels: []int{0}})
	rx := openBus(t, drv, BusConfig{Channels: []int{1}})
	time.Sleep(10 * time.Millisecond)
	old := rx.TimeOffset()
	if err := rx.Reset(); err != nil {
		t.Fatal(err)
	}
	if rx.TimeOffset() <= old {
		t.Errorf("TimeOffset() = %v after reset, was %v", rx.TimeOffset(), old)
	}
	before := MonotonicTime()
	if err := tx.Send(mustFrame(t, 1, nil)); err != nil {
		t.Fatal(err)
	}
	f := recvN(t, rx, 1)[0]
	if f.Timestamp < before-0.01 || f.Timestamp > MonotonicTime()+0.01 {
		t.Errorf("Timestamp %v not on MonotonicTime after reset", f.Timestamp)
	}
	if err := rx.FlushTxQueue(); err != nil {
		t.Errorf("FlushTxQueue() error = %v", err)
	}
}

func TestBusClose(t *testing.T) {
	drv := vxl.NewVirtual(1)
	b, err := Open(context.Background(), drv, BusConfig{Channels: []int{0}})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if drv.PortCount() != 0 || drv.OpenCount() != 0 {
		t.Errorf("ports %d driver opens %d after Close", drv.PortCount(), drv.OpenCount())
	}
	if err := b.Send(mustFrame(t, 1, nil)); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Send() error = %v, want ErrBusClosed", err)
	}
	if _, err := b.Recv(context.Background(), 0); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Recv() error = %v, want ErrBusClosed", err)
	}
	if err := b.SetFilters(); !errors.Is(err, ErrBusClosed) {
		t.Errorf("SetFilters() error = %v, want ErrBusClosed", err)
	}
	if err := b.FlushTxQueue(); !errors.Is(err, ErrBusClosed) {
		t.Errorf("FlushTxQueue() error = %v, want ErrBusClosed", err)
	}
	if err := b.Reset(); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Reset() error = %v, want ErrBusClosed", err)
	}
}

func TestBusCloseConcurrent(t *testing.T) {
	drv := vxl.NewVirtual(1)
	b, err := Open(context.Background(), drv, BusConfig{Channels: []int{0}})
	if err != nil {
		t.Fatal(err)
	}
	frame := mustFrame(t, 1, nil)
	calls := []struct {
		name string
		fn   func() error
	}{
		{"FlushTxQueue", b.FlushTxQueue},
		{"SetFilters", func() error { return b.SetFilters(Filter{ID: 0x7E8, Mask: 0x7FF}) }},
		{"Reset", b.Reset},
		{"Send", func() error { return b.Send(frame) }},
	}

	errs := make(chan error, len(calls)*20)
	done := make(chan struct{})
	for _, c := range calls {
		c := c
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 20; i++ {
				if err := c.fn(); err != nil && !errors.Is(err, ErrBusClosed) {
					errs <- fmt.Errorf("%s: %w", c.name, err)
				}
			}
		}()
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	for range calls {
		<-done
	}
	close(errs)
	for err := range errs {
		t.Errorf("call racing Close: %v", err)
	}
	if drv.PortCount() != 0 {
		t.Errorf("ports %d after Close", drv.PortCount())
	}
}
