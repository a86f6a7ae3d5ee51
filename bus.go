package xlcan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/xlcan/pkg/vxl"
)

const (
	DefaultRxQueueSize  = 1 << 14
	DefaultPollInterval = 10 * time.Millisecond
	DefaultRetries      = 3
	DefaultAppName      = "xlcan"

	// longest single notifier wait, keeps Recv responsive to ctx
	maxWaitSlice = 100 * time.Millisecond
)

var processStart = time.Now()

// MonotonicTime is the clock frame timestamps are expressed in: seconds since
// the package was loaded, read from the monotonic clock.
func MonotonicTime() float64 {
	return time.Since(processStart).Seconds()
}

// Filter accepts frames whose identifier matches ID in all bits set in Mask.
type Filter struct {
	ID       uint32
	Mask     uint32
	Extended bool
}

// Match reports whether f passes the filter.
func (fl Filter) Match(f *Frame) bool {
	return fl.Extended == f.Extended && f.Identifier&fl.Mask == fl.ID&fl.Mask
}

// BusConfig configures Open.
type BusConfig struct {
	// AppName selects channels through the Vector Hardware Config application
	// assignments. When empty Channels are global channel indexes.
	AppName  string
	Channels []int

	// Timing is applied to classical channels. FDTiming takes precedence;
	// with FDTiming.FD false only its arbitration phase is used.
	// Nil leaves the channel timing as configured in the driver.
	Timing   *BitTiming
	FDTiming *FDTiming

	RxQueueSize  int
	Filters      []Filter
	PollInterval time.Duration
	Retries      uint // OpenDriver attempts
	Debug        bool
}

// Bus is an open XL port with activated CAN channels.
//
// Once Open returns, the port handle is only touched with txMu or rxMu held.
// rxMu is taken before txMu, and txMu before mu.
type Bus struct {
	drv        vxl.Driver
	cfg        BusConfig
	port       vxl.PortHandle
	mask       vxl.AccessMask
	initAccess vxl.AccessMask
	fd         bool
	notifier   vxl.Notifier
	channels   map[int]int // global channel index -> configured channel

	mu       sync.Mutex
	offset   float64
	filters  []Filter
	swFilter bool

	txMu sync.Mutex
	rxMu sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	sent, recv, retransmits, filtered, errs, dropped atomic.Uint64
}

// Open opens the driver, a port on the configured channels, applies timing
// and filters and activates the channels with a reset clock.
func Open(ctx context.Context, drv vxl.Driver, cfg BusConfig) (*Bus, error) {
	if drv == nil {
		return nil, ErrNilDriver
	}
	if len(cfg.Channels) == 0 {
		return nil, ErrNoChannels
	}
	if cfg.RxQueueSize <= 0 {
		cfg.RxQueueSize = DefaultRxQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}

	b := &Bus{
		drv:      drv,
		cfg:      cfg,
		port:     vxl.InvalidPortHandle,
		channels: make(map[int]int),
		events:   make(chan Event, 100),
		closed:   make(chan struct{}),
	}
	b.fd = cfg.FDTiming != nil && cfg.FDTiming.FD

	if err := b.openDriver(ctx); err != nil {
		return nil, err
	}
	if err := b.setup(); err != nil {
		b.teardown()
		return nil, err
	}
	return b, nil
}

func (b *Bus) openDriver(ctx context.Context) error {
	err := retry.Do(func() error {
		if err := b.drv.OpenDriver(); err != nil {
			if vxl.Permanent(err) {
				return Unrecoverable(err)
			}
			return err
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(b.cfg.Retries),
		retry.Delay(50*time.Millisecond),
		retry.RetryIf(IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			b.debugf("retry #%d open driver: %v", n, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("open driver: %w", err)
	}
	return nil
}

func (b *Bus) setup() error {
	if err := b.resolveChannels(); err != nil {
		return err
	}

	version := vxl.XL_INTERFACE_VERSION
	if b.fd {
		version = vxl.XL_INTERFACE_VERSION_V4
	}
	var permission vxl.AccessMask
	if b.cfg.Timing != nil || b.cfg.FDTiming != nil {
		permission = b.mask
	}
	name := b.cfg.AppName
	if name == "" {
		name = DefaultAppName
	}
	port, granted, err := b.drv.OpenPort(name, b.mask, permission, uint32(b.cfg.RxQueueSize), version, vxl.XL_BUS_TYPE_CAN)
	if err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	b.port = port
	b.initAccess = granted

	if err := b.applyTiming(); err != nil {
		return err
	}

	if len(b.cfg.Filters) > 0 {
		if err := b.SetFilters(b.cfg.Filters...); err != nil {
			return err
		}
	}

	n, err := b.drv.SetNotification(b.port, 1)
	if err != nil {
		b.emit(EventTypeWarning, "receive notification unavailable, polling every %s: %v", b.cfg.PollInterval, err)
	} else {
		b.notifier = n
	}

	return b.activate()
}

// resolveChannels builds the access mask for the configured channels.
func (b *Bus) resolveChannels() error {
	drvCfg, err := b.drv.GetDriverConfig()
	if err != nil {
		return fmt.Errorf("get driver config: %w", err)
	}
	for _, ch := range b.cfg.Channels {
		var mask vxl.AccessMask
		if b.cfg.AppName != "" {
			hwType, hwIndex, hwChannel, err := b.drv.GetApplConfig(b.cfg.AppName, uint32(ch), vxl.XL_BUS_TYPE_CAN)
			if err != nil {
				return fmt.Errorf("application %q channel %d: %w", b.cfg.AppName, ch, err)
			}
			mask, err = b.drv.GetChannelMask(hwType, hwIndex, hwChannel)
			if err != nil {
				return fmt.Errorf("channel mask %s %d/%d: %w", hwType, hwIndex, hwChannel, err)
			}
		} else if ch >= 0 && ch < len(drvCfg.Channels) {
			mask = drvCfg.Channels[ch].ChannelMask
		}
		if mask == 0 {
			return Unrecoverable(fmt.Errorf("channel %d not found", ch))
		}
		idx := bits.TrailingZeros64(uint64(mask))
		if idx < len(drvCfg.Channels) {
			c := &drvCfg.Channels[idx]
			if !c.SupportsCAN() {
				return Unrecoverable(fmt.Errorf("channel %d (%s) is not CAN capable", ch, c.Name))
			}
			if b.fd && !c.SupportsFD() {
				b.emit(EventTypeWarning, "channel %d (%s) does not report CAN-FD support", ch, c.Name)
			}
		}
		b.mask |= mask
		b.channels[idx] = ch
	}
	return nil
}

func (b *Bus) applyTiming() error {
	var t *FDTiming
	switch {
	case b.cfg.FDTiming != nil:
		t = b.cfg.FDTiming
	case b.cfg.Timing != nil:
		t = &FDTiming{Arbitration: *b.cfg.Timing}
	default:
		return nil
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if b.initAccess == 0 {
		b.emit(EventTypeWarning, "no init access, channel timing left as configured")
		return nil
	}
	if b.initAccess != b.mask {
		b.emit(EventTypeWarning, "init access for mask 0x%X of 0x%X only", uint64(b.initAccess), uint64(b.mask))
	}

	if t.FD {
		conf := fdConf(*t)
		if err := b.drv.CanFdSetConfiguration(b.port, b.initAccess, conf); err != nil {
			return fmt.Errorf("set CAN-FD configuration: %w", err)
		}
		b.debugf("applied %s", t)
		return nil
	}
	a := t.Arbitration
	params := vxl.ChipParams{
		BitRate: uint32(a.Bitrate),
		SJW:     uint8(a.SJW),
		TSeg1:   uint8(a.TSeg1),
		TSeg2:   uint8(a.TSeg2),
		Sam:     uint8(a.Samples),
	}
	if err := b.drv.CanSetChannelParams(b.port, b.initAccess, params); err != nil {
		return fmt.Errorf("set channel params: %w", err)
	}
	b.debugf("applied %s", a)
	return nil
}

func fdConf(t FDTiming) vxl.CanFdConf {
	conf := vxl.CanFdConf{
		ArbitrationBitRate: uint32(t.Arbitration.Bitrate),
		SJWAbr:             uint32(t.Arbitration.SJW),
		TSeg1Abr:           uint32(t.Arbitration.TSeg1),
		TSeg2Abr:           uint32(t.Arbitration.TSeg2),
		DataBitRate:        uint32(t.Data.Bitrate),
		SJWDbr:             uint32(t.Data.SJW),
		TSeg1Dbr:           uint32(t.Data.TSeg1),
		TSeg2Dbr:           uint32(t.Data.TSeg2),
	}
	if t.NonISO {
		conf.Options |= vxl.CANFD_CONFOPT_NO_ISO
	}
	return conf
}

func (b *Bus) activate() error {
	if err := b.drv.ActivateChannel(b.port, b.mask, vxl.XL_BUS_TYPE_CAN, vxl.XL_ACTIVATE_RESET_CLOCK); err != nil {
		return fmt.Errorf("activate channel: %w", err)
	}
	syncTime, err := b.drv.GetSyncTime(b.port)
	if err != nil {
		return fmt.Errorf("get sync time: %w", err)
	}
	b.mu.Lock()
	b.offset = MonotonicTime() - float64(syncTime)*1e-9
	b.mu.Unlock()
	return nil
}

// TimeOffset is added to driver timestamps to move them onto MonotonicTime.
func (b *Bus) TimeOffset() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

// FD reports whether the port was opened for CAN-FD.
func (b *Bus) FD() bool {
	return b.fd
}

// Mask is the access mask of all channels on the bus.
func (b *Bus) Mask() vxl.AccessMask {
	return b.mask
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Send transmits frames on every channel of the bus.
func (b *Bus) Send(frames ...*Frame) error {
	return b.send(b.mask, frames)
}

// SendOn transmits frames on one configured channel.
func (b *Bus) SendOn(channel int, frames ...*Frame) error {
	for idx, ch := range b.channels {
		if ch == channel {
			return b.send(vxl.AccessMask(1)<<idx, frames)
		}
	}
	return fmt.Errorf("channel %d is not part of this bus", channel)
}

// send queues all frames in as few transmit calls as the driver allows,
// retransmitting whatever tail a call did not accept.
func (b *Bus) send(mask vxl.AccessMask, frames []*Frame) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if len(frames) == 0 {
		return nil
	}
	norm := make([]*Frame, len(frames))
	for i, f := range frames {
		if f == nil {
			return frameErrorf("frame %d is nil", i)
		}
		if f.FD && !b.fd {
			return frameErrorf("CAN-FD frame 0x%X on a classical bus", f.Identifier)
		}
		n, err := f.Normalize()
		if err != nil {
			return err
		}
		norm[i] = n
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()
	if b.isClosed() {
		return ErrBusClosed
	}
	if b.fd {
		evs := make([]vxl.CanTxEvent, len(norm))
		for i, f := range norm {
			evs[i] = txEventFD(f)
		}
		return transmitAll(b, evs, func(evs []vxl.CanTxEvent) (uint32, error) {
			return b.drv.CanTransmitEx(b.port, mask, evs)
		})
	}
	evs := make([]vxl.Event, len(norm))
	for i, f := range norm {
		evs[i] = txEvent(f)
	}
	return transmitAll(b, evs, func(evs []vxl.Event) (uint32, error) {
		return b.drv.CanTransmit(b.port, mask, evs)
	})
}

func transmitAll[E any](b *Bus, evs []E, transmit func([]E) (uint32, error)) error {
	for len(evs) > 0 {
		n, err := transmit(evs)
		if err != nil {
			b.errs.Add(1)
			return fmt.Errorf("transmit %d frames: %w", len(evs), err)
		}
		if n == 0 {
			b.errs.Add(1)
			return ErrTransmit
		}
		if int(n) > len(evs) {
			n = uint32(len(evs))
		}
		b.sent.Add(uint64(n))
		evs = evs[n:]
		if len(evs) > 0 {
			b.retransmits.Add(1)
		}
	}
	return nil
}

func txEvent(f *Frame) vxl.Event {
	ev := vxl.Event{Tag: vxl.XL_TRANSMIT_MSG}
	msg := &ev.TagData
	msg.ID = f.Identifier
	if f.Extended {
		msg.ID |= vxl.XL_CAN_EXT_MSG_ID
	}
	msg.DLC = uint16(f.DLC)
	if f.RTR {
		msg.Flags |= vxl.XL_CAN_MSG_FLAG_REMOTE_FRAME
	}
	if f.Error {
		msg.Flags |= vxl.XL_CAN_MSG_FLAG_ERROR_FRAME
	}
	copy(msg.Data[:], f.Data)
	return ev
}

func txEventFD(f *Frame) vxl.CanTxEvent {
	ev := vxl.CanTxEvent{Tag: vxl.XL_CAN_EV_TAG_TX_MSG}
	msg := &ev.TagData
	msg.CanID = f.Identifier
	if f.Extended {
		msg.CanID |= vxl.XL_CAN_EXT_MSG_ID
	}
	msg.DLC = f.DLC
	if f.FD {
		msg.MsgFlags |= vxl.XL_CAN_TXMSG_FLAG_EDL
	}
	if f.BRS {
		msg.MsgFlags |= vxl.XL_CAN_TXMSG_FLAG_BRS
	}
	if f.RTR {
		msg.MsgFlags |= vxl.XL_CAN_TXMSG_FLAG_RTR
	}
	copy(msg.Data[:], f.Data)
	return ev
}

// Recv returns the next frame, waiting at most timeout for one to arrive.
// It returns (nil, nil) when the timeout expires, a timeout <= 0 polls once.
func (b *Bus) Recv(ctx context.Context, timeout time.Duration) (*Frame, error) {
	if b.isClosed() {
		return nil, ErrBusClosed
	}
	b.rxMu.Lock()
	defer b.rxMu.Unlock()
	if b.isClosed() {
		return nil, ErrBusClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		f, err := b.poll()
		if err != nil || f != nil {
			return f, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.wait(ctx, remaining)
		if b.isClosed() {
			return nil, ErrBusClosed
		}
	}
}

func (b *Bus) wait(ctx context.Context, remaining time.Duration) {
	if b.notifier != nil {
		b.notifier.Wait(min(remaining, maxWaitSlice))
		return
	}
	t := time.NewTimer(min(remaining, b.cfg.PollInterval))
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-b.closed:
	case <-t.C:
	}
}

// poll drains the driver queue until it finds a frame that passes the filters.
func (b *Bus) poll() (*Frame, error) {
	for {
		f, err := b.receive()
		if errors.Is(err, vxl.ErrQueueIsEmpty) {
			return nil, nil
		}
		if err != nil {
			b.errs.Add(1)
			return nil, fmt.Errorf("receive: %w", err)
		}
		if f == nil {
			continue
		}
		if !b.accept(f) {
			b.filtered.Add(1)
			continue
		}
		b.recv.Add(1)
		return f, nil
	}
}

// receive pops one driver event. Events that carry no frame decode to nil.
func (b *Bus) receive() (*Frame, error) {
	if b.fd {
		ev, err := b.drv.CanReceive(b.port)
		if err != nil {
			return nil, err
		}
		return b.decodeFD(ev), nil
	}
	ev, err := b.drv.Receive(b.port)
	if err != nil {
		return nil, err
	}
	return b.decode(ev), nil
}

func (b *Bus) decode(ev *vxl.Event) *Frame {
	if ev.Tag != vxl.XL_RECEIVE_MSG {
		return nil
	}
	msg := ev.TagData
	if msg.Flags&vxl.XL_CAN_MSG_FLAG_OVERRUN != 0 {
		b.emit(EventTypeWarning, "receive queue overrun on channel %d", b.channelOf(int(ev.ChanIndex)))
	}
	return DecodeFrame(InboundFrame{
		Identifier:  msg.ID &^ vxl.XL_CAN_EXT_MSG_ID,
		Extended:    msg.ID&vxl.XL_CAN_EXT_MSG_ID != 0,
		RTR:         msg.Flags&vxl.XL_CAN_MSG_FLAG_REMOTE_FRAME != 0,
		Error:       msg.Flags&vxl.XL_CAN_MSG_FLAG_ERROR_FRAME != 0,
		Rx:          msg.Flags&vxl.XL_CAN_MSG_FLAG_TX_COMPLETED == 0,
		DLC:         uint8(msg.DLC),
		Data:        msg.Data[:],
		TimestampNs: ev.TimeStamp,
		TimeOffset:  b.TimeOffset(),
		Channel:     b.channelOf(int(ev.ChanIndex)),
	})
}

func (b *Bus) decodeFD(ev *vxl.CanRxEvent) *Frame {
	switch ev.Tag {
	case vxl.XL_CAN_EV_TAG_RX_OK, vxl.XL_CAN_EV_TAG_TX_OK:
	case vxl.XL_CAN_EV_TAG_RX_ERROR, vxl.XL_CAN_EV_TAG_TX_ERROR:
		b.errs.Add(1)
		b.emit(EventTypeError, "bus error event 0x%04X on channel %d", ev.Tag, b.channelOf(int(ev.ChannelIndex)))
		return nil
	default:
		return nil
	}
	msg := ev.TagData
	flags := msg.MsgFlags
	return DecodeFrame(InboundFrame{
		Identifier:  msg.CanID &^ vxl.XL_CAN_EXT_MSG_ID,
		Extended:    msg.CanID&vxl.XL_CAN_EXT_MSG_ID != 0,
		FD:          flags&vxl.XL_CAN_RXMSG_FLAG_EDL != 0,
		RTR:         flags&vxl.XL_CAN_RXMSG_FLAG_RTR != 0,
		Error:       flags&vxl.XL_CAN_RXMSG_FLAG_EF != 0,
		Rx:          ev.Tag == vxl.XL_CAN_EV_TAG_RX_OK,
		BRS:         flags&vxl.XL_CAN_RXMSG_FLAG_BRS != 0,
		ESI:         flags&vxl.XL_CAN_RXMSG_FLAG_ESI != 0,
		DLC:         msg.DLC,
		Data:        msg.Data[:],
		TimestampNs: ev.TimeStampSync,
		TimeOffset:  b.TimeOffset(),
		Channel:     b.channelOf(int(ev.ChannelIndex)),
	})
}

func (b *Bus) channelOf(index int) int {
	if ch, ok := b.channels[index]; ok {
		return ch
	}
	return index
}

func (b *Bus) accept(f *Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.swFilter || len(b.filters) == 0 {
		return true
	}
	for _, fl := range b.filters {
		if fl.Match(f) {
			return true
		}
	}
	return false
}

// SetFilters replaces the receive filters. One standard and one extended
// filter fit the hardware acceptance registers; any other combination is
// applied in software by Recv. No filters accept everything.
func (b *Bus) SetFilters(filters ...Filter) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	if b.isClosed() {
		return ErrBusClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filters = append([]Filter(nil), filters...)
	b.swFilter = false
	if len(filters) == 0 {
		return b.openAcceptance()
	}

	var std, ext []Filter
	for _, fl := range filters {
		if fl.Extended {
			ext = append(ext, fl)
		} else {
			std = append(std, fl)
		}
	}
	if len(std) <= 1 && len(ext) <= 1 {
		err := b.hardwareFilter(vxl.XL_CAN_STD, std, 0xFFF)
		if err == nil {
			err = b.hardwareFilter(vxl.XL_CAN_EXT, ext, 0xFFFFFFFF)
		}
		if err == nil {
			b.debugf("hardware acceptance filters set: %v", filters)
			return nil
		}
		b.emit(EventTypeWarning, "hardware acceptance filter failed, filtering in software: %v", err)
	} else {
		b.emit(EventTypeInfo, "%d filters do not fit the acceptance registers, filtering in software", len(filters))
	}
	b.swFilter = true
	return b.openAcceptance()
}

// hardwareFilter programs one acceptance range; an empty range is closed
// with a code no identifier of that range can match.
func (b *Bus) hardwareFilter(idRange vxl.IDRange, fl []Filter, closed uint32) error {
	code, mask := closed, closed
	if len(fl) == 1 {
		code, mask = fl[0].ID, fl[0].Mask
	}
	return b.drv.CanSetChannelAcceptance(b.port, b.mask, code, mask, idRange)
}

func (b *Bus) openAcceptance() error {
	if err := b.drv.CanResetAcceptance(b.port, b.mask, vxl.XL_CAN_STD); err != nil {
		return fmt.Errorf("reset acceptance: %w", err)
	}
	if err := b.drv.CanResetAcceptance(b.port, b.mask, vxl.XL_CAN_EXT); err != nil {
		return fmt.Errorf("reset acceptance: %w", err)
	}
	return nil
}

// FlushTxQueue discards frames still waiting in the transmit queue.
func (b *Bus) FlushTxQueue() error {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	if b.isClosed() {
		return ErrBusClosed
	}
	if err := b.drv.CanFlushTransmitQueue(b.port, b.mask); err != nil {
		return fmt.Errorf("flush transmit queue: %w", err)
	}
	return nil
}

// Reset deactivates and reactivates the channels, which resets the driver
// clock, and recomputes the time offset. It waits for a pending Recv.
func (b *Bus) Reset() error {
	b.rxMu.Lock()
	b.txMu.Lock()
	defer b.rxMu.Unlock()
	defer b.txMu.Unlock()
	if b.isClosed() {
		return ErrBusClosed
	}
	if err := b.drv.DeactivateChannel(b.port, b.mask); err != nil {
		return fmt.Errorf("deactivate channel: %w", err)
	}
	return b.activate()
}

// Frames starts a receive pump delivering frames until ctx is done or the
// bus is closed. Receive errors are reported on Events.
func (b *Bus) Frames(ctx context.Context) <-chan *Frame {
	out := make(chan *Frame, 100)
	go func() {
		defer close(out)
		for {
			f, err := b.Recv(ctx, maxWaitSlice)
			if err != nil {
				if errors.Is(err, ErrBusClosed) || ctx.Err() != nil {
					return
				}
				b.emit(EventTypeError, "%v", err)
				continue
			}
			if f == nil {
				if ctx.Err() != nil || b.isClosed() {
					return
				}
				continue
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			}
		}
	}()
	return out
}

// Events carries non fatal conditions. Events are dropped when nobody reads them.
func (b *Bus) Events() <-chan Event {
	return b.events
}

func (b *Bus) emit(t EventType, format string, a ...interface{}) {
	ev := NewEvent("xl", t, format, a...)
	if b.cfg.Debug {
		log.Println(ev)
	}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) debugf(format string, a ...interface{}) {
	if b.cfg.Debug {
		log.Printf(format, a...)
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		SentFrames:    b.sent.Load(),
		RecvFrames:    b.recv.Load(),
		Retransmits:   b.retransmits.Load(),
		Filtered:      b.filtered.Load(),
		Errors:        b.errs.Load(),
		DroppedEvents: b.dropped.Load(),
	}
}

// Close deactivates the channels and releases the port and the driver.
// Calling Close more than once is safe.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.rxMu.Lock()
		b.txMu.Lock()
		defer b.rxMu.Unlock()
		defer b.txMu.Unlock()
		err = b.teardown()
	})
	return err
}

func (b *Bus) teardown() error {
	var errs []error
	if b.notifier != nil {
		if err := b.notifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.port != vxl.InvalidPortHandle {
		if err := b.drv.DeactivateChannel(b.port, b.mask); err != nil {
			errs = append(errs, fmt.Errorf("deactivate channel: %w", err))
		}
		if err := b.drv.ClosePort(b.port); err != nil {
			errs = append(errs, fmt.Errorf("close port: %w", err))
		}
		b.port = vxl.InvalidPortHandle
	}
	if err := b.drv.CloseDriver(); err != nil {
		errs = append(errs, fmt.Errorf("close driver: %w", err))
	}
	return errors.Join(errs...)
}
