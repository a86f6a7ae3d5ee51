package vxl

import (
	"fmt"
	"math/bits"
	"sync"
	"time"
)

// Virtual is an in-memory Driver. All of its virtual channels sit on one
// shared bus, like the two "Virtual Channel" entries the XL driver installs:
// a frame sent on one channel is received on every other active channel.
type Virtual struct {
	mu sync.Mutex

	channels []ChannelConfig
	appl     map[applKey]applTarget
	ports    map[PortHandle]*vport
	nextPort PortHandle
	opened   int
	loopback bool
	txLimit  int
	openErrs []error

	chip map[int]ChipParams
	fd   map[int]CanFdConf
	init map[int]PortHandle // channel index -> port holding init access
}

type applKey struct {
	name    string
	channel uint32
}

type applTarget struct {
	hwType             HWType
	hwIndex, hwChannel uint32
}

type vport struct {
	name     string
	access   AccessMask
	active   AccessMask
	version  InterfaceVersion
	capacity int
	queue    []vframe
	accept   map[acceptKey]acceptance
	notify   *virtualNotifier
	epoch    time.Time // driver clock origin, reset on activation
}

type acceptKey struct {
	channel int
	idRange IDRange
}

type acceptance struct {
	code, mask uint32
}

type vframe struct {
	id       uint32 // without XL_CAN_EXT_MSG_ID
	extended bool
	fd       bool
	brs      bool
	rtr      bool
	errFrame bool
	echo     bool
	dlc      uint8
	data     [64]byte
	channel  int
	ts       uint64
}

// NewVirtual returns a virtual driver with n CAN-FD capable channels.
func NewVirtual(n int) *Virtual {
	v := &Virtual{
		appl:  make(map[applKey]applTarget),
		ports: make(map[PortHandle]*vport),
		chip:  make(map[int]ChipParams),
		fd:    make(map[int]CanFdConf),
		init:  make(map[int]PortHandle),
	}
	for i := 0; i < n; i++ {
		v.AddChannel(ChannelConfig{
			Name:                   fmt.Sprintf("Virtual Channel %d", i+1),
			HWType:                 XL_HWTYPE_VIRTUAL,
			HWChannel:              uint8(i),
			ChannelCapabilities:    XL_CHANNEL_FLAG_CANFD_ISO_SUPPORT,
			ChannelBusCapabilities: XL_BUS_COMPATIBLE_CAN | XL_BUS_ACTIVE_CAP_CAN,
			ConnectedBusType:       XL_BUS_TYPE_CAN,
			BusParamsType:          XL_BUS_TYPE_CAN,
			TransceiverName:        "Virtual CAN",
		})
	}
	return v
}

// AddChannel appends a channel to the driver configuration. ChannelIndex and
// ChannelMask are assigned from its position. Only channels with CAN bus
// capabilities join the virtual bus.
func (v *Virtual) AddChannel(cfg ChannelConfig) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := len(v.channels)
	cfg.ChannelIndex = uint8(idx)
	cfg.ChannelMask = AccessMask(1) << idx
	v.channels = append(v.channels, cfg)
	return idx
}

// SetApplConfig assigns application channel appChannel of appName to a hardware channel.
func (v *Virtual) SetApplConfig(appName string, appChannel uint32, hwType HWType, hwIndex, hwChannel uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appl[applKey{appName, appChannel}] = applTarget{hwType, hwIndex, hwChannel}
}

// SetLoopback makes transmitting ports receive their own frames as TX confirmations.
func (v *Virtual) SetLoopback(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loopback = enabled
}

// SetTxLimit caps how many events a single transmit call accepts, 0 means no limit.
func (v *Virtual) SetTxLimit(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txLimit = n
}

// FailOpen makes the next OpenDriver calls return errs in order.
func (v *Virtual) FailOpen(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openErrs = append(v.openErrs, errs...)
}

// ChipParams returns the classical timing last applied to a channel.
func (v *Virtual) ChipParams(channel int) (ChipParams, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.chip[channel]
	return p, ok
}

// FdConf returns the CAN-FD timing last applied to a channel.
func (v *Virtual) FdConf(channel int) (CanFdConf, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.fd[channel]
	return c, ok
}

// OpenCount is the number of OpenDriver calls not yet matched by CloseDriver.
func (v *Virtual) OpenCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opened
}

// PortCount is the number of open ports.
func (v *Virtual) PortCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ports)
}

func (v *Virtual) OpenDriver() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.openErrs) > 0 {
		err := v.openErrs[0]
		v.openErrs = v.openErrs[1:]
		if err != nil {
			return err
		}
	}
	v.opened++
	return nil
}

func (v *Virtual) CloseDriver() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.opened == 0 {
		return ErrCannotOpenDriver
	}
	v.opened--
	return nil
}

func (v *Virtual) GetDriverConfig() (*DriverConfig, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.opened == 0 {
		return nil, ErrCannotOpenDriver
	}
	cfg := &DriverConfig{
		DLLVersion: 0x14_00_0000,
		Channels:   make([]ChannelConfig, len(v.channels)),
	}
	copy(cfg.Channels, v.channels)
	for i := range cfg.Channels {
		cfg.Channels[i].IsOnBus = v.isOnBus(i)
	}
	return cfg, nil
}

func (v *Virtual) isOnBus(channel int) bool {
	for _, p := range v.ports {
		if p.active&(AccessMask(1)<<channel) != 0 {
			return true
		}
	}
	return false
}

func (v *Virtual) GetApplConfig(appName string, appChannel uint32, busType BusType) (HWType, uint32, uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if busType != XL_BUS_TYPE_CAN {
		return 0, 0, 0, ErrWrongBusType
	}
	t, ok := v.appl[applKey{appName, appChannel}]
	if !ok {
		return 0, 0, 0, ErrXL
	}
	return t.hwType, t.hwIndex, t.hwChannel, nil
}

func (v *Virtual) GetChannelMask(hwType HWType, hwIndex, hwChannel uint32) (AccessMask, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.channels {
		if ch.HWType == hwType && uint32(ch.HWIndex) == hwIndex && uint32(ch.HWChannel) == hwChannel {
			return ch.ChannelMask, nil
		}
	}
	return 0, nil
}

func (v *Virtual) validMask(mask AccessMask) bool {
	if mask == 0 {
		return false
	}
	return bits.Len64(uint64(mask)) <= len(v.channels)
}

func (v *Virtual) OpenPort(userName string, accessMask, permissionMask AccessMask, rxQueueSize uint32, version InterfaceVersion, busType BusType) (PortHandle, AccessMask, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.opened == 0 {
		return InvalidPortHandle, 0, ErrCannotOpenDriver
	}
	if busType != XL_BUS_TYPE_CAN {
		return InvalidPortHandle, 0, ErrWrongBusType
	}
	if !v.validMask(accessMask) {
		return InvalidPortHandle, 0, ErrInvalidChannelMask
	}
	if rxQueueSize == 0 {
		return InvalidPortHandle, 0, ErrWrongParameter
	}
	handle := v.nextPort
	v.nextPort++
	var granted AccessMask
	for _, ch := range setBits(permissionMask & accessMask) {
		if _, taken := v.init[ch]; !taken {
			v.init[ch] = handle
			granted |= AccessMask(1) << ch
		}
	}
	v.ports[handle] = &vport{
		name:     userName,
		access:   accessMask,
		version:  version,
		capacity: int(rxQueueSize),
		accept:   make(map[acceptKey]acceptance),
		epoch:    time.Now(),
	}
	return handle, granted, nil
}

func (v *Virtual) ClosePort(port PortHandle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.ports[port]
	if !ok {
		return ErrInvalidPort
	}
	for ch, holder := range v.init {
		if holder == port {
			delete(v.init, ch)
		}
	}
	if p.notify != nil {
		p.notify.Close()
	}
	delete(v.ports, port)
	return nil
}

// port returns the port and checks that mask is within its access mask.
func (v *Virtual) port(port PortHandle, mask AccessMask) (*vport, error) {
	p, ok := v.ports[port]
	if !ok {
		return nil, ErrInvalidPort
	}
	if mask&^p.access != 0 {
		return nil, ErrInvalidAccess
	}
	return p, nil
}

func (v *Virtual) requireInit(port PortHandle, mask AccessMask) error {
	for _, ch := range setBits(mask) {
		if holder, ok := v.init[ch]; !ok || holder != port {
			return ErrInitAccessMissing
		}
	}
	return nil
}

func (v *Virtual) CanSetChannelBitrate(port PortHandle, mask AccessMask, bitrate uint32) error {
	return v.CanSetChannelParams(port, mask, ChipParams{BitRate: bitrate, SJW: 1, TSeg1: 4, TSeg2: 3, Sam: 1})
}

func (v *Virtual) CanSetChannelParams(port PortHandle, mask AccessMask, params ChipParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.port(port, mask); err != nil {
		return err
	}
	if err := v.requireInit(port, mask); err != nil {
		return err
	}
	if params.BitRate == 0 || params.TSeg1 == 0 || params.TSeg2 == 0 {
		return ErrWrongParameter
	}
	for _, ch := range setBits(mask) {
		v.chip[ch] = params
		v.channels[ch].CanParams = CanBusParams{BitRate: params.BitRate, SJW: params.SJW, TSeg1: params.TSeg1, TSeg2: params.TSeg2, Sam: params.Sam}
	}
	return nil
}

func (v *Virtual) CanFdSetConfiguration(port PortHandle, mask AccessMask, conf CanFdConf) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return err
	}
	if p.version < XL_INTERFACE_VERSION_V4 {
		return ErrWrongParameter
	}
	if err := v.requireInit(port, mask); err != nil {
		return err
	}
	if conf.ArbitrationBitRate == 0 || conf.DataBitRate == 0 {
		return ErrWrongParameter
	}
	for _, ch := range setBits(mask) {
		v.fd[ch] = conf
		v.channels[ch].CanParams = CanBusParams{
			BitRate: conf.ArbitrationBitRate,
			SJW:     uint8(conf.SJWAbr),
			TSeg1:   uint8(conf.TSeg1Abr),
			TSeg2:   uint8(conf.TSeg2Abr),
			Sam:     1,
		}
	}
	return nil
}

func (v *Virtual) ActivateChannel(port PortHandle, mask AccessMask, busType BusType, flags uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return err
	}
	if busType != XL_BUS_TYPE_CAN {
		return ErrWrongBusType
	}
	p.active |= mask
	if flags&XL_ACTIVATE_RESET_CLOCK != 0 {
		p.epoch = time.Now()
	}
	return nil
}

func (v *Virtual) DeactivateChannel(port PortHandle, mask AccessMask) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return err
	}
	p.active &^= mask
	return nil
}

func (v *Virtual) CanSetChannelAcceptance(port PortHandle, mask AccessMask, code, idMask uint32, idRange IDRange) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return err
	}
	if idRange != XL_CAN_STD && idRange != XL_CAN_EXT {
		return ErrWrongParameter
	}
	for _, ch := range setBits(mask) {
		p.accept[acceptKey{ch, idRange}] = acceptance{code, idMask}
	}
	return nil
}

func (v *Virtual) CanResetAcceptance(port PortHandle, mask AccessMask, idRange IDRange) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return err
	}
	for _, ch := range setBits(mask) {
		delete(p.accept, acceptKey{ch, idRange})
	}
	return nil
}

func (v *Virtual) GetSyncTime(port PortHandle) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.ports[port]
	if !ok {
		return 0, ErrInvalidPort
	}
	return p.now(), nil
}

func (p *vport) now() uint64 {
	return uint64(time.Since(p.epoch).Nanoseconds())
}

func (v *Virtual) SetNotification(port PortHandle, queueLevel int) (Notifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.ports[port]
	if !ok {
		return nil, ErrInvalidPort
	}
	if queueLevel < 1 {
		return nil, ErrWrongParameter
	}
	if p.notify != nil {
		return nil, ErrNotifyAlreadyActive
	}
	p.notify = newVirtualNotifier()
	if len(p.queue) > 0 {
		p.notify.signal()
	}
	return p.notify, nil
}

func (v *Virtual) CanFlushTransmitQueue(port PortHandle, mask AccessMask) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := v.port(port, mask)
	return err
}

func (v *Virtual) txCount(n int) int {
	if v.txLimit > 0 && n > v.txLimit {
		return v.txLimit
	}
	return n
}

func (v *Virtual) CanTransmit(port PortHandle, mask AccessMask, events []Event) (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return 0, err
	}
	if p.active&mask != mask {
		return 0, ErrPortIsOffline
	}
	n := v.txCount(len(events))
	if n == 0 && len(events) > 0 {
		return 0, ErrQueueIsFull
	}
	for _, ev := range events[:n] {
		if ev.Tag != XL_TRANSMIT_MSG {
			return 0, ErrWrongParameter
		}
		msg := ev.TagData
		f := vframe{
			id:       msg.ID &^ XL_CAN_EXT_MSG_ID,
			extended: msg.ID&XL_CAN_EXT_MSG_ID != 0,
			rtr:      msg.Flags&XL_CAN_MSG_FLAG_REMOTE_FRAME != 0,
			errFrame: msg.Flags&XL_CAN_MSG_FLAG_ERROR_FRAME != 0,
			dlc:      uint8(msg.DLC),
		}
		copy(f.data[:], msg.Data[:])
		v.broadcast(port, mask, f)
	}
	return uint32(n), nil
}

func (v *Virtual) CanTransmitEx(port PortHandle, mask AccessMask, events []CanTxEvent) (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, err := v.port(port, mask)
	if err != nil {
		return 0, err
	}
	if p.version < XL_INTERFACE_VERSION_V4 {
		return 0, ErrWrongParameter
	}
	if p.active&mask != mask {
		return 0, ErrPortIsOffline
	}
	n := v.txCount(len(events))
	if n == 0 && len(events) > 0 {
		return 0, ErrQueueIsFull
	}
	for _, ev := range events[:n] {
		if ev.Tag != XL_CAN_EV_TAG_TX_MSG {
			return 0, ErrWrongParameter
		}
		msg := ev.TagData
		f := vframe{
			id:       msg.CanID &^ XL_CAN_EXT_MSG_ID,
			extended: msg.CanID&XL_CAN_EXT_MSG_ID != 0,
			fd:       msg.MsgFlags&XL_CAN_TXMSG_FLAG_EDL != 0,
			brs:      msg.MsgFlags&XL_CAN_TXMSG_FLAG_BRS != 0,
			rtr:      msg.MsgFlags&XL_CAN_TXMSG_FLAG_RTR != 0,
			dlc:      msg.DLC & 0x0F,
		}
		copy(f.data[:], msg.Data[:])
		v.broadcast(port, mask, f)
	}
	return uint32(n), nil
}

// broadcast delivers f, sent by port on the channels in mask, to every port
// with an active channel on the bus.
func (v *Virtual) broadcast(sender PortHandle, mask AccessMask, f vframe) {
	for _, src := range setBits(mask) {
		for handle, p := range v.ports {
			for _, ch := range setBits(p.active) {
				if !v.onBus(ch) {
					continue
				}
				g := f
				g.channel = ch
				if ch == src {
					if handle != sender || !v.loopback {
						continue
					}
					g.echo = true
				}
				v.deliver(p, g)
			}
		}
	}
}

func (v *Virtual) onBus(channel int) bool {
	return v.channels[channel].SupportsCAN()
}

func (v *Virtual) deliver(p *vport, f vframe) {
	if f.fd && p.version < XL_INTERFACE_VERSION_V4 {
		return
	}
	if !f.echo && !p.accepts(f) {
		return
	}
	if len(p.queue) >= p.capacity {
		return
	}
	f.ts = p.now()
	p.queue = append(p.queue, f)
	if p.notify != nil {
		p.notify.signal()
	}
}

func (p *vport) accepts(f vframe) bool {
	idRange := XL_CAN_STD
	if f.extended {
		idRange = XL_CAN_EXT
	}
	a, ok := p.accept[acceptKey{f.channel, idRange}]
	if !ok {
		return true
	}
	return f.id&a.mask == a.code&a.mask
}

func (p *vport) pop() (vframe, bool) {
	if len(p.queue) == 0 {
		return vframe{}, false
	}
	f := p.queue[0]
	p.queue = p.queue[1:]
	return f, true
}

func (v *Virtual) Receive(port PortHandle) (*Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.ports[port]
	if !ok {
		return nil, ErrInvalidPort
	}
	if p.version >= XL_INTERFACE_VERSION_V4 {
		return nil, ErrWrongParameter
	}
	f, ok := p.pop()
	if !ok {
		return nil, ErrQueueIsEmpty
	}
	ev := &Event{
		Tag:       XL_RECEIVE_MSG,
		ChanIndex: uint8(f.channel),
		TimeStamp: f.ts,
	}
	ev.TagData.ID = f.id
	if f.extended {
		ev.TagData.ID |= XL_CAN_EXT_MSG_ID
	}
	ev.TagData.DLC = uint16(f.dlc)
	if f.rtr {
		ev.TagData.Flags |= XL_CAN_MSG_FLAG_REMOTE_FRAME
	}
	if f.errFrame {
		ev.TagData.Flags |= XL_CAN_MSG_FLAG_ERROR_FRAME
	}
	if f.echo {
		ev.TagData.Flags |= XL_CAN_MSG_FLAG_TX_COMPLETED
	}
	copy(ev.TagData.Data[:], f.data[:8])
	return ev, nil
}

func (v *Virtual) CanReceive(port PortHandle) (*CanRxEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.ports[port]
	if !ok {
		return nil, ErrInvalidPort
	}
	if p.version < XL_INTERFACE_VERSION_V4 {
		return nil, ErrWrongParameter
	}
	f, ok := p.pop()
	if !ok {
		return nil, ErrQueueIsEmpty
	}
	ev := &CanRxEvent{
		Size:          128,
		Tag:           XL_CAN_EV_TAG_RX_OK,
		ChannelIndex:  uint16(f.channel),
		TimeStampSync: f.ts,
	}
	if f.echo {
		ev.Tag = XL_CAN_EV_TAG_TX_OK
	}
	msg := &ev.TagData
	msg.CanID = f.id
	if f.extended {
		msg.CanID |= XL_CAN_EXT_MSG_ID
	}
	msg.DLC = f.dlc
	if f.fd {
		msg.MsgFlags |= XL_CAN_RXMSG_FLAG_EDL
	}
	if f.brs {
		msg.MsgFlags |= XL_CAN_RXMSG_FLAG_BRS
	}
	if f.rtr {
		msg.MsgFlags |= XL_CAN_RXMSG_FLAG_RTR
	}
	if f.errFrame {
		msg.MsgFlags |= XL_CAN_RXMSG_FLAG_EF
	}
	msg.Data = f.data
	return ev, nil
}

func setBits(mask AccessMask) []int {
	var out []int
	for m := uint64(mask); m != 0; m &= m - 1 {
		out = append(out, bits.TrailingZeros64(m))
	}
	return out
}

type virtualNotifier struct {
	ch        chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newVirtualNotifier() *virtualNotifier {
	return &virtualNotifier{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (n *virtualNotifier) signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *virtualNotifier) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-n.ch:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-n.ch:
		return true
	case <-n.done:
		return false
	case <-t.C:
		return false
	}
}

func (n *virtualNotifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
	})
	return nil
}
