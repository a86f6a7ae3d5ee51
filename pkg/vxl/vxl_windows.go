//go:build windows && amd64

package vxl

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	vxlapi  = windows.NewLazyDLL("vxlapi64.dll")
	dllFunc = map[string]**windows.LazyProc{
		"xlOpenDriver":              &procOpenDriver,
		"xlCloseDriver":             &procCloseDriver,
		"xlGetDriverConfig":         &procGetDriverConfig,
		"xlGetApplConfig":           &procGetApplConfig,
		"xlGetChannelMask":          &procGetChannelMask,
		"xlOpenPort":                &procOpenPort,
		"xlClosePort":               &procClosePort,
		"xlCanSetChannelBitrate":    &procCanSetChannelBitrate,
		"xlCanSetChannelParams":     &procCanSetChannelParams,
		"xlCanFdSetConfiguration":   &procCanFdSetConfiguration,
		"xlActivateChannel":         &procActivateChannel,
		"xlDeactivateChannel":       &procDeactivateChannel,
		"xlCanSetChannelAcceptance": &procCanSetChannelAcceptance,
		"xlCanResetAcceptance":      &procCanResetAcceptance,
		"xlGetSyncTime":             &procGetSyncTime,
		"xlSetNotification":         &procSetNotification,
		"xlCanFlushTransmitQueue":   &procCanFlushTransmitQueue,
		"xlCanTransmit":             &procCanTransmit,
		"xlCanTransmitEx":           &procCanTransmitEx,
		"xlReceive":                 &procReceive,
		"xlCanReceive":              &procCanReceive,
		"xlGetErrorString":          &procGetErrorString,
	}
	loadErr  error
	loadOnce sync.Once
)

var (
	procOpenDriver              *windows.LazyProc
	procCloseDriver             *windows.LazyProc
	procGetDriverConfig         *windows.LazyProc
	procGetApplConfig           *windows.LazyProc
	procGetChannelMask          *windows.LazyProc
	procOpenPort                *windows.LazyProc
	procClosePort               *windows.LazyProc
	procCanSetChannelBitrate    *windows.LazyProc
	procCanSetChannelParams     *windows.LazyProc
	procCanFdSetConfiguration   *windows.LazyProc
	procActivateChannel         *windows.LazyProc
	procDeactivateChannel       *windows.LazyProc
	procCanSetChannelAcceptance *windows.LazyProc
	procCanResetAcceptance      *windows.LazyProc
	procGetSyncTime             *windows.LazyProc
	procSetNotification         *windows.LazyProc
	procCanFlushTransmitQueue   *windows.LazyProc
	procCanTransmit             *windows.LazyProc
	procCanTransmitEx           *windows.LazyProc
	procReceive                 *windows.LazyProc
	procCanReceive              *windows.LazyProc
	procGetErrorString          *windows.LazyProc
)

// DLL is the Driver backed by vxlapi64.dll.
type DLL struct{}

// Load resolves vxlapi64.dll and all procedures the Driver needs.
func Load() (Driver, error) {
	loadOnce.Do(func() {
		if err := vxlapi.Load(); err != nil {
			loadErr = fmt.Errorf("%w: %v", ErrDLLNotFound, err)
			return
		}
		for name, procPtr := range dllFunc {
			proc := vxlapi.NewProc(name)
			if err := proc.Find(); err != nil {
				loadErr = fmt.Errorf("failed to find procedure %s: %w", name, err)
				return
			}
			*procPtr = proc
		}
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &DLL{}, nil
}

func checkErr(r1, _ uintptr, _ error) error {
	status := Status(int16(r1))
	err := NewError(status)
	if e, ok := err.(*Error); ok {
		e.Description = errorString(status)
	}
	return err
}

func errorString(status Status) string {
	r1, _, _ := procGetErrorString.Call(uintptr(status))
	if r1 == 0 {
		return "unknown XL status"
	}
	return windows.BytePtrToString((*byte)(unsafe.Pointer(r1)))
}

func (d *DLL) OpenDriver() error {
	return checkErr(procOpenDriver.Call())
}

func (d *DLL) CloseDriver() error {
	return checkErr(procCloseDriver.Call())
}

func (d *DLL) GetDriverConfig() (*DriverConfig, error) {
	buf := make([]byte, DriverConfigSize)
	if err := checkErr(procGetDriverConfig.Call(uintptr(unsafe.Pointer(&buf[0])))); err != nil {
		return nil, err
	}
	return ParseDriverConfig(buf)
}

func (d *DLL) GetApplConfig(appName string, appChannel uint32, busType BusType) (HWType, uint32, uint32, error) {
	name, err := windows.BytePtrFromString(appName)
	if err != nil {
		return 0, 0, 0, err
	}
	var hwType, hwIndex, hwChannel uint32
	err = checkErr(procGetApplConfig.Call(
		uintptr(unsafe.Pointer(name)),
		uintptr(appChannel),
		uintptr(unsafe.Pointer(&hwType)),
		uintptr(unsafe.Pointer(&hwIndex)),
		uintptr(unsafe.Pointer(&hwChannel)),
		uintptr(busType),
	))
	return HWType(hwType), hwIndex, hwChannel, err
}

func (d *DLL) GetChannelMask(hwType HWType, hwIndex, hwChannel uint32) (AccessMask, error) {
	r1, _, _ := procGetChannelMask.Call(uintptr(hwType), uintptr(hwIndex), uintptr(hwChannel))
	return AccessMask(r1), nil
}

func (d *DLL) OpenPort(userName string, accessMask, permissionMask AccessMask, rxQueueSize uint32, version InterfaceVersion, busType BusType) (PortHandle, AccessMask, error) {
	name, err := windows.BytePtrFromString(userName)
	if err != nil {
		return InvalidPortHandle, 0, err
	}
	port := InvalidPortHandle
	perm := permissionMask
	err = checkErr(procOpenPort.Call(
		uintptr(unsafe.Pointer(&port)),
		uintptr(unsafe.Pointer(name)),
		uintptr(accessMask),
		uintptr(unsafe.Pointer(&perm)),
		uintptr(rxQueueSize),
		uintptr(version),
		uintptr(busType),
	))
	return port, perm, err
}

func (d *DLL) ClosePort(port PortHandle) error {
	return checkErr(procClosePort.Call(uintptr(port)))
}

func (d *DLL) CanSetChannelBitrate(port PortHandle, mask AccessMask, bitrate uint32) error {
	return checkErr(procCanSetChannelBitrate.Call(uintptr(port), uintptr(mask), uintptr(bitrate)))
}

func (d *DLL) CanSetChannelParams(port PortHandle, mask AccessMask, params ChipParams) error {
	return checkErr(procCanSetChannelParams.Call(uintptr(port), uintptr(mask), uintptr(unsafe.Pointer(&params))))
}

func (d *DLL) CanFdSetConfiguration(port PortHandle, mask AccessMask, conf CanFdConf) error {
	return checkErr(procCanFdSetConfiguration.Call(uintptr(port), uintptr(mask), uintptr(unsafe.Pointer(&conf))))
}

func (d *DLL) ActivateChannel(port PortHandle, mask AccessMask, busType BusType, flags uint32) error {
	return checkErr(procActivateChannel.Call(uintptr(port), uintptr(mask), uintptr(busType), uintptr(flags)))
}

func (d *DLL) DeactivateChannel(port PortHandle, mask AccessMask) error {
	return checkErr(procDeactivateChannel.Call(uintptr(port), uintptr(mask)))
}

func (d *DLL) CanSetChannelAcceptance(port PortHandle, mask AccessMask, code, idMask uint32, idRange IDRange) error {
	return checkErr(procCanSetChannelAcceptance.Call(uintptr(port), uintptr(mask), uintptr(code), uintptr(idMask), uintptr(idRange)))
}

func (d *DLL) CanResetAcceptance(port PortHandle, mask AccessMask, idRange IDRange) error {
	return checkErr(procCanResetAcceptance.Call(uintptr(port), uintptr(mask), uintptr(idRange)))
}

func (d *DLL) GetSyncTime(port PortHandle) (uint64, error) {
	var t uint64
	err := checkErr(procGetSyncTime.Call(uintptr(port), uintptr(unsafe.Pointer(&t))))
	return t, err
}

func (d *DLL) SetNotification(port PortHandle, queueLevel int) (Notifier, error) {
	var h windows.Handle
	if err := checkErr(procSetNotification.Call(uintptr(port), uintptr(unsafe.Pointer(&h)), uintptr(queueLevel))); err != nil {
		return nil, err
	}
	return &eventNotifier{handle: h}, nil
}

func (d *DLL) CanFlushTransmitQueue(port PortHandle, mask AccessMask) error {
	return checkErr(procCanFlushTransmitQueue.Call(uintptr(port), uintptr(mask)))
}

func (d *DLL) CanTransmit(port PortHandle, mask AccessMask, events []Event) (uint32, error) {
	if len(events) == 0 {
		return 0, nil
	}
	count := uint32(len(events))
	err := checkErr(procCanTransmit.Call(
		uintptr(port),
		uintptr(mask),
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Pointer(&events[0])),
	))
	return count, err
}

func (d *DLL) CanTransmitEx(port PortHandle, mask AccessMask, events []CanTxEvent) (uint32, error) {
	if len(events) == 0 {
		return 0, nil
	}
	var sent uint32
	err := checkErr(procCanTransmitEx.Call(
		uintptr(port),
		uintptr(mask),
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&sent)),
		uintptr(unsafe.Pointer(&events[0])),
	))
	return sent, err
}

func (d *DLL) Receive(port PortHandle) (*Event, error) {
	var ev Event
	count := uint32(1)
	if err := checkErr(procReceive.Call(uintptr(port), uintptr(unsafe.Pointer(&count)), uintptr(unsafe.Pointer(&ev)))); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (d *DLL) CanReceive(port PortHandle) (*CanRxEvent, error) {
	var ev CanRxEvent
	if err := checkErr(procCanReceive.Call(uintptr(port), uintptr(unsafe.Pointer(&ev)))); err != nil {
		return nil, err
	}
	return &ev, nil
}

// eventNotifier waits on the event handle handed out by xlSetNotification.
// The handle belongs to the driver and is released by xlClosePort.
type eventNotifier struct {
	handle windows.Handle
}

func (n *eventNotifier) Wait(timeout time.Duration) bool {
	ms := uint32(timeout.Milliseconds())
	ev, err := windows.WaitForSingleObject(n.handle, ms)
	if err != nil {
		return false
	}
	return ev == windows.WAIT_OBJECT_0
}

func (n *eventNotifier) Close() error {
	return nil
}
