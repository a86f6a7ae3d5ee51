package vxl

import "time"

// Driver is the part of the XL Driver Library a CAN application needs.
// Every method maps onto one vxlapi call; statuses come back as errors from
// NewError so callers can match them with errors.Is.
type Driver interface {
	OpenDriver() error
	CloseDriver() error

	GetDriverConfig() (*DriverConfig, error)
	// GetApplConfig resolves an application channel assigned in Vector Hardware Config.
	GetApplConfig(appName string, appChannel uint32, busType BusType) (hwType HWType, hwIndex, hwChannel uint32, err error)
	// GetChannelMask returns 0 when no such channel exists.
	GetChannelMask(hwType HWType, hwIndex, hwChannel uint32) (AccessMask, error)

	// OpenPort returns the port handle and the subset of permissionMask the
	// port was granted init access for.
	OpenPort(userName string, accessMask, permissionMask AccessMask, rxQueueSize uint32, version InterfaceVersion, busType BusType) (PortHandle, AccessMask, error)
	ClosePort(port PortHandle) error

	CanSetChannelBitrate(port PortHandle, mask AccessMask, bitrate uint32) error
	CanSetChannelParams(port PortHandle, mask AccessMask, params ChipParams) error
	CanFdSetConfiguration(port PortHandle, mask AccessMask, conf CanFdConf) error

	ActivateChannel(port PortHandle, mask AccessMask, busType BusType, flags uint32) error
	DeactivateChannel(port PortHandle, mask AccessMask) error

	CanSetChannelAcceptance(port PortHandle, mask AccessMask, code, idMask uint32, idRange IDRange) error
	CanResetAcceptance(port PortHandle, mask AccessMask, idRange IDRange) error

	// GetSyncTime returns the driver clock in nanoseconds.
	GetSyncTime(port PortHandle) (uint64, error)
	// SetNotification returns a Notifier that is signalled when at least
	// queueLevel events wait in the receive queue.
	SetNotification(port PortHandle, queueLevel int) (Notifier, error)

	CanFlushTransmitQueue(port PortHandle, mask AccessMask) error
	// CanTransmit queues classical events and returns how many were accepted.
	CanTransmit(port PortHandle, mask AccessMask, events []Event) (uint32, error)
	// CanTransmitEx queues CAN-FD events and returns how many were accepted.
	CanTransmitEx(port PortHandle, mask AccessMask, events []CanTxEvent) (uint32, error)

	// Receive pops one event from a classical port, ErrQueueIsEmpty when there is none.
	Receive(port PortHandle) (*Event, error)
	// CanReceive pops one event from a CAN-FD port, ErrQueueIsEmpty when there is none.
	CanReceive(port PortHandle) (*CanRxEvent, error)
}

// Notifier is a receive notification handle.
type Notifier interface {
	// Wait blocks until the driver signals pending events or the timeout
	// elapses. It reports whether it was signalled.
	Wait(timeout time.Duration) bool
	Close() error
}
