package vxl

import (
	"errors"
	"fmt"
)

type Error struct {
	Code        Status
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (%v)", e.Description, int(e.Code))
}

var (
	ErrPending              = errors.New("XL_PENDING")
	ErrQueueIsEmpty         = errors.New("XL_ERR_QUEUE_IS_EMPTY")
	ErrQueueIsFull          = errors.New("XL_ERR_QUEUE_IS_FULL")
	ErrTxNotPossible        = errors.New("XL_ERR_TX_NOT_POSSIBLE")
	ErrNoLicense            = errors.New("XL_ERR_NO_LICENSE")
	ErrWrongParameter       = errors.New("XL_ERR_WRONG_PARAMETER")
	ErrTwiceRegister        = errors.New("XL_ERR_TWICE_REGISTER")
	ErrInvalidChanIndex     = errors.New("XL_ERR_INVALID_CHAN_INDEX")
	ErrInvalidAccess        = errors.New("XL_ERR_INVALID_ACCESS")
	ErrPortIsOffline        = errors.New("XL_ERR_PORT_IS_OFFLINE")
	ErrChanIsOnline         = errors.New("XL_ERR_CHAN_IS_ONLINE")
	ErrNotImplemented       = errors.New("XL_ERR_NOT_IMPLEMENTED")
	ErrInvalidPort          = errors.New("XL_ERR_INVALID_PORT")
	ErrHWNotReady           = errors.New("XL_ERR_HW_NOT_READY")
	ErrCmdTimeout           = errors.New("XL_ERR_CMD_TIMEOUT")
	ErrHWNotPresent         = errors.New("XL_ERR_HW_NOT_PRESENT")
	ErrNotifyAlreadyActive  = errors.New("XL_ERR_NOTIFY_ALREADY_ACTIVE")
	ErrNoResources          = errors.New("XL_ERR_NO_RESOURCES")
	ErrWrongChipType        = errors.New("XL_ERR_WRONG_CHIP_TYPE")
	ErrWrongCommand         = errors.New("XL_ERR_WRONG_COMMAND")
	ErrInvalidHandle        = errors.New("XL_ERR_INVALID_HANDLE")
	ErrReservedNotZero      = errors.New("XL_ERR_RESERVED_NOT_ZERO")
	ErrInitAccessMissing    = errors.New("XL_ERR_INIT_ACCESS_MISSING")
	ErrCannotOpenDriver     = errors.New("XL_ERR_CANNOT_OPEN_DRIVER")
	ErrWrongBusType         = errors.New("XL_ERR_WRONG_BUS_TYPE")
	ErrDLLNotFound          = errors.New("XL_ERR_DLL_NOT_FOUND")
	ErrInvalidChannelMask   = errors.New("XL_ERR_INVALID_CHANNEL_MASK")
	ErrNotSupported         = errors.New("XL_ERR_NOT_SUPPORTED")
	ErrConnectionBroken     = errors.New("XL_ERR_CONNECTION_BROKEN")
	ErrConnectionClosed     = errors.New("XL_ERR_CONNECTION_CLOSED")
	ErrQueueOverrun         = errors.New("XL_ERR_QUEUE_OVERRUN")
	ErrXL                   = errors.New("XL_ERROR")
)

var statusErrors = map[Status]error{
	XL_PENDING:                   ErrPending,
	XL_ERR_QUEUE_IS_EMPTY:        ErrQueueIsEmpty,
	XL_ERR_QUEUE_IS_FULL:         ErrQueueIsFull,
	XL_ERR_TX_NOT_POSSIBLE:       ErrTxNotPossible,
	XL_ERR_NO_LICENSE:            ErrNoLicense,
	XL_ERR_WRONG_PARAMETER:       ErrWrongParameter,
	XL_ERR_TWICE_REGISTER:        ErrTwiceRegister,
	XL_ERR_INVALID_CHAN_INDEX:    ErrInvalidChanIndex,
	XL_ERR_INVALID_ACCESS:        ErrInvalidAccess,
	XL_ERR_PORT_IS_OFFLINE:       ErrPortIsOffline,
	XL_ERR_CHAN_IS_ONLINE:        ErrChanIsOnline,
	XL_ERR_NOT_IMPLEMENTED:       ErrNotImplemented,
	XL_ERR_INVALID_PORT:          ErrInvalidPort,
	XL_ERR_HW_NOT_READY:          ErrHWNotReady,
	XL_ERR_CMD_TIMEOUT:           ErrCmdTimeout,
	XL_ERR_HW_NOT_PRESENT:        ErrHWNotPresent,
	XL_ERR_NOTIFY_ALREADY_ACTIVE: ErrNotifyAlreadyActive,
	XL_ERR_NO_RESOURCES:          ErrNoResources,
	XL_ERR_WRONG_CHIP_TYPE:       ErrWrongChipType,
	XL_ERR_WRONG_COMMAND:         ErrWrongCommand,
	XL_ERR_INVALID_HANDLE:        ErrInvalidHandle,
	XL_ERR_RESERVED_NOT_ZERO:     ErrReservedNotZero,
	XL_ERR_INIT_ACCESS_MISSING:   ErrInitAccessMissing,
	XL_ERR_CANNOT_OPEN_DRIVER:    ErrCannotOpenDriver,
	XL_ERR_WRONG_BUS_TYPE:        ErrWrongBusType,
	XL_ERR_DLL_NOT_FOUND:         ErrDLLNotFound,
	XL_ERR_INVALID_CHANNEL_MASK:  ErrInvalidChannelMask,
	XL_ERR_NOT_SUPPORTED:         ErrNotSupported,
	XL_ERR_CONNECTION_BROKEN:     ErrConnectionBroken,
	XL_ERR_CONNECTION_CLOSED:     ErrConnectionClosed,
	XL_ERR_QUEUE_OVERRUN:         ErrQueueOverrun,
	XL_ERROR:                     ErrXL,
}

// NewError maps a driver status to an error. XL_SUCCESS gives nil, known
// codes give their sentinel and anything else an *Error.
func NewError[T ~int16 | ~int32 | ~int | ~uintptr](code T) error {
	status := Status(code)
	if status == XL_SUCCESS {
		return nil
	}
	if err, ok := statusErrors[status]; ok {
		return err
	}
	return &Error{Code: status, Description: "unknown XL status"}
}

// Permanent reports errors that retrying the same call will not fix.
func Permanent(err error) bool {
	switch {
	case errors.Is(err, ErrNoLicense),
		errors.Is(err, ErrDLLNotFound),
		errors.Is(err, ErrHWNotPresent),
		errors.Is(err, ErrNotSupported),
		errors.Is(err, ErrWrongParameter),
		errors.Is(err, ErrInvalidChannelMask):
		return true
	}
	return false
}
