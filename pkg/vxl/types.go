package vxl

//  XL Driver Library (vxlapi) CAN subset
//
//  Only the types, constants and layouts the CAN / CAN-FD path uses are
//  mirrored here. Layouts follow vxlapi.h for 64-bit Windows.

// -----------------------------------------------------------------------------
// Base type mappings (C → Go)
// -----------------------------------------------------------------------------

// C: XLstatus     -> short
// C: XLaccess     -> XLuint64
// C: XLportHandle -> long
// C: XLhandle     -> HANDLE

type Status int16          // XL_* status code returned by every API call
type AccessMask uint64     // bit mask of channels, one bit per global channel index
type PortHandle int32      // handle of an open port
type BusType uint32        // XL_BUS_TYPE_*
type InterfaceVersion uint32 // XL_INTERFACE_VERSION*
type HWType uint8          // XL_HWTYPE_*

const InvalidPortHandle PortHandle = -1

// -----------------------------------------------------------------------------
// Status codes
// -----------------------------------------------------------------------------

const (
	XL_SUCCESS                  Status = 0
	XL_PENDING                  Status = 1
	XL_ERR_QUEUE_IS_EMPTY       Status = 10
	XL_ERR_QUEUE_IS_FULL        Status = 11
	XL_ERR_TX_NOT_POSSIBLE      Status = 12
	XL_ERR_NO_LICENSE           Status = 14
	XL_ERR_WRONG_PARAMETER      Status = 101
	XL_ERR_TWICE_REGISTER       Status = 110
	XL_ERR_INVALID_CHAN_INDEX   Status = 111
	XL_ERR_INVALID_ACCESS       Status = 112
	XL_ERR_PORT_IS_OFFLINE      Status = 113
	XL_ERR_CHAN_IS_ONLINE       Status = 116
	XL_ERR_NOT_IMPLEMENTED      Status = 117
	XL_ERR_INVALID_PORT         Status = 118
	XL_ERR_HW_NOT_READY         Status = 120
	XL_ERR_CMD_TIMEOUT          Status = 121
	XL_ERR_HW_NOT_PRESENT       Status = 129
	XL_ERR_NOTIFY_ALREADY_ACTIVE Status = 131
	XL_ERR_NO_RESOURCES         Status = 152
	XL_ERR_WRONG_CHIP_TYPE      Status = 153
	XL_ERR_WRONG_COMMAND        Status = 154
	XL_ERR_INVALID_HANDLE       Status = 155
	XL_ERR_RESERVED_NOT_ZERO    Status = 157
	XL_ERR_INIT_ACCESS_MISSING  Status = 158
	XL_ERR_CANNOT_OPEN_DRIVER   Status = 201
	XL_ERR_WRONG_BUS_TYPE       Status = 202
	XL_ERR_DLL_NOT_FOUND        Status = 203
	XL_ERR_INVALID_CHANNEL_MASK Status = 204
	XL_ERR_NOT_SUPPORTED        Status = 205
	XL_ERR_CONNECTION_BROKEN    Status = 210
	XL_ERR_CONNECTION_CLOSED    Status = 211
	XL_ERR_INVALID_STREAM_NAME  Status = 212
	XL_ERR_CONNECTION_FAILED    Status = 213
	XL_ERR_STREAM_NOT_FOUND     Status = 214
	XL_ERR_STREAM_NOT_CONNECTED Status = 215
	XL_ERR_QUEUE_OVERRUN        Status = 216
	XL_ERROR                    Status = 255
)

// -----------------------------------------------------------------------------
// Bus types, interface versions, activation flags
// -----------------------------------------------------------------------------

const (
	XL_BUS_TYPE_NONE BusType = 0x00000000
	XL_BUS_TYPE_CAN  BusType = 0x00000001

	// channelBusCapabilities: compatible bus types in the low word, active in the high word
	XL_BUS_COMPATIBLE_CAN uint32 = 0x00000001
	XL_BUS_ACTIVE_CAP_CAN uint32 = XL_BUS_COMPATIBLE_CAN << 16
)

const (
	XL_INTERFACE_VERSION_V2 InterfaceVersion = 2
	XL_INTERFACE_VERSION_V3 InterfaceVersion = 3
	XL_INTERFACE_VERSION    InterfaceVersion = XL_INTERFACE_VERSION_V3
	XL_INTERFACE_VERSION_V4 InterfaceVersion = 4
)

const (
	XL_ACTIVATE_NONE        uint32 = 0
	XL_ACTIVATE_RESET_CLOCK uint32 = 8
)

// channelCapabilities
const (
	XL_CHANNEL_FLAG_TIME_SYNC_RUNNING  uint32 = 0x00000001
	XL_CHANNEL_FLAG_NO_HWSYNC_SUPPORT  uint32 = 0x00000400
	XL_CHANNEL_FLAG_SPDIF_CAPABLE      uint32 = 0x00004000
	XL_CHANNEL_FLAG_CANFD_BOSCH_SUPPORT uint32 = 0x20000000
	XL_CHANNEL_FLAG_CMACTLICENSE_SUPPORT uint32 = 0x40000000
	XL_CHANNEL_FLAG_CANFD_ISO_SUPPORT  uint32 = 0x80000000
)

// Hardware types seen in channel configs.
const (
	XL_HWTYPE_NONE       HWType = 0
	XL_HWTYPE_VIRTUAL    HWType = 1
	XL_HWTYPE_CANCARDX   HWType = 2
	XL_HWTYPE_CANCARDXL  HWType = 15
	XL_HWTYPE_CANCASEXL  HWType = 21
	XL_HWTYPE_CANBOARDXL HWType = 25
	XL_HWTYPE_VN1610     HWType = 55
	XL_HWTYPE_VN1630     HWType = 57
	XL_HWTYPE_VN1640     HWType = 59
	XL_HWTYPE_VN8900     HWType = 45
	XL_HWTYPE_VN7600     HWType = 43
	XL_HWTYPE_VN5610     HWType = 65
	XL_HWTYPE_VN1670     HWType = 73
)

func (h HWType) String() string {
	switch h {
	case XL_HWTYPE_NONE:
		return "none"
	case XL_HWTYPE_VIRTUAL:
		return "Virtual"
	case XL_HWTYPE_CANCARDX:
		return "CANcardX"
	case XL_HWTYPE_CANCARDXL:
		return "CANcardXL"
	case XL_HWTYPE_CANCASEXL:
		return "CANcaseXL"
	case XL_HWTYPE_CANBOARDXL:
		return "CANboardXL"
	case XL_HWTYPE_VN1610:
		return "VN1610"
	case XL_HWTYPE_VN1630:
		return "VN1630"
	case XL_HWTYPE_VN1640:
		return "VN1640"
	case XL_HWTYPE_VN1670:
		return "VN1670"
	case XL_HWTYPE_VN8900:
		return "VN8900"
	case XL_HWTYPE_VN7600:
		return "VN7600"
	case XL_HWTYPE_VN5610:
		return "VN5610"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Acceptance filter
// -----------------------------------------------------------------------------

type IDRange uint32

const (
	XL_CAN_STD IDRange = 1 // 11-bit identifiers
	XL_CAN_EXT IDRange = 2 // 29-bit identifiers
)

// Set in the identifier of extended frames.
const XL_CAN_EXT_MSG_ID uint32 = 0x80000000

// -----------------------------------------------------------------------------
// Classical CAN events (xlReceive / xlCanTransmit)
// -----------------------------------------------------------------------------

type EventTag uint8

const (
	XL_NO_COMMAND         EventTag = 0
	XL_RECEIVE_MSG        EventTag = 1
	XL_CHIP_STATE         EventTag = 4
	XL_TRANSCEIVER        EventTag = 6
	XL_TIMER              EventTag = 8
	XL_TRANSMIT_MSG       EventTag = 10
	XL_SYNC_PULSE         EventTag = 11
	XL_APPLICATION_NOTIFICATION EventTag = 15
)

// CanMsg flags
const (
	XL_CAN_MSG_FLAG_ERROR_FRAME  uint16 = 0x01
	XL_CAN_MSG_FLAG_OVERRUN      uint16 = 0x02
	XL_CAN_MSG_FLAG_NERR         uint16 = 0x04
	XL_CAN_MSG_FLAG_WAKEUP       uint16 = 0x08
	XL_CAN_MSG_FLAG_REMOTE_FRAME uint16 = 0x10
	XL_CAN_MSG_FLAG_RESERVED_1   uint16 = 0x20
	XL_CAN_MSG_FLAG_TX_COMPLETED uint16 = 0x40
	XL_CAN_MSG_FLAG_TX_REQUEST   uint16 = 0x80
	XL_CAN_MSG_FLAG_SRR_BIT_DOM  uint16 = 0x0200
)

// CanMsg is s_xl_can_msg, the classical CAN payload of an Event.
type CanMsg struct {
	ID    uint32 // XL_CAN_EXT_MSG_ID set for extended frames
	Flags uint16
	DLC   uint16
	Res1  uint64
	Data  [8]byte
	Res2  uint64
}

// Event is XLevent (48 bytes).
type Event struct {
	Tag        EventTag
	ChanIndex  uint8
	TransID    uint16
	PortHandle uint16
	Flags      uint8
	Reserved   uint8
	TimeStamp  uint64 // nanoseconds
	TagData    CanMsg
}

// -----------------------------------------------------------------------------
// CAN-FD events (xlCanReceive / xlCanTransmitEx)
// -----------------------------------------------------------------------------

const (
	XL_CAN_EV_TAG_RX_OK      uint16 = 0x0400
	XL_CAN_EV_TAG_RX_ERROR   uint16 = 0x0401
	XL_CAN_EV_TAG_TX_ERROR   uint16 = 0x0402
	XL_CAN_EV_TAG_TX_REQUEST uint16 = 0x0403
	XL_CAN_EV_TAG_TX_OK      uint16 = 0x0404
	XL_CAN_EV_TAG_CHIP_STATE uint16 = 0x0409

	XL_CAN_EV_TAG_TX_MSG uint16 = 0x0440
)

// CanTxMsg flags
const (
	XL_CAN_TXMSG_FLAG_EDL      uint32 = 0x0001
	XL_CAN_TXMSG_FLAG_BRS      uint32 = 0x0002
	XL_CAN_TXMSG_FLAG_RTR      uint32 = 0x0010
	XL_CAN_TXMSG_FLAG_HIGHPRIO uint32 = 0x0080
	XL_CAN_TXMSG_FLAG_WAKEUP   uint32 = 0x0200
)

// CanRxMsg flags
const (
	XL_CAN_RXMSG_FLAG_EDL      uint32 = 0x0001
	XL_CAN_RXMSG_FLAG_BRS      uint32 = 0x0002
	XL_CAN_RXMSG_FLAG_ESI      uint32 = 0x0004
	XL_CAN_RXMSG_FLAG_RTR      uint32 = 0x0010
	XL_CAN_RXMSG_FLAG_EF       uint32 = 0x0200
	XL_CAN_RXMSG_FLAG_ARB_LOST uint32 = 0x0400
	XL_CAN_RXMSG_FLAG_WAKEUP   uint32 = 0x2000
	XL_CAN_RXMSG_FLAG_TE       uint32 = 0x4000
)

// CanTxMsg is XL_CAN_TX_MSG.
type CanTxMsg struct {
	CanID    uint32
	MsgFlags uint32
	DLC      uint8
	Reserved [7]byte
	Data     [64]byte
}

// CanTxEvent is XLcanTxEvent (88 bytes).
type CanTxEvent struct {
	Tag          uint16
	TransID      uint16
	ChannelIndex uint8
	Reserved     [3]byte
	TagData      CanTxMsg
}

// CanRxMsg is XL_CAN_EV_RX_MSG, also used for TX_OK events.
type CanRxMsg struct {
	CanID       uint32
	MsgFlags    uint32
	CRC         uint32
	Reserved1   [12]byte
	TotalBitCnt uint16
	DLC         uint8
	Reserved    [5]byte
	Data        [64]byte
}

// CanRxEvent is XLcanRxEvent (128 bytes).
type CanRxEvent struct {
	Size          uint32
	Tag           uint16
	ChannelIndex  uint16
	UserHandle    uint32
	FlagsChip     uint16
	Reserved0     uint16
	Reserved1     uint64
	TimeStampSync uint64 // nanoseconds
	TagData       CanRxMsg
}

// -----------------------------------------------------------------------------
// Bit timing
// -----------------------------------------------------------------------------

// ChipParams is XLchipParams, the classical CAN bit timing.
type ChipParams struct {
	BitRate uint32
	SJW     uint8
	TSeg1   uint8
	TSeg2   uint8
	Sam     uint8
}

// XLcanFdConf options
const (
	CANFD_CONFOPT_NO_ISO uint8 = 0x08
)

// CanFdConf is XLcanFdConf.
type CanFdConf struct {
	ArbitrationBitRate uint32
	SJWAbr             uint32
	TSeg1Abr           uint32
	TSeg2Abr           uint32
	DataBitRate        uint32
	SJWDbr             uint32
	TSeg1Dbr           uint32
	TSeg2Dbr           uint32
	Reserved           uint8
	Options            uint8
	Reserved1          [2]uint8
	Reserved2          uint32
}

// -----------------------------------------------------------------------------
// Driver configuration
// -----------------------------------------------------------------------------

const (
	XL_CONFIG_MAX_CHANNELS = 64
	XL_MAX_LENGTH          = 31
)

// CanBusParams is the CAN view of XLbusParams.
type CanBusParams struct {
	BitRate    uint32
	SJW        uint8
	TSeg1      uint8
	TSeg2      uint8
	Sam        uint8
	OutputMode uint8
	CanOpMode  uint8
}

// ChannelConfig is the subset of XLchannelConfig used for channel discovery.
type ChannelConfig struct {
	Name                   string
	HWType                 HWType
	HWIndex                uint8
	HWChannel              uint8
	TransceiverType        uint16
	ChannelIndex           uint8
	ChannelMask            AccessMask
	ChannelCapabilities    uint32
	ChannelBusCapabilities uint32
	IsOnBus                bool
	ConnectedBusType       BusType
	BusParamsType          BusType
	CanParams              CanBusParams
	DriverVersion          uint32
	SerialNumber           uint32
	ArticleNumber          uint32
	TransceiverName        string
	MaximalBaudrate        uint32
}

// SupportsCAN reports whether the channel can be activated as a CAN channel.
func (c *ChannelConfig) SupportsCAN() bool {
	return c.ChannelBusCapabilities&XL_BUS_ACTIVE_CAP_CAN != 0
}

// SupportsFD reports whether the channel handles ISO CAN-FD frames.
func (c *ChannelConfig) SupportsFD() bool {
	return c.ChannelCapabilities&XL_CHANNEL_FLAG_CANFD_ISO_SUPPORT != 0
}

// DriverConfig is XLdriverConfig.
type DriverConfig struct {
	DLLVersion uint32
	Channels   []ChannelConfig
}
