package vxl

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Packed sizes of XLdriverConfig and XLchannelConfig.
const (
	driverConfigHeaderSize = 4 + 4 + 10*4
	channelConfigSize      = 227
	DriverConfigSize       = driverConfigHeaderSize + XL_CONFIG_MAX_CHANNELS*channelConfigSize
)

// XLchannelConfig field offsets
const (
	offName                   = 0
	offHWType                 = 32
	offHWIndex                = 33
	offHWChannel              = 34
	offTransceiverType        = 35
	offChannelIndex           = 41
	offChannelMask            = 42
	offChannelCapabilities    = 50
	offChannelBusCapabilities = 54
	offIsOnBus                = 58
	offConnectedBusType       = 59
	offBusParams              = 63
	offDriverVersion          = 99
	offSerialNumber           = 147
	offArticleNumber          = 151
	offTransceiverName        = 155
	offMaximalBaudrate        = 203
)

// ParseDriverConfig decodes the packed XLdriverConfig buffer filled in by xlGetDriverConfig.
func ParseDriverConfig(b []byte) (*DriverConfig, error) {
	if len(b) < driverConfigHeaderSize {
		return nil, fmt.Errorf("driver config: short buffer (%d bytes)", len(b))
	}
	le := binary.LittleEndian
	cfg := &DriverConfig{
		DLLVersion: le.Uint32(b[0:]),
	}
	count := int(le.Uint32(b[4:]))
	if count > XL_CONFIG_MAX_CHANNELS {
		return nil, fmt.Errorf("driver config: channel count %d exceeds %d", count, XL_CONFIG_MAX_CHANNELS)
	}
	if need := driverConfigHeaderSize + count*channelConfigSize; len(b) < need {
		return nil, fmt.Errorf("driver config: %d channels need %d bytes, got %d", count, need, len(b))
	}
	cfg.Channels = make([]ChannelConfig, count)
	for i := 0; i < count; i++ {
		start := driverConfigHeaderSize + i*channelConfigSize
		cfg.Channels[i] = parseChannelConfig(b[start : start+channelConfigSize])
	}
	return cfg, nil
}

func parseChannelConfig(c []byte) ChannelConfig {
	le := binary.LittleEndian
	bp := c[offBusParams:]
	return ChannelConfig{
		Name:                   cString(c[offName : offName+XL_MAX_LENGTH+1]),
		HWType:                 HWType(c[offHWType]),
		HWIndex:                c[offHWIndex],
		HWChannel:              c[offHWChannel],
		TransceiverType:        le.Uint16(c[offTransceiverType:]),
		ChannelIndex:           c[offChannelIndex],
		ChannelMask:            AccessMask(le.Uint64(c[offChannelMask:])),
		ChannelCapabilities:    le.Uint32(c[offChannelCapabilities:]),
		ChannelBusCapabilities: le.Uint32(c[offChannelBusCapabilities:]),
		IsOnBus:                c[offIsOnBus] != 0,
		ConnectedBusType:       BusType(le.Uint32(c[offConnectedBusType:])),
		BusParamsType:          BusType(le.Uint32(bp)),
		CanParams: CanBusParams{
			BitRate:    le.Uint32(bp[4:]),
			SJW:        bp[8],
			TSeg1:      bp[9],
			TSeg2:      bp[10],
			Sam:        bp[11],
			OutputMode: bp[12],
			CanOpMode:  bp[20],
		},
		DriverVersion:   le.Uint32(c[offDriverVersion:]),
		SerialNumber:    le.Uint32(c[offSerialNumber:]),
		ArticleNumber:   le.Uint32(c[offArticleNumber:]),
		TransceiverName: cString(c[offTransceiverName : offTransceiverName+XL_MAX_LENGTH+1]),
		MaximalBaudrate: le.Uint32(c[offMaximalBaudrate:]),
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
