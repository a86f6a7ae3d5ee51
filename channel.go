package xlcan

import (
	"fmt"

	"github.com/roffe/xlcan/pkg/vxl"
)

// ChannelInfo describes one CAN capable channel of the XL driver.
type ChannelInfo struct {
	Name            string
	TransceiverName string
	HWType          vxl.HWType
	HWIndex         int
	HWChannel       int
	ChannelIndex    int // global channel index, the number Open expects without an AppName
	Mask            vxl.AccessMask
	SerialNumber    uint32
	SupportsFD      bool
	IsOnBus         bool
	Virtual         bool
	Bitrate         int
}

func (c ChannelInfo) String() string {
	fd := ""
	if c.SupportsFD {
		fd = " FD"
	}
	return fmt.Sprintf("%d: %s (%s%s, %s, serial %d)", c.ChannelIndex, c.Name, c.HWType, fd, c.TransceiverName, c.SerialNumber)
}

// DetectChannels opens the driver, lists its CAN capable channels and closes
// it again. Virtual channels are skipped unless includeVirtual is set.
func DetectChannels(drv vxl.Driver, includeVirtual bool) ([]ChannelInfo, error) {
	if drv == nil {
		return nil, ErrNilDriver
	}
	if err := drv.OpenDriver(); err != nil {
		return nil, fmt.Errorf("open driver: %w", err)
	}
	defer drv.CloseDriver()

	cfg, err := drv.GetDriverConfig()
	if err != nil {
		return nil, fmt.Errorf("get driver config: %w", err)
	}
	return channelInfos(cfg, includeVirtual), nil
}

func channelInfos(cfg *vxl.DriverConfig, includeVirtual bool) []ChannelInfo {
	var out []ChannelInfo
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if !ch.SupportsCAN() {
			continue
		}
		virtual := ch.HWType == vxl.XL_HWTYPE_VIRTUAL
		if virtual && !includeVirtual {
			continue
		}
		out = append(out, ChannelInfo{
			Name:            ch.Name,
			TransceiverName: ch.TransceiverName,
			HWType:          ch.HWType,
			HWIndex:         int(ch.HWIndex),
			HWChannel:       int(ch.HWChannel),
			ChannelIndex:    int(ch.ChannelIndex),
			Mask:            ch.ChannelMask,
			SerialNumber:    ch.SerialNumber,
			SupportsFD:      ch.SupportsFD(),
			IsOnBus:         ch.IsOnBus,
			Virtual:         virtual,
			Bitrate:         int(ch.CanParams.BitRate),
		})
	}
	return out
}
