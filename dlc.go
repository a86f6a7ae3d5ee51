package xlcan

const (
	// MaxDataLen is the largest classical CAN payload.
	MaxDataLen = 8
	// MaxFDDataLen is the largest CAN-FD payload.
	MaxFDDataLen = 64
	// MaxDLC is the largest data length code.
	MaxDLC = 15

	// PaddingByte fills payloads up to the length mandated by their DLC.
	PaddingByte = 0xAA
)

// dlcLengths maps a DLC code (index) to its payload length in bytes.
var dlcLengths = [MaxDLC + 1]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// LengthToDLC returns the smallest DLC whose payload length can hold n bytes.
// Lengths above 64 saturate at DLC 15.
func LengthToDLC(n int) uint8 {
	for dlc, length := range dlcLengths {
		if length >= n {
			return uint8(dlc)
		}
	}
	return MaxDLC
}

// DLCToLength returns the payload length in bytes for a DLC code.
// Codes above 15 are treated as 15.
func DLCToLength(dlc uint8) int {
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	return dlcLengths[dlc]
}
