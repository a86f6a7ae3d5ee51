package xlcan

import "fmt"

type Stats struct {
	SentFrames    uint64
	RecvFrames    uint64
	Retransmits   uint64 // transmit calls repeated for an unsent tail
	Filtered      uint64 // frames dropped by software filtering
	Errors        uint64
	DroppedEvents uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("sent: %d recv: %d retransmits: %d filtered: %d errors: %d dropped events: %d",
		st.SentFrames, st.RecvFrames, st.Retransmits, st.Filtered, st.Errors, st.DroppedEvents)
}
