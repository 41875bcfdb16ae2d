package miband

import (
	"encoding/binary"
)

// Latency is a set of LE connection parameters the band accepts on its
// connection parameters characteristic. Intervals are in 1.25ms units and
// the supervision timeout in 10ms units.
type Latency struct {
	MinInterval           uint16
	MaxInterval           uint16
	SlaveLatency          uint16
	SupervisionTimeout    uint16
	AdvertisementInterval uint16
}

var (
	// HighLatency saves power between transfers.
	HighLatency = Latency{MinInterval: 460, MaxInterval: 500, SupervisionTimeout: 500}
	// LowLatency is used while bulk data is being fetched.
	LowLatency = Latency{MinInterval: 39, MaxInterval: 49, SupervisionTimeout: 500}
)

// Bytes encodes the parameters as five little-endian words with two reserved
// bytes before the advertisement interval.
func (l Latency) Bytes() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b[0:], l.MinInterval)
	binary.LittleEndian.PutUint16(b[2:], l.MaxInterval)
	binary.LittleEndian.PutUint16(b[4:], l.SlaveLatency)
	binary.LittleEndian.PutUint16(b[6:], l.SupervisionTimeout)
	binary.LittleEndian.PutUint16(b[10:], l.AdvertisementInterval)
	return b
}
