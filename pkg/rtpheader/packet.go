package rtpheader

import "time"

// Packet is a parsed RTP packet together with its local arrival instant.
type Packet struct {
	Header  Header
	Payload []byte
	Arrival time.Time
}

// ParsePacket parses the header and payload of buf. The payload aliases buf.
func ParsePacket(buf []byte, arrival time.Time) (*Packet, error) {
	h, err := Parse(buf)
	if err != nil {
		return nil, err
	}
	payload, err := ExtractPayload(buf)
	if err != nil {
		return nil, err
	}
	return &Packet{Header: h, Payload: payload, Arrival: arrival}, nil
}
