package rtpheader

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

const (
	FixedHeaderSize     = 12
	csrcSize            = 4
	extensionHeaderSize = 4
)

var ErrMalformedPacket = errors.New("rtpheader: malformed packet")

type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CSRCCount      uint8
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32

	CSRC             []uint32
	ExtensionProfile uint16
	// ExtensionPayload is the extension block body, kept opaque. Its length
	// is a multiple of four.
	ExtensionPayload []byte
}

// Parse decodes the fixed header plus the CSRC list. The extension block is
// only bounds checked; its body aliases buf.
func Parse(buf []byte) (Header, error) {
	if len(buf) < FixedHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedPacket, len(buf), FixedHeaderSize)
	}

	end, err := payloadOffset(buf)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		Version:        buf[0] >> 6,
		Padding:        buf[0]&0x20 != 0,
		Extension:      buf[0]&0x10 != 0,
		CSRCCount:      buf[0] & 0x0F,
		Marker:         buf[1]&0x80 != 0,
		PayloadType:    buf[1] & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
		SSRC:           binary.BigEndian.Uint32(buf[8:12]),
	}

	offset := FixedHeaderSize
	if h.CSRCCount > 0 {
		h.CSRC = make([]uint32, h.CSRCCount)
		for i := range h.CSRC {
			h.CSRC[i] = binary.BigEndian.Uint32(buf[offset:])
			offset += csrcSize
		}
	}

	if h.Extension {
		h.ExtensionProfile = binary.BigEndian.Uint16(buf[offset:])
		h.ExtensionPayload = buf[offset+extensionHeaderSize : end]
	}
	return h, nil
}

// ExtractPayload returns the bytes following the fixed header, the CSRC list
// and the extension block. Trailing padding is removed when flagged.
func ExtractPayload(buf []byte) ([]byte, error) {
	if len(buf) < FixedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedPacket, len(buf), FixedHeaderSize)
	}

	offset, err := payloadOffset(buf)
	if err != nil {
		return nil, err
	}

	end := len(buf)
	if buf[0]&0x20 != 0 && end > offset {
		// last byte counts padding bytes including itself
		pad := int(buf[end-1])
		if pad == 0 || offset+pad > end {
			return nil, fmt.Errorf("%w: padding %d exceeds payload", ErrMalformedPacket, pad)
		}
		end -= pad
	}

	return buf[offset:end], nil
}

func payloadOffset(buf []byte) (int, error) {
	offset := FixedHeaderSize + int(buf[0]&0x0F)*csrcSize
	if offset > len(buf) {
		return 0, fmt.Errorf("%w: csrc list needs %d bytes, have %d", ErrMalformedPacket, offset, len(buf))
	}

	if buf[0]&0x10 == 0 {
		return offset, nil
	}

	if offset+extensionHeaderSize > len(buf) {
		return 0, fmt.Errorf("%w: extension header truncated", ErrMalformedPacket)
	}
	extLen := int(binary.BigEndian.Uint16(buf[offset+2:offset+4])) * 4
	offset += extensionHeaderSize + extLen
	if offset > len(buf) {
		return 0, fmt.Errorf("%w: extension length %d exceeds buffer", ErrMalformedPacket, extLen)
	}
	return offset, nil
}

// Marshal re-serializes the header.
func (h Header) Marshal() ([]byte, error) {
	if len(h.ExtensionPayload)%4 != 0 {
		return nil, fmt.Errorf("rtpheader: marshal: extension length %d is not a multiple of 4", len(h.ExtensionPayload))
	}

	raw := rtp.Header{
		Version:        h.Version,
		Padding:        h.Padding,
		Marker:         h.Marker,
		PayloadType:    h.PayloadType,
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		SSRC:           h.SSRC,
		CSRC:           h.CSRC,
	}
	buf, err := raw.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtpheader: marshal: %w", err)
	}
	if !h.Extension {
		return buf, nil
	}

	// pion re-encodes one-byte and two-byte elements, so the block is written raw
	buf[0] |= 0x10
	buf = binary.BigEndian.AppendUint16(buf, h.ExtensionProfile)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h.ExtensionPayload)/4))
	return append(buf, h.ExtensionPayload...), nil
}

func (h Header) String() string {
	return fmt.Sprintf("RTP v%d pt=%d seq=%d ts=%d ssrc=%d marker=%t csrc=%d",
		h.Version, h.PayloadType, h.SequenceNumber, h.Timestamp, h.SSRC, h.Marker, h.CSRCCount)
}
