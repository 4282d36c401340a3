package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Header holds the fields a sender sets when building a frame. SeqFlag and
// MapID are ignored for control (BC) frames, which carry no segment header.
type Header struct {
	Version          uint8
	Bypass           bool
	ControlCommand   bool
	SpacecraftID     uint16
	VirtualChannelID uint8
	SequenceNumber   uint8
	SeqFlag          SeqFlag
	MapID            uint8
}

// MaxDataLen returns the largest application data field a frame of type t can carry.
func MaxDataLen(t Type) int {
	if t == TypeBC {
		return MaxFrameSize - PrimaryHeaderLen - CRCLen
	}
	return MaxFrameSize - PrimaryHeaderLen - SegmentHeaderLen - CRCLen
}

// Build serializes h and data into a complete frame including the FECF.
func Build(h Header, data []byte) ([]byte, error) {
	hdr := PrimaryHeaderLen
	if !h.ControlCommand {
		hdr += SegmentHeaderLen
	}
	full := hdr + len(data) + CRCLen
	if full > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(data))
	}

	buf := make([]byte, full)
	EncodeHeader(buf, h, full)
	if !h.ControlCommand {
		buf[PrimaryHeaderLen] = byte(h.SeqFlag&0x03)<<6 | h.MapID&0x3f
	}
	copy(buf[hdr:], data)
	binary.BigEndian.PutUint16(buf[full-CRCLen:], Checksum(buf[:full-CRCLen]))
	return buf, nil
}

// EncodeHeader writes the primary header for a frame of fullSize bytes into dst.
func EncodeHeader(dst []byte, h Header, fullSize int) {
	length := uint16(fullSize - 1)
	b0 := (h.Version & 0x03) << 6
	if h.Bypass {
		b0 |= 0x20
	}
	if h.ControlCommand {
		b0 |= 0x10
	}
	b0 |= byte(h.SpacecraftID>>8) & 0x03
	dst[0] = b0
	dst[1] = byte(h.SpacecraftID)
	dst[2] = (h.VirtualChannelID&0x3f)<<2 | byte(length>>8)&0x03
	dst[3] = byte(length)
	dst[4] = h.SequenceNumber
}

// ReadFrame reads one delimited frame from r: startSeqLen bytes of start
// sequence, the primary header, then the rest of the declared frame length.
// The returned slice includes the start sequence.
func ReadFrame(r io.Reader, startSeqLen int) ([]byte, error) {
	head := make([]byte, startSeqLen+PrimaryHeaderLen, startSeqLen+MaxFrameSize)
	if _, err := io.ReadFull(r, head); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShorterThanHeader
		}
		return nil, err
	}

	v, err := NewView(head[startSeqLen:])
	if err != nil {
		return nil, err
	}
	if v.FullSize() <= PrimaryHeaderLen {
		return head, nil
	}
	buf := head[:startSeqLen+v.FullSize()]
	if _, err := io.ReadFull(r, buf[startSeqLen+PrimaryHeaderLen:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTooShort
		}
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes startSeq followed by raw to w.
func WriteFrame(w io.Writer, startSeq []byte, raw []byte) error {
	if len(startSeq) > 0 {
		if _, err := w.Write(startSeq); err != nil {
			return err
		}
	}
	_, err := w.Write(raw)
	return err
}
