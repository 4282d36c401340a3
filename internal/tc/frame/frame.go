package frame

import (
	"errors"
	"fmt"
)

const (
	PrimaryHeaderLen = 5
	SegmentHeaderLen = 1
	CRCLen           = 2

	// MaxFrameSize is the largest frame the 10-bit length field can describe.
	MaxFrameSize = 1024

	// TCVersion is the only transfer frame version number accepted on a TC link.
	TCVersion uint8 = 0
)

var (
	ErrShorterThanHeader = errors.New("frame: shorter than primary header")
	ErrWrongVersion      = errors.New("frame: wrong transfer frame version")
	ErrWrongSpacecraftID = errors.New("frame: wrong spacecraft id")
	ErrNoValidFrameType  = errors.New("frame: no valid frame type")
	ErrTooShort          = errors.New("frame: declared length exceeds received data")
	ErrCRCFailed         = errors.New("frame: crc check failed")
	ErrDataTooLarge      = errors.New("frame: data field too large")
)

// Type classifies a frame by its bypass and control command flags.
type Type uint8

const (
	TypeAD Type = iota
	TypeBD
	TypeBC
	TypeIllegal
)

func (t Type) String() string {
	switch t {
	case TypeAD:
		return "AD"
	case TypeBD:
		return "BD"
	case TypeBC:
		return "BC"
	default:
		return "illegal"
	}
}

// SeqFlag is the 2-bit segmentation flag of the segment header.
type SeqFlag uint8

const (
	ContinuingPortion SeqFlag = 0b00
	FirstPortion      SeqFlag = 0b01
	LastPortion       SeqFlag = 0b10
	NoSegmentation    SeqFlag = 0b11
)

func (f SeqFlag) String() string {
	switch f {
	case ContinuingPortion:
		return "continuing"
	case FirstPortion:
		return "first"
	case LastPortion:
		return "last"
	default:
		return "unsegmented"
	}
}

// Config holds the link-wide parameters a frame is validated against.
type Config struct {
	SpacecraftID uint16
	VerifyCRC    bool
}

// View is a read accessor over one TC transfer frame. It does not own the
// underlying bytes and is only valid while the caller keeps them unchanged.
type View struct {
	buf []byte
}

// NewView wraps buf after checking that the primary header is present.
// Accessors beyond the primary header return zero values until the frame has
// been delimited by Parse.
func NewView(buf []byte) (View, error) {
	if len(buf) < PrimaryHeaderLen {
		return View{}, ErrShorterThanHeader
	}
	return View{buf: buf}, nil
}

// Parse delimits and validates a received frame. The returned view covers
// exactly FullSize bytes of buf.
func Parse(buf []byte, cfg Config) (View, error) {
	v, err := NewView(buf)
	if err != nil {
		return View{}, err
	}
	if v.Version() != TCVersion {
		return View{}, fmt.Errorf("%w: %d", ErrWrongVersion, v.Version())
	}
	if v.SpacecraftID() != cfg.SpacecraftID {
		return View{}, fmt.Errorf("%w: got %d want %d", ErrWrongSpacecraftID, v.SpacecraftID(), cfg.SpacecraftID)
	}
	if v.Spare() != 0 || v.Type() == TypeIllegal {
		return View{}, ErrNoValidFrameType
	}

	full := v.FullSize()
	if full > len(buf) {
		return View{}, fmt.Errorf("%w: declared %d received %d", ErrTooShort, full, len(buf))
	}
	if full < v.headerLen()+CRCLen {
		return View{}, fmt.Errorf("%w: declared %d below minimum", ErrTooShort, full)
	}
	v.buf = buf[:full]

	if cfg.VerifyCRC && Checksum(v.buf) != 0 {
		return View{}, ErrCRCFailed
	}
	return v, nil
}

func (v View) Version() uint8 {
	return v.buf[0] >> 6
}

func (v View) Bypass() bool {
	return v.buf[0]&0x20 != 0
}

func (v View) ControlCommand() bool {
	return v.buf[0]&0x10 != 0
}

func (v View) Spare() uint8 {
	return (v.buf[0] >> 2) & 0x03
}

func (v View) SpacecraftID() uint16 {
	return uint16(v.buf[0]&0x03)<<8 | uint16(v.buf[1])
}

func (v View) VirtualChannelID() uint8 {
	return v.buf[2] >> 2
}

// FrameLength returns the raw length field (total length minus one).
func (v View) FrameLength() uint16 {
	return uint16(v.buf[2]&0x03)<<8 | uint16(v.buf[3])
}

func (v View) FullSize() int {
	return int(v.FrameLength()) + 1
}

// SequenceNumber returns N(S).
func (v View) SequenceNumber() uint8 {
	return v.buf[4]
}

func (v View) Type() Type {
	switch {
	case !v.Bypass() && !v.ControlCommand():
		return TypeAD
	case v.Bypass() && !v.ControlCommand():
		return TypeBD
	case v.Bypass() && v.ControlCommand():
		return TypeBC
	default:
		return TypeIllegal
	}
}

// HasSegmentHeader reports whether the frame carries a segment header. Only
// data frames (AD and BD) do.
func (v View) HasSegmentHeader() bool {
	return !v.ControlCommand()
}

func (v View) SeqFlag() SeqFlag {
	if !v.HasSegmentHeader() || len(v.buf) <= PrimaryHeaderLen {
		return NoSegmentation
	}
	return SeqFlag(v.buf[PrimaryHeaderLen] >> 6)
}

func (v View) MapID() uint8 {
	if !v.HasSegmentHeader() || len(v.buf) <= PrimaryHeaderLen {
		return 0
	}
	return v.buf[PrimaryHeaderLen] & 0x3f
}

// Data returns the application data between the headers and the CRC.
func (v View) Data() []byte {
	start := v.headerLen()
	end := v.FullSize() - CRCLen
	if end > len(v.buf) || end < start {
		return nil
	}
	return v.buf[start:end]
}

func (v View) DataLen() int {
	return len(v.Data())
}

// CRC returns the received frame error control field.
func (v View) CRC() uint16 {
	full := v.FullSize()
	if full > len(v.buf) || full < PrimaryHeaderLen+CRCLen {
		return 0
	}
	return uint16(v.buf[full-2])<<8 | uint16(v.buf[full-1])
}

// Bytes returns the delimited frame.
func (v View) Bytes() []byte {
	full := v.FullSize()
	if full > len(v.buf) {
		return v.buf
	}
	return v.buf[:full]
}

func (v View) headerLen() int {
	if v.HasSegmentHeader() {
		return PrimaryHeaderLen + SegmentHeaderLen
	}
	return PrimaryHeaderLen
}
