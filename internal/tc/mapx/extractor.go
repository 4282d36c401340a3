package mapx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/danmuck/tclink/internal/store"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/rs/zerolog/log"
)

// MaxPacketSize bounds the reassembly buffer of every MAP channel.
const MaxPacketSize = 4096

// SpacePacketHeaderLen is the length of a CCSDS space packet primary header.
const SpacePacketHeaderLen = 6

var (
	ErrIllegalSegmentationFlag = errors.New("mapx: illegal segmentation flag sequence")
	ErrContentTooLarge         = errors.New("mapx: content exceeds reassembly capacity")
	ErrDataCorrupted           = errors.New("mapx: packet length exceeds remaining data")
	ErrResidualData            = errors.New("mapx: residual data after blocked packets")
	ErrDeliveryFailed          = errors.New("mapx: packet delivery failed")
)

// PacketStore keeps completed packets until their destination consumes them.
type PacketStore interface {
	Add(data []byte) (store.Handle, error)
	Delete(h store.Handle) error
}

// Queue hands stored packets to their destination.
type Queue interface {
	Send(dest store.ObjectID, h store.Handle) error
}

// Extractor reassembles space packets for one MAP channel.
type Extractor struct {
	mapID uint8
	dest  store.ObjectID
	store PacketStore
	queue Queue

	buf  [MaxPacketSize]byte
	size int
	last frame.SeqFlag
}

func New(mapID uint8, dest store.ObjectID, ps PacketStore, q Queue) *Extractor {
	return &Extractor{
		mapID: mapID,
		dest:  dest,
		store: ps,
		queue: q,
		last:  frame.NoSegmentation,
	}
}

func (e *Extractor) MapID() uint8 {
	return e.mapID
}

func (e *Extractor) Destination() store.ObjectID {
	return e.dest
}

// Pending returns the number of bytes held for an unfinished packet.
func (e *Extractor) Pending() int {
	return e.size
}

// InProgress reports whether a segmented packet is being reassembled.
func (e *Extractor) InProgress() bool {
	return e.last == frame.FirstPortion || e.last == frame.ContinuingPortion
}

// Reset drops any partially reassembled packet.
func (e *Extractor) Reset() {
	e.size = 0
	e.last = frame.NoSegmentation
}

// ExtractPackets consumes the data field of an accepted frame addressed to
// this MAP channel. Any error leaves the extractor ready for a fresh packet.
func (e *Extractor) ExtractPackets(v frame.View) error {
	data := v.Data()
	flag := v.SeqFlag()

	switch flag {
	case frame.NoSegmentation:
		if e.InProgress() {
			log.Warn().Uint8("map_id", e.mapID).Int("pending", e.size).Msg("unsegmented frame abandons partial packet")
			e.Reset()
		}
		return e.unpackBlocked(data)

	case frame.FirstPortion:
		if e.InProgress() {
			log.Warn().Uint8("map_id", e.mapID).Int("pending", e.size).Msg("first portion restarts partial packet")
		}
		e.Reset()
		if err := e.append(data); err != nil {
			return err
		}
		e.last = frame.FirstPortion
		return nil

	default:
		if !e.InProgress() {
			prev := e.last
			e.Reset()
			return fmt.Errorf("%w: %v after %v", ErrIllegalSegmentationFlag, flag, prev)
		}
		if err := e.append(data); err != nil {
			return err
		}
		if flag == frame.ContinuingPortion {
			e.last = frame.ContinuingPortion
			return nil
		}
		err := e.SendCompletePacket(e.buf[:e.size])
		e.Reset()
		return err
	}
}

// PacketsToDeliver returns how many complete packets ExtractPackets would
// hand to the queue for v, without changing any state.
func (e *Extractor) PacketsToDeliver(v frame.View) int {
	switch v.SeqFlag() {
	case frame.NoSegmentation:
		n := 0
		for _, err := range blockedPackets(v.Data()) {
			if err != nil {
				break
			}
			n++
		}
		return n
	case frame.LastPortion:
		if e.InProgress() {
			return 1
		}
	}
	return 0
}

// SendCompletePacket stores data and queues it for the configured destination.
func (e *Extractor) SendCompletePacket(data []byte) error {
	h, err := e.store.Add(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if err := e.queue.Send(e.dest, h); err != nil {
		if derr := e.store.Delete(h); derr != nil {
			log.Error().Err(derr).Stringer("handle", h).Msg("release undelivered packet")
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	log.Debug().
		Uint8("map_id", e.mapID).
		Stringer("dest", e.dest).
		Int("len", len(data)).
		Msg("packet delivered")
	return nil
}

func (e *Extractor) append(data []byte) error {
	if e.size+len(data) > MaxPacketSize {
		total := e.size + len(data)
		e.Reset()
		return fmt.Errorf("%w: %d bytes", ErrContentTooLarge, total)
	}
	e.size += copy(e.buf[e.size:], data)
	return nil
}

func (e *Extractor) unpackBlocked(data []byte) error {
	for pkt, err := range blockedPackets(data) {
		if err != nil {
			return err
		}
		if err := e.SendCompletePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

// blockedPackets walks back-to-back space packets in data and stops at the
// first malformed one, yielding its error.
func blockedPackets(data []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for off := 0; off < len(data); {
			n, err := PacketLen(data[off:])
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(data[off:off+n], nil) {
				return
			}
			off += n
		}
	}
}

// PacketLen returns the total length of the space packet at the start of b.
func PacketLen(b []byte) (int, error) {
	if len(b) < SpacePacketHeaderLen {
		return 0, fmt.Errorf("%w: %d trailing bytes", ErrResidualData, len(b))
	}
	n := int(binary.BigEndian.Uint16(b[4:6])) + SpacePacketHeaderLen + 1
	if n > MaxPacketSize {
		return 0, fmt.Errorf("%w: declared %d bytes", ErrContentTooLarge, n)
	}
	if n > len(b) {
		return 0, fmt.Errorf("%w: declared %d, remaining %d", ErrDataCorrupted, n, len(b))
	}
	return n, nil
}
