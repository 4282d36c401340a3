package uplink

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/tclink/internal/observability"
	"github.com/danmuck/tclink/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PacketSink receives every space packet the link layer reassembled.
type PacketSink interface {
	Deliver(dest store.ObjectID, packet []byte) error
}

type fanout []PacketSink

func (f fanout) Deliver(dest store.ObjectID, packet []byte) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Deliver(dest, packet); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PacketRecord is the housekeeping view of one delivered packet.
type PacketRecord struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	APID        uint16    `json:"apid"`
	Size        int       `json:"size"`
	Delivered   time.Time `json:"delivered"`
	Data        string    `json:"data"`
}

// RecentSink keeps the last packets delivered for inspection.
type RecentSink struct {
	mu      sync.Mutex
	limit   int
	records []PacketRecord
}

func NewRecentSink(limit int) *RecentSink {
	if limit <= 0 {
		limit = 128
	}
	return &RecentSink{limit: limit, records: make([]PacketRecord, 0, limit)}
}

func (r *RecentSink) Deliver(dest store.ObjectID, packet []byte) error {
	rec := PacketRecord{
		ID:          uuid.NewString(),
		Destination: dest.String(),
		Size:        len(packet),
		Delivered:   time.Now().UTC(),
		Data:        hex.EncodeToString(packet),
	}
	if len(packet) >= 2 {
		rec.APID = uint16(packet[0]&0x07)<<8 | uint16(packet[1])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == r.limit {
		copy(r.records, r.records[1:])
		r.records = r.records[:r.limit-1]
	}
	r.records = append(r.records, rec)
	return nil
}

// Records returns up to limit of the newest packets, oldest first.
func (r *RecentSink) Records(limit int) []PacketRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	if len(r.records) <= limit {
		out := make([]PacketRecord, len(r.records))
		copy(out, r.records)
		return out
	}
	out := make([]PacketRecord, limit)
	copy(out, r.records[len(r.records)-limit:])
	return out
}

func (s *Service) deliveryLoop(ctx context.Context) error {
	for {
		msg, err := s.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.deliver(msg)
		if s.queue.Len() == 0 {
			s.releaseBuffers()
		}
	}
}

func (s *Service) deliver(msg store.Message) {
	data, err := s.pool.Get(msg.Handle)
	if err != nil {
		log.Error().Err(err).Stringer("handle", msg.Handle).Msg("queued packet missing from store")
		return
	}
	if err := s.pool.Delete(msg.Handle); err != nil {
		log.Warn().Err(err).Stringer("handle", msg.Handle).Msg("packet store release failed")
	}
	if err := s.sink.Deliver(msg.Dest, data); err != nil {
		log.Error().Err(err).Stringer("destination", msg.Dest).Msg("packet sink failed")
		return
	}
	s.stats.delivered.Add(1)
	observability.RecordPacketDelivered(msg.Dest.String(), len(data))
	log.Debug().Stringer("destination", msg.Dest).Int("size", len(data)).Msg("packet delivered")
}

// releaseBuffers lets channels parked in Wait accept frames again.
func (s *Service) releaseBuffers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layer.ReleaseBuffers()
}
