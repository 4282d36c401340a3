package uplink

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/danmuck/tclink/internal/observability"
	"github.com/danmuck/tclink/internal/tc/farm"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/danmuck/tclink/internal/tc/link"
	"github.com/danmuck/tclink/internal/tc/mapx"
	"github.com/danmuck/tclink/internal/tc/vchan"
	"github.com/rs/zerolog/log"
)

type receptionStats struct {
	frames    atomic.Uint64
	rejected  atomic.Uint64
	delivered atomic.Uint64
}

func (s *Service) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case buf := <-s.frames:
			_, _ = s.Receive(buf)
		}
	}
}

// Receive runs one buffer through the link layer and records the result.
// It is the only path into ProcessFrame.
func (s *Service) Receive(buf []byte) (link.Result, error) {
	s.mu.Lock()
	res, err := s.layer.ProcessFrame(buf)
	s.mu.Unlock()

	s.stats.frames.Add(1)
	switch {
	case res.Reported:
		observability.RecordFrame(res.VCID, res.Type.String(), res.Outcome.String())
		if !res.Outcome.Forward() {
			s.stats.rejected.Add(1)
		}
		if err != nil {
			observability.RecordReassemblyError(res.VCID, res.MapID, errorReason(err))
			log.Warn().Err(err).Uint8("vcid", res.VCID).Uint8("map_id", res.MapID).Msg("packet extraction failed")
		}
	case res.Ignored:
		observability.RecordIgnoredFrame()
	case err != nil:
		s.stats.rejected.Add(1)
		observability.RecordFrameError(errorReason(err))
		log.Debug().Err(err).Int("len", len(buf)).Msg("frame dropped")
	}
	return res, err
}

func errorReason(err error) string {
	reasons := []struct {
		target error
		reason string
	}{
		{frame.ErrShorterThanHeader, "shorter_than_header"},
		{frame.ErrWrongVersion, "wrong_version"},
		{frame.ErrWrongSpacecraftID, "wrong_spacecraft_id"},
		{frame.ErrNoValidFrameType, "no_valid_frame_type"},
		{frame.ErrTooShort, "too_short"},
		{frame.ErrCRCFailed, "crc_failed"},
		{farm.ErrIllegalBcCommand, "illegal_bc_command"},
		{vchan.ErrIllegalFrameType, "illegal_frame_type"},
		{mapx.ErrIllegalSegmentationFlag, "illegal_segmentation_flag"},
		{mapx.ErrContentTooLarge, "content_too_large"},
		{mapx.ErrDataCorrupted, "data_corrupted"},
		{mapx.ErrResidualData, "residual_data"},
		{mapx.ErrDeliveryFailed, "delivery_failed"},
		{link.ErrNotInitialized, "not_initialized"},
	}
	for _, r := range reasons {
		if errors.Is(err, r.target) {
			return r.reason
		}
	}
	return "other"
}
