package uplink

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/danmuck/tclink/internal/observability"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// serveIngest accepts frame streams: each connection carries back to back
// start sequence plus frame units.
func (s *Service) serveIngest(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("uplink ingest listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleIngestConn(ctx, conn)
	}
}

func (s *Service) handleIngestConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	active := s.activeConns.Add(1)
	observability.ConnectionOpened()
	log.Info().Str("conn", id).Str("remote", remote).Int64("active", active).Msg("ingest connected")
	defer func() {
		remaining := s.activeConns.Add(-1)
		observability.ConnectionClosed()
		log.Info().Str("conn", id).Str("remote", remote).Int64("active", remaining).Msg("ingest disconnected")
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	reader := bufio.NewReaderSize(conn, s.cfg.Link.StartSequenceLength+frame.MaxFrameSize)
	var count uint64
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		buf, err := frame.ReadFrame(reader, s.cfg.Link.StartSequenceLength)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				log.Debug().Str("conn", id).Uint64("frames", count).Msg("ingest stream closed")
				return
			}
			observability.RecordFrameError(errorReason(err))
			log.Warn().Str("conn", id).Err(err).Uint64("frames", count).Msg("ingest read failed")
			return
		}
		count++
		select {
		case s.frames <- buf:
		case <-ctx.Done():
			return
		}
	}
}
