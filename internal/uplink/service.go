package uplink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/tclink/internal/config"
	"github.com/danmuck/tclink/internal/observability"
	"github.com/danmuck/tclink/internal/store"
	"github.com/danmuck/tclink/internal/tc/clcw"
	"github.com/danmuck/tclink/internal/tc/link"
	"github.com/danmuck/tclink/internal/tc/mapx"
	"github.com/danmuck/tclink/internal/tc/vchan"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("uplink: invalid heartbeat interval")
	ErrIngestAddrRequired       = errors.New("uplink: ingest address required")
)

// ServiceConfig configures the receiver process.
type ServiceConfig struct {
	NodeID            string
	Link              config.LinkConfig
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	FrameBacklog      int
	RecentPackets     int
	// AdminToken guards mutating admin routes. Empty leaves them open.
	AdminToken string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID: "tclink.local",
		Link: config.ApplyLinkDefaults(config.LinkConfig{
			SpacecraftID:        config.DefaultSCID,
			StartSequenceLength: len(config.DefaultStartSequence),
			VirtualChannels: []config.VirtualChannelConfig{
				{VCID: 0, Maps: []config.MapConfig{{MapID: 0, Destination: 0x100}}},
			},
		}),
		HeartbeatInterval: 30 * time.Second,
		ReadTimeout:       2 * time.Minute,
		FrameBacklog:      64,
		RecentPackets:     128,
	}
}

// Service owns one link layer and everything feeding and draining it.
type Service struct {
	cfg     ServiceConfig
	started time.Time

	mu    sync.Mutex
	layer *link.Layer

	pool   *store.Pool
	queue  *store.Queue
	sink   PacketSink
	recent *RecentSink
	frames chan []byte
	router *gin.Engine

	clcw        atomic.Uint32
	ready       atomic.Bool
	activeConns atomic.Int64
	stats       receptionStats
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// NewServiceWithConfig builds the link layer described by cfg.Link. Packets
// are kept in the recent ring and forwarded to any extra sinks.
func NewServiceWithConfig(cfg ServiceConfig, sinks ...PacketSink) (*Service, error) {
	cfg.Link = config.ApplyLinkDefaults(cfg.Link)
	if err := config.ValidateLinkConfig(cfg.Link); err != nil {
		return nil, err
	}
	if cfg.FrameBacklog <= 0 {
		cfg.FrameBacklog = 64
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "tclink.local"
	}

	s := &Service{
		cfg:     cfg,
		started: time.Now(),
		pool:    store.NewPool(cfg.Link.StoreSlots, mapx.MaxPacketSize),
		queue:   store.NewQueue(cfg.Link.QueueDepth),
		recent:  NewRecentSink(cfg.RecentPackets),
		frames:  make(chan []byte, cfg.FrameBacklog),
	}
	s.sink = fanout(append([]PacketSink{s.recent}, sinks...))

	layer, err := BuildLayer(cfg.Link, s.pool, s.queue, link.WithReport(s.publishCLCW))
	if err != nil {
		return nil, err
	}
	s.layer = layer
	s.publishCLCW(layer.CLCW().Whole())
	s.router = s.newRouter()
	return s, nil
}

// BuildLayer assembles virtual channels and MAP extractors from cfg. A
// virtual channel enters Wait when pool or q lacks room for every packet an
// in-sequence frame would complete.
func BuildLayer(cfg config.LinkConfig, pool *store.Pool, q *store.Queue, opts ...link.Option) (*link.Layer, error) {
	opts = append([]link.Option{link.WithCRC(cfg.CRCEnabled())}, opts...)
	layer := link.New(clcw.New(), cfg.StartSequenceLength, cfg.SpacecraftID, opts...)
	for _, vc := range cfg.VirtualChannels {
		ch, err := vchan.New(vc.VCID, vc.WindowWidth)
		if err != nil {
			return nil, fmt.Errorf("virtual channel %d: %w", vc.VCID, err)
		}
		ch.SetReadiness(store.Readiness(pool, q))
		for _, m := range vc.Maps {
			ext := mapx.New(m.MapID, store.ObjectID(m.Destination), pool, q)
			if err := ch.AddMapChannel(m.MapID, ext); err != nil {
				return nil, err
			}
		}
		if err := layer.AddVirtualChannel(vc.VCID, ch); err != nil {
			return nil, err
		}
	}
	if err := layer.Initialize(); err != nil {
		return nil, err
	}
	return layer, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(s.cfg.Link.ListenAddr) == "" {
		return ErrIngestAddrRequired
	}
	ingest, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Link.ListenAddr))
	if err != nil {
		return err
	}
	var admin net.Listener
	if addr := strings.TrimSpace(s.cfg.Link.AdminAddr); addr != "" {
		admin, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ingest.Close()
			return err
		}
	}
	return s.Serve(ctx, ingest, admin)
}

// Serve runs every service task on the given listeners until ctx ends or a
// task fails. admin may be nil.
func (s *Service) Serve(ctx context.Context, ingest, admin net.Listener) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receiveLoop(ctx) })
	g.Go(func() error { return s.deliveryLoop(ctx) })
	g.Go(func() error { return s.serveIngest(ctx, ingest) })
	if admin != nil {
		g.Go(func() error { return s.serveAdmin(ctx, admin) })
	}
	g.Go(func() error { return s.heartbeat(ctx) })

	s.ready.Store(true)
	log.Info().
		Str("node", s.cfg.NodeID).
		Str("ingest", ingest.Addr().String()).
		Uint16("scid", s.cfg.Link.SpacecraftID).
		Int("virtual_channels", len(s.cfg.Link.VirtualChannels)).
		Msg("uplink service ready")

	err := g.Wait()
	s.ready.Store(false)
	log.Info().Str("node", s.cfg.NodeID).Msg("uplink service stopped")
	return err
}

func (s *Service) serveAdmin(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("uplink admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			used, capacity := s.pool.Stats()
			word := s.clcw.Load()
			log.Info().
				Str("node", s.cfg.NodeID).
				Str("clcw", fmt.Sprintf("%#08x", word)).
				Uint64("frames", s.stats.frames.Load()).
				Uint64("rejected", s.stats.rejected.Load()).
				Uint64("delivered", s.stats.delivered.Load()).
				Int("store_used", used).
				Int("store_capacity", capacity).
				Int("queue_len", s.queue.Len()).
				Int64("connections", s.activeConns.Load()).
				Msg("uplink heartbeat")
		}
	}
}

// CLCW returns the last reported control word without touching the link layer.
func (s *Service) CLCW() uint32 {
	return s.clcw.Load()
}

func (s *Service) Channels() []vchan.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layer.Channels()
}

// ReleaseBuffer forces the buffer release signal on one virtual channel.
func (s *Service) ReleaseBuffer(vcid uint8) (vchan.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.layer.ReleaseBuffer(vcid) {
		return vchan.Snapshot{}, false
	}
	ch, _ := s.layer.Channel(vcid)
	return ch.Snapshot(), true
}

func (s *Service) Recent() *RecentSink {
	return s.recent
}

func (s *Service) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Service) publishCLCW(word uint32) {
	s.clcw.Store(word)
	observability.SetCLCW(word)
}
