package vchan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/tclink/internal/store"
	"github.com/danmuck/tclink/internal/tc/clcw"
	"github.com/danmuck/tclink/internal/tc/farm"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/danmuck/tclink/internal/tc/mapx"
	"github.com/rs/zerolog/log"
)

// MaxMapID is the largest MAP identifier the 6-bit segment header field holds.
const MaxMapID = 63

var (
	ErrMapAlreadyExists = errors.New("vchan: map channel already exists")
	ErrInvalidMapID     = errors.New("vchan: map id out of range")
	ErrIllegalFrameType = errors.New("vchan: illegal frame type")
)

// Channel is one virtual channel: a FARM-1 instance and its MAP extractors.
//
// A Channel is driven from a single reception path and is not safe for
// concurrent use.
type Channel struct {
	id     uint8
	window farm.Window
	status farm.Status
	mirror *clcw.Register
	maps   map[uint8]*mapx.Extractor
	ready  func(need int) bool

	unrouted uint64
}

// New creates a channel whose sliding window of width slidingWindowWidth is
// split evenly into positive and negative halves.
func New(channelID uint8, slidingWindowWidth uint8) (*Channel, error) {
	window, err := farm.NewWindow(slidingWindowWidth)
	if err != nil {
		return nil, err
	}
	mirror := clcw.New()
	mirror.SetVirtualChannel(channelID)
	return &Channel{
		id:     channelID,
		window: window,
		mirror: mirror,
		maps:   make(map[uint8]*mapx.Extractor),
	}, nil
}

func (c *Channel) ID() uint8 {
	return c.id
}

func (c *Channel) Window() farm.Window {
	return c.window
}

func (c *Channel) Status() farm.Status {
	return c.status
}

// CLCW returns the channel's internal CLCW mirror.
func (c *Channel) CLCW() *clcw.Register {
	return c.mirror
}

func (c *Channel) AddMapChannel(mapID uint8, ext *mapx.Extractor) error {
	if mapID > MaxMapID {
		return fmt.Errorf("%w: %d", ErrInvalidMapID, mapID)
	}
	if _, ok := c.maps[mapID]; ok {
		return fmt.Errorf("%w: vc=%d map=%d", ErrMapAlreadyExists, c.id, mapID)
	}
	c.maps[mapID] = ext
	return nil
}

// SetReadiness installs the check FARM-1 uses to decide whether an
// in-sequence frame can be taken. fn receives the number of packets the frame
// would complete and must report whether all of them can be stored and queued.
// A nil fn means buffers are always available.
func (c *Channel) SetReadiness(fn func(need int) bool) {
	c.ready = fn
}

// FrameAcceptanceAndReporting runs FARM-1 on a validated frame, reports the
// result into out, and demultiplexes accepted data frames to their MAP
// channel. The CLCW is refreshed even when the frame is rejected.
//
// A returned error comes either from an undecodable frame (the outcome is
// then meaningless) or from MAP extraction after the frame was accepted.
func (c *Channel) FrameAcceptanceAndReporting(v frame.View, out *clcw.Register) (farm.Outcome, error) {
	var (
		next    farm.Status
		outcome farm.Outcome
	)
	switch v.Type() {
	case frame.TypeAD:
		next, outcome = farm.HandleAD(c.status, c.window, v.SequenceNumber(), c.bufferAvailable(v))
	case frame.TypeBD:
		next, outcome = farm.HandleBD(c.status)
	case frame.TypeBC:
		cmd, err := farm.DecodeBC(v.Data())
		if err != nil {
			c.report(out)
			return outcome, err
		}
		next, outcome = farm.HandleBC(c.status, cmd)
	default:
		c.report(out)
		return outcome, ErrIllegalFrameType
	}

	prev := c.status.State
	c.status = next
	c.report(out)

	event := log.Debug()
	if prev != next.State {
		event = log.Info()
	}
	event.
		Uint8("vcid", c.id).
		Stringer("type", v.Type()).
		Uint8("ns", v.SequenceNumber()).
		Uint8("vr", next.VR).
		Stringer("outcome", outcome).
		Stringer("state", next.State).
		Msg("farm")

	if outcome.Forward() {
		if err := c.MapDemultiplexing(v); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// MapDemultiplexing routes the frame to the extractor registered for its MAP
// ID. Frames for MAP IDs this channel does not own are dropped silently.
func (c *Channel) MapDemultiplexing(v frame.View) error {
	ext, ok := c.maps[v.MapID()]
	if !ok {
		c.unrouted++
		log.Debug().Uint8("vcid", c.id).Uint8("map_id", v.MapID()).Msg("frame for unowned map id")
		return nil
	}
	if err := ext.ExtractPackets(v); err != nil {
		return fmt.Errorf("vc %d map %d: %w", c.id, v.MapID(), err)
	}
	return nil
}

// ReleaseBuffer signals that the delivery path can take packets again. It
// reports into out only when the signal changed the channel's status, so a
// release on an idle channel never overwrites another channel's report. It
// returns whether the status changed.
func (c *Channel) ReleaseBuffer(out *clcw.Register) bool {
	prev := c.status
	c.status = farm.HandleBufferRelease(c.status)
	if prev == c.status {
		return false
	}
	c.report(out)
	log.Info().Uint8("vcid", c.id).Stringer("state", c.status.State).Msg("farm buffer released")
	return true
}

func (c *Channel) bufferAvailable(v frame.View) bool {
	if c.ready == nil {
		return true
	}
	need := 0
	if ext, ok := c.maps[v.MapID()]; ok {
		need = ext.PacketsToDeliver(v)
	}
	return c.ready(need)
}

func (c *Channel) report(out *clcw.Register) {
	c.status.WriteCLCW(c.mirror)
	if out == nil {
		return
	}
	c.status.WriteCLCW(out)
	out.SetVirtualChannel(c.id)
}

// MapSnapshot describes one MAP extractor.
type MapSnapshot struct {
	MapID       uint8          `json:"map_id"`
	Destination store.ObjectID `json:"destination"`
	Pending     int            `json:"pending_bytes"`
	InProgress  bool           `json:"in_progress"`
}

// Snapshot is a point-in-time copy of the channel's reportable state.
type Snapshot struct {
	ID           uint8         `json:"vcid"`
	State        string        `json:"state"`
	VR           uint8         `json:"vr"`
	FarmBCounter uint8         `json:"farm_b_counter"`
	Lockout      bool          `json:"lockout"`
	Wait         bool          `json:"wait"`
	Retransmit   bool          `json:"retransmit"`
	WindowWidth  int           `json:"window_width"`
	Unrouted     uint64        `json:"unrouted_frames"`
	Maps         []MapSnapshot `json:"maps"`
}

func (c *Channel) Snapshot() Snapshot {
	maps := make([]MapSnapshot, 0, len(c.maps))
	for id, ext := range c.maps {
		maps = append(maps, MapSnapshot{
			MapID:       id,
			Destination: ext.Destination(),
			Pending:     ext.Pending(),
			InProgress:  ext.InProgress(),
		})
	}
	sort.Slice(maps, func(i, j int) bool {
		return maps[i].MapID < maps[j].MapID
	})
	return Snapshot{
		ID:           c.id,
		State:        c.status.State.String(),
		VR:           c.status.VR,
		FarmBCounter: c.status.FarmBCounter,
		Lockout:      c.status.Lockout,
		Wait:         c.status.Wait,
		Retransmit:   c.status.Retransmit,
		WindowWidth:  c.window.Width(),
		Unrouted:     c.unrouted,
		Maps:         maps,
	}
}
