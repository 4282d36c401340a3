package link

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/tclink/internal/tc/clcw"
	"github.com/danmuck/tclink/internal/tc/farm"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/danmuck/tclink/internal/tc/vchan"
	"github.com/rs/zerolog/log"
)

// MaxVirtualChannelID is the largest VCID the 6-bit header field holds.
const MaxVirtualChannelID = 63

var (
	ErrAlreadyExists     = errors.New("link: virtual channel already exists")
	ErrInvalidVCID       = errors.New("link: virtual channel id out of range")
	ErrNoVirtualChannels = errors.New("link: no virtual channel registered")
	ErrNotInitialized    = errors.New("link: not initialized")
)

// Result describes what happened to one processed frame. Fields other than
// Ignored are only meaningful once the frame passed format validation.
type Result struct {
	VCID           uint8
	MapID          uint8
	Type           frame.Type
	SequenceNumber uint8
	Outcome        farm.Outcome
	// Ignored is set for frames addressed to a virtual channel this layer
	// does not own.
	Ignored bool
	// Reported is set once FARM-1 produced Outcome.
	Reported bool
}

type Option func(*Layer)

// WithCRC enables or disables FECF verification. It is enabled by default.
func WithCRC(verify bool) Option {
	return func(l *Layer) {
		l.cfg.VerifyCRC = verify
	}
}

// WithReport installs a hook receiving the CLCW after every processed frame.
// The hook runs on the reception path and must not block.
func WithReport(fn func(word uint32)) Option {
	return func(l *Layer) {
		l.report = fn
	}
}

// Layer is the TC data link layer receiver. It owns its virtual channels and
// is driven synchronously from one reception task; it does no locking.
type Layer struct {
	clcw        *clcw.Register
	startSeqLen int
	cfg         frame.Config
	channels    map[uint8]*vchan.Channel
	order       []uint8
	initialized bool
	report      func(uint32)
}

// New creates a layer that strips startSequenceLength leading bytes from
// every received buffer and accepts frames for spacecraftID. reg is the CLCW
// the layer reports into.
func New(reg *clcw.Register, startSequenceLength int, spacecraftID uint16, opts ...Option) *Layer {
	if reg == nil {
		reg = clcw.New()
	}
	if startSequenceLength < 0 {
		startSequenceLength = 0
	}
	l := &Layer{
		clcw:        reg,
		startSeqLen: startSequenceLength,
		cfg:         frame.Config{SpacecraftID: spacecraftID, VerifyCRC: true},
		channels:    make(map[uint8]*vchan.Channel),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddVirtualChannel registers ch under vcid. It must be called before Initialize.
func (l *Layer) AddVirtualChannel(vcid uint8, ch *vchan.Channel) error {
	if vcid > MaxVirtualChannelID {
		return fmt.Errorf("%w: %d", ErrInvalidVCID, vcid)
	}
	if _, ok := l.channels[vcid]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyExists, vcid)
	}
	l.channels[vcid] = ch
	l.order = append(l.order, vcid)
	return nil
}

// Initialize checks the configuration and seeds the CLCW VCID from the first
// registered virtual channel.
func (l *Layer) Initialize() error {
	if len(l.order) == 0 {
		return ErrNoVirtualChannels
	}
	l.clcw.SetVirtualChannel(l.order[0])
	l.initialized = true
	log.Info().
		Uint16("scid", l.cfg.SpacecraftID).
		Int("virtual_channels", len(l.order)).
		Bool("verify_crc", l.cfg.VerifyCRC).
		Msg("tc data link layer initialized")
	return nil
}

// ProcessFrame delimits, validates, and dispatches one received buffer.
// Frames for unknown virtual channels are ignored without error.
func (l *Layer) ProcessFrame(buf []byte) (Result, error) {
	if !l.initialized {
		return Result{}, ErrNotInitialized
	}
	defer l.publish()

	if len(buf) < l.startSeqLen+frame.PrimaryHeaderLen {
		return Result{}, frame.ErrShorterThanHeader
	}
	v, err := frame.Parse(buf[l.startSeqLen:], l.cfg)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		VCID:           v.VirtualChannelID(),
		MapID:          v.MapID(),
		Type:           v.Type(),
		SequenceNumber: v.SequenceNumber(),
	}
	ch, ok := l.channels[res.VCID]
	if !ok {
		res.Ignored = true
		log.Debug().Uint8("vcid", res.VCID).Msg("frame for unowned virtual channel")
		return res, nil
	}

	out, err := ch.FrameAcceptanceAndReporting(v, l.clcw)
	if errors.Is(err, farm.ErrIllegalBcCommand) || errors.Is(err, vchan.ErrIllegalFrameType) {
		return res, err
	}
	res.Outcome = out
	res.Reported = true
	return res, err
}

// ReleaseBuffers delivers the buffer release signal to every channel. Only
// channels whose status changed report into the CLCW.
func (l *Layer) ReleaseBuffers() {
	changed := false
	for _, vcid := range l.order {
		if l.channels[vcid].ReleaseBuffer(l.clcw) {
			changed = true
		}
	}
	if changed {
		l.publish()
	}
}

// ReleaseBuffer delivers the buffer release signal to one channel. It
// returns false when vcid is not registered.
func (l *Layer) ReleaseBuffer(vcid uint8) bool {
	ch, ok := l.channels[vcid]
	if !ok {
		return false
	}
	if ch.ReleaseBuffer(l.clcw) {
		l.publish()
	}
	return true
}

func (l *Layer) Channel(vcid uint8) (*vchan.Channel, bool) {
	ch, ok := l.channels[vcid]
	return ch, ok
}

// Channels returns snapshots of every channel ordered by VCID.
func (l *Layer) Channels() []vchan.Snapshot {
	out := make([]vchan.Snapshot, 0, len(l.channels))
	for _, ch := range l.channels {
		out = append(out, ch.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *Layer) CLCW() *clcw.Register {
	return l.clcw
}

func (l *Layer) SpacecraftID() uint16 {
	return l.cfg.SpacecraftID
}

func (l *Layer) publish() {
	if l.report != nil {
		l.report(l.clcw.Whole())
	}
}
