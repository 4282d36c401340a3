package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/tclink/internal/backoff"
	"github.com/danmuck/tclink/internal/config"
	"github.com/danmuck/tclink/internal/logging"
	"github.com/danmuck/tclink/internal/tc/farm"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/danmuck/tclink/internal/tc/mapx"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("usage")

type options struct {
	SpacecraftID uint16
	VCID         uint8
	MapID        uint8
	Seq          uint8
	Kind         string
	Command      string
	VR           uint8
	APID         uint16
	Payload      []byte
	Count        int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tcsend: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tcsend", flag.ContinueOnError)
	var (
		addr     = fs.String("addr", "127.0.0.1"+config.DefaultListenAddr, "receiver ingest address")
		startSeq = fs.String("start-seq", hex.EncodeToString(config.DefaultStartSequence), "start sequence prepended to every frame (hex)")
		scid     = fs.Uint("scid", config.DefaultSCID, "spacecraft id")
		vcid     = fs.Uint("vcid", 0, "virtual channel id")
		mapID    = fs.Uint("map", 0, "map id")
		seq      = fs.Uint("seq", 0, "first N(S) for AD frames")
		kind     = fs.String("type", "ad", "frame type: ad|bd|bc")
		command  = fs.String("bc", "unlock", "control command for bc frames: unlock|setvr")
		vr       = fs.Uint("vr", 0, "V(R) for setvr")
		apid     = fs.Uint("apid", 0x10, "space packet apid")
		payload  = fs.String("payload", "", "packet user data (hex)")
		text     = fs.String("text", "", "packet user data (text)")
		count    = fs.Int("count", 1, "number of packets to send")
		retries  = fs.Int("retries", 5, "dial attempts before giving up (0 retries forever)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	prefix, err := hex.DecodeString(strings.TrimSpace(*startSeq))
	if err != nil {
		return fmt.Errorf("start-seq: %w", err)
	}
	body := []byte(*text)
	if *payload != "" {
		if body, err = hex.DecodeString(*payload); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	}

	frames, err := buildFrames(options{
		SpacecraftID: uint16(*scid),
		VCID:         uint8(*vcid),
		MapID:        uint8(*mapID),
		Seq:          uint8(*seq),
		Kind:         *kind,
		Command:      *command,
		VR:           uint8(*vr),
		APID:         uint16(*apid),
		Payload:      body,
		Count:        *count,
	})
	if err != nil {
		return err
	}

	var conn net.Conn
	err = backoff.Retry(context.Background(), backoff.DefaultConfig(), *retries, "dial "+*addr, func() error {
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", *addr, 5*time.Second)
		return dialErr
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	for i, raw := range frames {
		if err := frame.WriteFrame(conn, prefix, raw); err != nil {
			return err
		}
		v, _ := frame.NewView(raw)
		log.Info().
			Int("n", i).
			Stringer("type", v.Type()).
			Uint8("vcid", v.VirtualChannelID()).
			Uint8("ns", v.SequenceNumber()).
			Int("len", len(raw)).
			Msg("frame sent")
	}
	return nil
}

// buildFrames encodes the frames for one invocation. Packets larger than one
// frame are segmented with first, continuing and last portions.
func buildFrames(opts options) ([][]byte, error) {
	h := frame.Header{
		SpacecraftID:     opts.SpacecraftID,
		VirtualChannelID: opts.VCID,
		MapID:            opts.MapID,
		SequenceNumber:   opts.Seq,
	}
	switch strings.ToLower(opts.Kind) {
	case "bc":
		var cmd farm.BcCommand
		switch strings.ToLower(opts.Command) {
		case "unlock":
			cmd = farm.Unlock()
		case "setvr":
			cmd = farm.SetVR(opts.VR)
		default:
			return nil, fmt.Errorf("%w: unknown control command %q", errUsage, opts.Command)
		}
		h.Bypass = true
		h.ControlCommand = true
		h.SequenceNumber = 0
		raw, err := frame.Build(h, cmd.Bytes())
		if err != nil {
			return nil, err
		}
		return [][]byte{raw}, nil
	case "bd":
		h.Bypass = true
	case "ad":
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", errUsage, opts.Kind)
	}
	if opts.Count < 1 {
		opts.Count = 1
	}

	chunk := frame.MaxDataLen(frame.TypeAD)
	var out [][]byte
	for i := 0; i < opts.Count; i++ {
		pkt, err := spacePacket(opts.APID, uint16(i), opts.Payload)
		if err != nil {
			return nil, err
		}
		for off := 0; off < len(pkt); off += chunk {
			end := min(off+chunk, len(pkt))
			h.SeqFlag = segmentFlag(off == 0, end == len(pkt))
			raw, err := frame.Build(h, pkt[off:end])
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			if !h.Bypass {
				h.SequenceNumber++
			}
		}
	}
	return out, nil
}

func segmentFlag(first, last bool) frame.SeqFlag {
	switch {
	case first && last:
		return frame.NoSegmentation
	case first:
		return frame.FirstPortion
	case last:
		return frame.LastPortion
	default:
		return frame.ContinuingPortion
	}
}

// spacePacket wraps data in a telecommand space packet header.
func spacePacket(apid, count uint16, data []byte) ([]byte, error) {
	if len(data) == 0 {
		data = []byte{0}
	}
	size := mapx.SpacePacketHeaderLen + len(data)
	if size > mapx.MaxPacketSize {
		return nil, fmt.Errorf("%w: packet of %d bytes exceeds %d", errUsage, size, mapx.MaxPacketSize)
	}
	n := len(data) - 1
	pkt := make([]byte, 0, size)
	pkt = append(pkt,
		0x10|byte(apid>>8)&0x07, byte(apid),
		0xc0|byte(count>>8)&0x3f, byte(count),
		byte(n>>8), byte(n),
	)
	return append(pkt, data...), nil
}
