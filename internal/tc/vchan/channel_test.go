package vchan

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/tclink/internal/store"
	"github.com/danmuck/tclink/internal/tc/clcw"
	"github.com/danmuck/tclink/internal/tc/farm"
	"github.com/danmuck/tclink/internal/tc/frame"
	"github.com/danmuck/tclink/internal/tc/mapx"
	"github.com/danmuck/tclink/internal/testutil/testlog"
)

const testSCID uint16 = 0x7f

func mustView(t *testing.T, h frame.Header, data []byte) frame.View {
	t.Helper()
	h.SpacecraftID = testSCID
	raw, err := frame.Build(h, data)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	v, err := frame.Parse(raw, frame.Config{SpacecraftID: testSCID, VerifyCRC: true})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return v
}

func adFrame(t *testing.T, vcid, seq, mapID uint8, data []byte) frame.View {
	return mustView(t, frame.Header{VirtualChannelID: vcid, SequenceNumber: seq, SeqFlag: frame.NoSegmentation, MapID: mapID}, data)
}

func bcFrame(t *testing.T, vcid uint8, cmd farm.BcCommand) frame.View {
	return mustView(t, frame.Header{Bypass: true, ControlCommand: true, VirtualChannelID: vcid}, cmd.Bytes())
}

func packet(body ...byte) []byte {
	return append([]byte{0x18, 0x01, 0xc0, 0x00, 0x00, byte(len(body) - 1)}, body...)
}

func newChannel(t *testing.T, id, width uint8, q *store.Queue) *Channel {
	t.Helper()
	ch, err := New(id, width)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if q != nil {
		if err := ch.AddMapChannel(0, mapx.New(0, 0x100, store.NewPool(16, mapx.MaxPacketSize), q)); err != nil {
			t.Fatalf("add map: %v", err)
		}
	}
	return ch
}

func TestNewRejectsInvalidWindow(t *testing.T) {
	for _, width := range []uint8{0, 3, 255} {
		if _, err := New(1, width); !errors.Is(err, farm.ErrInvalidWindowWidth) {
			t.Fatalf("width %d: expected ErrInvalidWindowWidth, got %v", width, err)
		}
	}
}

func TestAddMapChannel(t *testing.T) {
	ch := newChannel(t, 1, 10, store.NewQueue(1))
	ext := mapx.New(0, 1, store.NewPool(1, 16), store.NewQueue(1))
	if err := ch.AddMapChannel(0, ext); !errors.Is(err, ErrMapAlreadyExists) {
		t.Fatalf("expected ErrMapAlreadyExists, got %v", err)
	}
	if err := ch.AddMapChannel(64, ext); !errors.Is(err, ErrInvalidMapID) {
		t.Fatalf("expected ErrInvalidMapID, got %v", err)
	}
}

func TestSequenceScenario(t *testing.T) {
	testlog.Start(t)
	q := store.NewQueue(8)
	ch := newChannel(t, 3, 10, q)
	reg := clcw.New()

	steps := []struct {
		seq     uint8
		outcome farm.Outcome
		vr      uint8
		state   farm.State
	}{
		{seq: 0, outcome: farm.OutcomeAccept, vr: 1, state: farm.StateOpen},
		{seq: 3, outcome: farm.OutcomeNsPositiveWindow, vr: 1, state: farm.StateOpen},
		{seq: 1, outcome: farm.OutcomeAccept, vr: 2, state: farm.StateOpen},
		{seq: 250, outcome: farm.OutcomeNsLockout, vr: 2, state: farm.StateLockout},
		{seq: 2, outcome: farm.OutcomeFarmInLockout, vr: 2, state: farm.StateLockout},
	}
	for i, step := range steps {
		out, err := ch.FrameAcceptanceAndReporting(adFrame(t, 3, step.seq, 0, packet(byte(i))), reg)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if out != step.outcome {
			t.Fatalf("step %d: expected %v, got %v", i, step.outcome, out)
		}
		if ch.Status().VR != step.vr || ch.Status().State != step.state {
			t.Fatalf("step %d: unexpected status %+v", i, ch.Status())
		}
		if reg.ReceiverFrameSequenceNumber() != step.vr || reg.VirtualChannel() != 3 {
			t.Fatalf("step %d: clcw not refreshed: %s", i, reg)
		}
		testlog.Logf("vchan/scenario: step=%d seq=%d outcome=%s", i, step.seq, out)
	}
	if !reg.Lockout() || !ch.CLCW().Lockout() {
		t.Fatalf("lockout flag missing from clcw")
	}
	if q.Len() != 2 {
		t.Fatalf("expected two accepted packets delivered, got %d", q.Len())
	}

	out, err := ch.FrameAcceptanceAndReporting(bcFrame(t, 3, farm.Unlock()), reg)
	if err != nil || out != farm.OutcomeBcUnlock {
		t.Fatalf("unlock: %v %v", out, err)
	}
	if ch.Status().State != farm.StateOpen || reg.Lockout() || reg.FarmBCount() != 1 {
		t.Fatalf("unlock did not reopen: %+v %s", ch.Status(), reg)
	}

	out, _ = ch.FrameAcceptanceAndReporting(adFrame(t, 3, 2, 0, packet(9)), reg)
	if out != farm.OutcomeAccept || reg.ReceiverFrameSequenceNumber() != 3 {
		t.Fatalf("expected accept after unlock, got %v %s", out, reg)
	}
}

func TestRetransmitFlagClearedOnAccept(t *testing.T) {
	ch := newChannel(t, 1, 10, store.NewQueue(8))
	reg := clcw.New()
	_, _ = ch.FrameAcceptanceAndReporting(adFrame(t, 1, 2, 0, packet(1)), reg)
	if !reg.Retransmit() {
		t.Fatalf("expected retransmit flag after gap")
	}
	_, _ = ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, packet(1)), reg)
	if reg.Retransmit() {
		t.Fatalf("expected retransmit cleared by in-sequence frame")
	}
}

func TestDuplicateLeavesCLCWUnchanged(t *testing.T) {
	ch := newChannel(t, 1, 10, store.NewQueue(8))
	reg := clcw.New()
	_, _ = ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, packet(1)), reg)
	before := reg.Whole()
	out, _ := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, packet(1)), reg)
	if out != farm.OutcomeNsNegativeWindow {
		t.Fatalf("expected duplicate, got %v", out)
	}
	if reg.Whole() != before {
		t.Fatalf("duplicate changed clcw: %#08x -> %#08x", before, reg.Whole())
	}
}

func TestSetVRAndBDFrames(t *testing.T) {
	q := store.NewQueue(8)
	ch := newChannel(t, 4, 10, q)
	reg := clcw.New()

	out, err := ch.FrameAcceptanceAndReporting(bcFrame(t, 4, farm.SetVR(77)), reg)
	if err != nil || out != farm.OutcomeBcSetVR || ch.Status().VR != 77 {
		t.Fatalf("set vr: %v %v %+v", out, err, ch.Status())
	}
	if q.Len() != 0 {
		t.Fatalf("control frame must not reach map demultiplexing")
	}

	bd := mustView(t, frame.Header{Bypass: true, VirtualChannelID: 4, SequenceNumber: 3, SeqFlag: frame.NoSegmentation}, packet(5))
	out, err = ch.FrameAcceptanceAndReporting(bd, reg)
	if err != nil || out != farm.OutcomeBdAccept {
		t.Fatalf("bd: %v %v", out, err)
	}
	if q.Len() != 1 || reg.FarmBCount() != 2 || ch.Status().VR != 77 {
		t.Fatalf("unexpected state after bd: queue=%d %s", q.Len(), reg)
	}
}

func TestIllegalBCCommandStillReports(t *testing.T) {
	ch := newChannel(t, 2, 10, nil)
	reg := clcw.New()
	v := mustView(t, frame.Header{Bypass: true, ControlCommand: true, VirtualChannelID: 2}, []byte{0x55})
	if _, err := ch.FrameAcceptanceAndReporting(v, reg); !errors.Is(err, farm.ErrIllegalBcCommand) {
		t.Fatalf("expected ErrIllegalBcCommand, got %v", err)
	}
	if reg.VirtualChannel() != 2 || ch.Status().FarmBCounter != 0 {
		t.Fatalf("unexpected report: %s", reg)
	}
}

func TestUnknownMapIsSilent(t *testing.T) {
	q := store.NewQueue(8)
	ch := newChannel(t, 1, 10, q)
	out, err := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 9, packet(1)), clcw.New())
	if err != nil || out != farm.OutcomeAccept {
		t.Fatalf("unexpected result: %v %v", out, err)
	}
	if q.Len() != 0 || ch.Snapshot().Unrouted != 1 {
		t.Fatalf("frame for unknown map must be dropped silently")
	}
}

func TestExtractionErrorKeepsAcceptance(t *testing.T) {
	ch := newChannel(t, 1, 10, store.NewQueue(8))
	reg := clcw.New()
	out, err := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, []byte{1, 2, 3}), reg)
	if out != farm.OutcomeAccept || !errors.Is(err, mapx.ErrResidualData) {
		t.Fatalf("expected accept with residual data error, got %v %v", out, err)
	}
	if reg.ReceiverFrameSequenceNumber() != 1 {
		t.Fatalf("vr must advance even when extraction fails")
	}
}

func TestWaitOnFullQueueAndRelease(t *testing.T) {
	testlog.Start(t)
	q := store.NewQueue(1)
	ch := newChannel(t, 1, 10, q)
	ch.SetReadiness(q.HasRoom)
	reg := clcw.New()

	if out, _ := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, packet(1)), reg); out != farm.OutcomeAccept {
		t.Fatalf("expected first frame accepted, got %v", out)
	}
	out, _ := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 1, 0, packet(2)), reg)
	if out != farm.OutcomeFarmInWait || !reg.Wait() || ch.Status().VR != 1 {
		t.Fatalf("expected wait on full queue, got %v %s", out, reg)
	}

	if _, err := q.Receive(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	ch.ReleaseBuffer(reg)
	if reg.Wait() || ch.Status().State != farm.StateOpen {
		t.Fatalf("release did not reopen: %s", reg)
	}
	if out, _ := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 1, 0, packet(2)), reg); out != farm.OutcomeAccept {
		t.Fatalf("expected retransmitted frame accepted, got %v", out)
	}
}

func TestSnapshot(t *testing.T) {
	ch := newChannel(t, 6, 20, store.NewQueue(1))
	snap := ch.Snapshot()
	if snap.ID != 6 || snap.WindowWidth != 20 || snap.State != "open" || len(snap.Maps) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestWaitWhenFrameNeedsMoreRoomThanAvailable(t *testing.T) {
	q := store.NewQueue(1)
	ch := newChannel(t, 1, 10, q)
	ch.SetReadiness(q.HasRoom)
	reg := clcw.New()

	two := append(packet(1), packet(2)...)
	out, err := ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, two), reg)
	if err != nil || out != farm.OutcomeFarmInWait {
		t.Fatalf("expected wait for two packets with room for one, got %v %v", out, err)
	}
	if ch.Status().VR != 0 || q.Len() != 0 || !reg.Wait() {
		t.Fatalf("frame must be discarded without advancing v(r): %+v queue=%d", ch.Status(), q.Len())
	}

	ch.ReleaseBuffer(reg)
	out, err = ch.FrameAcceptanceAndReporting(adFrame(t, 1, 0, 0, packet(1)), reg)
	if err != nil || out != farm.OutcomeAccept {
		t.Fatalf("single packet frame must fit: %v %v", out, err)
	}
}

func TestReleaseOnIdleChannelLeavesCLCW(t *testing.T) {
	ch := newChannel(t, 5, 10, store.NewQueue(4))
	reg := clcw.New()
	reg.SetVirtualChannel(2)
	reg.SetReceiverFrameSequenceNumber(9)
	before := reg.Whole()
	if ch.ReleaseBuffer(reg) {
		t.Fatalf("release on open channel reported a change")
	}
	if reg.Whole() != before {
		t.Fatalf("idle release overwrote clcw: %#08x -> %#08x", before, reg.Whole())
	}
}
