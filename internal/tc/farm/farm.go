package farm

import (
	"errors"
	"fmt"

	"github.com/danmuck/tclink/internal/tc/clcw"
)

// MaxWindowWidth is the largest sliding window FARM-1 allows.
const MaxWindowWidth = 254

var ErrInvalidWindowWidth = errors.New("farm: window width must be even and between 2 and 254")

type State uint8

const (
	StateOpen State = iota
	StateWait
	StateLockout
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateWait:
		return "wait"
	case StateLockout:
		return "lockout"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Outcome is the protocol result of handling one frame. Outcomes are not
// errors: they are reflected into the CLCW and returned for counting.
type Outcome uint8

const (
	OutcomeAccept Outcome = iota
	OutcomeBdAccept
	OutcomeNsPositiveWindow
	OutcomeNsNegativeWindow
	OutcomeNsLockout
	OutcomeFarmInLockout
	OutcomeFarmInWait
	OutcomeBcUnlock
	OutcomeBcSetVR
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccept:
		return "accept"
	case OutcomeBdAccept:
		return "bd_accept"
	case OutcomeNsPositiveWindow:
		return "ns_positive_window"
	case OutcomeNsNegativeWindow:
		return "ns_negative_window"
	case OutcomeNsLockout:
		return "ns_lockout"
	case OutcomeFarmInLockout:
		return "farm_in_lockout"
	case OutcomeFarmInWait:
		return "farm_in_wait"
	case OutcomeBcUnlock:
		return "bc_unlock"
	case OutcomeBcSetVR:
		return "bc_set_vr"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Forward reports whether the frame's data must go on to MAP demultiplexing.
func (o Outcome) Forward() bool {
	return o == OutcomeAccept || o == OutcomeBdAccept
}

// Status is the FARM-1 state of one virtual channel together with the
// counters and flags it reports through the CLCW.
type Status struct {
	State        State
	VR           uint8
	FarmBCounter uint8
	Lockout      bool
	Wait         bool
	Retransmit   bool
}

// WriteCLCW copies the reported fields of s into r.
func (s Status) WriteCLCW(r *clcw.Register) {
	r.SetLockoutFlag(s.Lockout)
	r.SetWaitFlag(s.Wait)
	r.SetRetransmitFlag(s.Retransmit)
	r.SetFarmBCount(s.FarmBCounter)
	r.SetReceiverFrameSequenceNumber(s.VR)
}

// Window is the sliding window split into its positive and negative halves.
type Window struct {
	Positive int
	Negative int
}

func NewWindow(width uint8) (Window, error) {
	if width == 0 || width%2 != 0 || width > MaxWindowWidth {
		return Window{}, fmt.Errorf("%w: %d", ErrInvalidWindowWidth, width)
	}
	half := int(width) / 2
	return Window{Positive: half, Negative: half}, nil
}

func (w Window) Width() int {
	return w.Positive + w.Negative
}

// contains reports whether diff lies in the positive or negative window or on V(R).
func (w Window) contains(diff int) bool {
	return diff >= -w.Negative && diff < w.Positive
}

// HandleAD runs the acceptance test for a type-A data frame carrying N(S)=ns.
// bufferAvailable reports whether the delivery path can take another packet.
func HandleAD(s Status, w Window, ns uint8, bufferAvailable bool) (Status, Outcome) {
	diff := int(int8(ns - s.VR))

	switch s.State {
	case StateLockout:
		return s, OutcomeFarmInLockout
	case StateWait:
		if w.contains(diff) {
			return s, OutcomeFarmInWait
		}
		return enterLockout(s), OutcomeNsLockout
	}

	switch {
	case diff == 0:
		if !bufferAvailable {
			s.State = StateWait
			s.Wait = true
			s.Retransmit = true
			return s, OutcomeFarmInWait
		}
		s.VR++
		s.Retransmit = false
		return s, OutcomeAccept
	case diff > 0 && diff < w.Positive:
		s.Retransmit = true
		return s, OutcomeNsPositiveWindow
	case diff < 0 && diff >= -w.Negative:
		return s, OutcomeNsNegativeWindow
	default:
		return enterLockout(s), OutcomeNsLockout
	}
}

// HandleBD accepts a type-B data frame unconditionally.
func HandleBD(s Status) (Status, Outcome) {
	s.FarmBCounter++
	return s, OutcomeBdAccept
}

// HandleBC executes a decoded control command.
//
// Set V(R) received in Lockout is counted and reported but neither changes
// V(R) nor leaves Lockout.
func HandleBC(s Status, cmd BcCommand) (Status, Outcome) {
	s.FarmBCounter++
	switch cmd.Kind {
	case BcSetVR:
		if s.State == StateLockout {
			return s, OutcomeBcSetVR
		}
		s.Retransmit = false
		s.Wait = false
		s.VR = cmd.VR
		s.State = StateOpen
		return s, OutcomeBcSetVR
	default:
		s.Retransmit = false
		s.Lockout = false
		s.Wait = false
		s.State = StateOpen
		return s, OutcomeBcUnlock
	}
}

// HandleBufferRelease applies the buffer release signal: Wait returns to
// Open and the wait flag is cleared in every state.
func HandleBufferRelease(s Status) Status {
	s.Wait = false
	if s.State == StateWait {
		s.State = StateOpen
	}
	return s
}

func enterLockout(s Status) Status {
	s.State = StateLockout
	s.Lockout = true
	return s
}
