// Package clcw implements the Command Link Control Word reported back to the
// ground on every downlink.
package clcw

import (
	"encoding/binary"
	"fmt"
)

// DefaultStatus is the status byte every CLCW starts from: control word type
// 0, version 00, status field 000, COP-1 in effect.
const DefaultStatus uint8 = 0b00000001

const (
	vcidShift = 18
	vcidMask  = uint32(0x3f) << vcidShift

	noRFBit       = uint32(1) << 15
	noBitLockBit  = uint32(1) << 14
	lockoutBit    = uint32(1) << 13
	waitBit       = uint32(1) << 12
	retransmitBit = uint32(1) << 11

	farmBShift = 9
	farmBMask  = uint32(0x03) << farmBShift

	vrMask = uint32(0xff)
)

// Register is the 32-bit CLCW. The zero value is not a valid CLCW; use New.
//
// Register performs no synchronization. A copy shared with another task must
// be guarded by the owner, or published as a snapshot of Whole.
type Register struct {
	word uint32
}

func New() *Register {
	return &Register{word: uint32(DefaultStatus) << 24}
}

func (r *Register) Whole() uint32 {
	return r.word
}

func (r *Register) SetWhole(word uint32) {
	r.word = word
}

// Bytes returns the CLCW in transmission (big-endian) order.
func (r *Register) Bytes() [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], r.word)
	return out
}

func (r *Register) Status() uint8 {
	return uint8(r.word >> 24)
}

func (r *Register) VirtualChannel() uint8 {
	return uint8((r.word & vcidMask) >> vcidShift)
}

func (r *Register) SetVirtualChannel(vcid uint8) {
	r.word = (r.word &^ vcidMask) | (uint32(vcid)<<vcidShift)&vcidMask
}

// RFAvailable reports the inverse of the no-RF-available flag.
func (r *Register) RFAvailable() bool {
	return r.word&noRFBit == 0
}

func (r *Register) SetRFAvailable(available bool) {
	r.setFlag(noRFBit, !available)
}

// BitLock reports the inverse of the no-bit-lock flag.
func (r *Register) BitLock() bool {
	return r.word&noBitLockBit == 0
}

func (r *Register) SetBitLock(locked bool) {
	r.setFlag(noBitLockBit, !locked)
}

func (r *Register) Lockout() bool {
	return r.word&lockoutBit != 0
}

func (r *Register) SetLockoutFlag(on bool) {
	r.setFlag(lockoutBit, on)
}

func (r *Register) Wait() bool {
	return r.word&waitBit != 0
}

func (r *Register) SetWaitFlag(on bool) {
	r.setFlag(waitBit, on)
}

func (r *Register) Retransmit() bool {
	return r.word&retransmitBit != 0
}

func (r *Register) SetRetransmitFlag(on bool) {
	r.setFlag(retransmitBit, on)
}

func (r *Register) FarmBCount() uint8 {
	return uint8((r.word & farmBMask) >> farmBShift)
}

// SetFarmBCount stores the two least significant bits of count.
func (r *Register) SetFarmBCount(count uint8) {
	r.word = (r.word &^ farmBMask) | (uint32(count)<<farmBShift)&farmBMask
}

func (r *Register) ReceiverFrameSequenceNumber() uint8 {
	return uint8(r.word & vrMask)
}

func (r *Register) SetReceiverFrameSequenceNumber(vr uint8) {
	r.word = (r.word &^ vrMask) | uint32(vr)
}

func (r *Register) String() string {
	return fmt.Sprintf("clcw{vcid=%d lockout=%t wait=%t retransmit=%t farm_b=%d vr=%d}",
		r.VirtualChannel(), r.Lockout(), r.Wait(), r.Retransmit(), r.FarmBCount(), r.ReceiverFrameSequenceNumber())
}

func (r *Register) setFlag(bit uint32, on bool) {
	if on {
		r.word |= bit
		return
	}
	r.word &^= bit
}
