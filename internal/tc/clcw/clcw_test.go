package clcw

import "testing"

func TestNewCarriesDefaultStatus(t *testing.T) {
	r := New()
	if r.Whole() != 0x01000000 {
		t.Fatalf("unexpected initial word: %#08x", r.Whole())
	}
	if !r.RFAvailable() || !r.BitLock() {
		t.Fatalf("expected rf and bit lock reported available")
	}
}

func TestFieldLayout(t *testing.T) {
	r := New()
	r.SetVirtualChannel(0x2a)
	r.SetLockoutFlag(true)
	r.SetRetransmitFlag(true)
	r.SetFarmBCount(3)
	r.SetReceiverFrameSequenceNumber(0x5c)

	got := r.Bytes()
	want := [4]byte{0x01, 0x2a << 2, 0x20 | 0x08 | 0x06, 0x5c}
	if got != want {
		t.Fatalf("layout mismatch: got %x want %x", got, want)
	}
}

func TestSettersTouchOneField(t *testing.T) {
	r := New()
	r.SetWhole(0xffffffff)

	r.SetWaitFlag(false)
	if r.Whole() != 0xffffefff {
		t.Fatalf("wait clear changed other bits: %#08x", r.Whole())
	}
	r.SetRFAvailable(true)
	if r.Whole() != 0xffff6fff {
		t.Fatalf("rf set changed other bits: %#08x", r.Whole())
	}
	r.SetBitLock(true)
	if r.Whole() != 0xffff2fff {
		t.Fatalf("bit lock set changed other bits: %#08x", r.Whole())
	}
	r.SetVirtualChannel(0)
	if r.Whole() != 0xff032fff {
		t.Fatalf("vcid clear changed other bits: %#08x", r.Whole())
	}
}

func TestFarmBCountTruncatesToTwoBits(t *testing.T) {
	r := New()
	r.SetFarmBCount(7)
	if r.FarmBCount() != 3 {
		t.Fatalf("expected count masked to 3, got %d", r.FarmBCount())
	}
	r.SetFarmBCount(4)
	if r.FarmBCount() != 0 {
		t.Fatalf("expected count masked to 0, got %d", r.FarmBCount())
	}
	if r.Whole() != 0x01000000 {
		t.Fatalf("farm-b count leaked into neighbours: %#08x", r.Whole())
	}
}

func TestVirtualChannelTruncatesToSixBits(t *testing.T) {
	r := New()
	r.SetVirtualChannel(0xff)
	if r.VirtualChannel() != 0x3f {
		t.Fatalf("expected vcid masked, got %d", r.VirtualChannel())
	}
	if r.Status() != DefaultStatus {
		t.Fatalf("status byte disturbed: %#02x", r.Status())
	}
}
