package farm

import (
	"errors"
	"fmt"
)

var ErrIllegalBcCommand = errors.New("farm: illegal control command")

type BcKind uint8

const (
	BcUnlock BcKind = iota
	BcSetVR
)

const (
	unlockCode byte = 0x00
	setVRCode0 byte = 0x82
	setVRCode1 byte = 0x00
)

const (
	unlockLen = 1
	setVRLen  = 3
)

// BcCommand is a decoded control frame data field.
type BcCommand struct {
	Kind BcKind
	VR   uint8
}

func Unlock() BcCommand {
	return BcCommand{Kind: BcUnlock}
}

func SetVR(vr uint8) BcCommand {
	return BcCommand{Kind: BcSetVR, VR: vr}
}

// DecodeBC decodes the data field of a control frame.
func DecodeBC(data []byte) (BcCommand, error) {
	switch {
	case len(data) == unlockLen && data[0] == unlockCode:
		return Unlock(), nil
	case len(data) == setVRLen && data[0] == setVRCode0 && data[1] == setVRCode1:
		return SetVR(data[2]), nil
	default:
		return BcCommand{}, fmt.Errorf("%w: % x", ErrIllegalBcCommand, data)
	}
}

// Bytes encodes c as a control frame data field.
func (c BcCommand) Bytes() []byte {
	if c.Kind == BcSetVR {
		return []byte{setVRCode0, setVRCode1, c.VR}
	}
	return []byte{unlockCode}
}

func (c BcCommand) String() string {
	if c.Kind == BcSetVR {
		return fmt.Sprintf("set_vr(%d)", c.VR)
	}
	return "unlock"
}
