package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameLen is the largest payload a single frame's length byte can
// address (a byte can encode 0..255, but 255 is reserved the way the
// original protocol reserved its encoder's worst case from the length
// prefix's top value).
const MaxFrameLen = 254

var encMode = func() cbor.EncMode {
	m, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

func init() {
	// Guard the frame format's one invariant at load time rather than
	// discovering a bigger-than-254 encoding in the field: every
	// BiCommand/BIReply value, including the worst-case Measurement +
	// Fault payload, must fit in one length-prefixed frame.
	cmd, err := EncodeCommand(BiCommand{})
	if err != nil {
		panic(err)
	}
	if len(cmd) > MaxFrameLen {
		panic(fmt.Sprintf("wire: BiCommand encoding (%d bytes) exceeds MaxFrameLen", len(cmd)))
	}
	reply, err := EncodeReply(BIReply{
		HasMeasurement: true,
		Measurement:    Measurement{VBat: 0xffff, IBat: 0xffff, T: ^uint64(0)},
		HasFault:       true,
		Fault:          Fault{Kind: FaultKind{Tag: FaultI2C, I2CKind: I2CError{Op: I2COpDieID, Kind: TiwmUnknown}}, Time: ^uint64(0)},
	})
	if err != nil {
		panic(err)
	}
	if len(reply) > MaxFrameLen {
		panic(fmt.Sprintf("wire: BIReply encoding (%d bytes) exceeds MaxFrameLen", len(reply)))
	}
}

// EncodeCommand encodes a BiCommand into its deterministic CBOR payload.
func EncodeCommand(c BiCommand) ([]byte, error) { return encMode.Marshal(c) }

// DecodeCommand decodes a BiCommand payload.
func DecodeCommand(b []byte) (BiCommand, error) {
	var c BiCommand
	err := decMode.Unmarshal(b, &c)
	return c, err
}

// EncodeReply encodes a BIReply into its deterministic CBOR payload.
func EncodeReply(r BIReply) ([]byte, error) { return encMode.Marshal(r) }

// DecodeReply decodes a BIReply payload.
func DecodeReply(b []byte) (BIReply, error) {
	var r BIReply
	err := decMode.Unmarshal(b, &r)
	return r, err
}

// EncMode exposes the deterministic encoder so other host-side wire
// formats (the IPC command channel) use the same CBOR settings rather
// than each defining their own.
func EncMode() cbor.EncMode { return encMode }

// DecMode exposes the matching decoder.
func DecMode() cbor.DecMode { return decMode }
