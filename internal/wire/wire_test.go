package wire

import (
	"bytes"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	cases := []BiCommand{
		{},
		{Load: LoadOn, Reset: ResetNo, ClearFault: ClearFaultNo, AllowUndercurrent: AllowUndercurrentYes},
		{Load: LoadOff, Reset: ResetYes, ClearFault: ClearFaultYes, AllowUndercurrent: AllowUndercurrentNo},
	}
	for _, c := range cases {
		enc, err := EncodeCommand(c)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(enc) > MaxFrameLen {
			t.Fatalf("encoded command %d bytes exceeds MaxFrameLen", len(enc))
		}
		got, err := DecodeCommand(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != c {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, c)
		}
	}
}

func TestReplyRoundTrip(t *testing.T) {
	r := BIReply{
		HasMeasurement: true,
		Measurement:    Measurement{VBat: 12000, IBat: 8400, T: 123456},
		HasFault:       true,
		Fault: Fault{
			Kind: FaultKind{Tag: FaultI2C, I2CKind: I2CError{Op: I2COpCurrent, Kind: TiwmAddressNack}},
			Time: 99,
		},
	}
	enc, err := EncodeReply(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(enc) > MaxFrameLen {
		t.Fatalf("encoded reply %d bytes exceeds MaxFrameLen", len(enc))
	}
	got, err := DecodeReply(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, r)
	}
}

func TestDecoderSplitFrame(t *testing.T) {
	cmd := BiCommand{Load: LoadOn}
	payload, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatal(err)
	}
	var frame bytes.Buffer
	if err := WriteFrame(&frame, payload); err != nil {
		t.Fatal(err)
	}
	whole := frame.Bytes()

	d := NewDecoder()
	// Feed the length byte and half the payload first: no frame yet.
	split := 1 + len(payload)/2
	if got := d.Feed(whole[:split]); len(got) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(got))
	}
	// Feed the rest, plus the start of a second, incomplete frame.
	trailing := []byte{5, 1, 2, 3}
	got := d.Feed(append(whole[split:], trailing...))
	if len(got) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(got))
	}
	decoded, err := DecodeCommand(got[0])
	if err != nil {
		t.Fatal(err)
	}
	if decoded != cmd {
		t.Fatalf("decoded mismatch: got %+v want %+v", decoded, cmd)
	}

	// The trailing partial frame (length byte 5, only 3 of 5 payload
	// bytes present) must still be pending; completing it should yield
	// exactly one more frame.
	more := d.Feed([]byte{4, 5})
	if len(more) != 1 || len(more[0]) != 5 {
		t.Fatalf("expected one 5-byte frame after completion, got %v", more)
	}
}

func TestDecoderMultipleFramesOneFeed(t *testing.T) {
	d := NewDecoder()
	in := []byte{2, 'h', 'i', 3, 'b', 'y', 'e'}
	frames := d.Feed(in)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0]) != "hi" || string(frames[1]) != "bye" {
		t.Fatalf("unexpected frame contents: %q %q", frames[0], frames[1])
	}
}
