package sensor

import "testing"

type fakeBus struct {
	configWritten []byte
	regs          map[byte][2]byte
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if r == nil {
		f.configWritten = append([]byte(nil), w...)
		return nil
	}
	reg := w[0]
	v := f.regs[reg]
	r[0], r[1] = v[0], v[1]
	return nil
}

func TestConfigureWritesINA260ShuntAndBusContinuousWord(t *testing.T) {
	bus := &fakeBus{regs: map[byte][2]byte{}}
	d := New(bus)
	if err := d.Configure(Config{Averaging: Avg4, Mode: ModeSCBVC, ShuntConv: ConvTimeMS4_156, BusConv: ConvTimeMS4_156}); err != nil {
		t.Fatal(err)
	}
	if len(bus.configWritten) != 3 || bus.configWritten[0] != regConfig {
		t.Fatalf("unexpected config write: %v", bus.configWritten)
	}
	got := uint16(bus.configWritten[1])<<8 | uint16(bus.configWritten[2])
	const want = 0x03B7
	if got != want {
		t.Fatalf("config word = %#04x, want %#04x", got, want)
	}
}

func TestReadVoltageAppliesOnePointTwoFiveMillivoltLSB(t *testing.T) {
	bus := &fakeBus{regs: map[byte][2]byte{regVoltage: {0x26, 0xE0}}} // raw 9952 -> 12440mV
	d := New(bus)
	if err := d.Configure(Config{}); err != nil {
		t.Fatal(err)
	}
	v, err := d.ReadVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if v != 12440 {
		t.Fatalf("ReadVoltage() = %d, want 12440", v)
	}
}

func TestReadCurrentAppliesLSBAndAbsoluteValue(t *testing.T) {
	bus := &fakeBus{regs: map[byte][2]byte{regCurrent: {0x00, 0x64}}} // raw 100 -> 125mA
	d := New(bus)
	if err := d.Configure(Config{}); err != nil {
		t.Fatal(err)
	}
	i, err := d.ReadCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if i != 125 {
		t.Fatalf("ReadCurrent() = %d, want 125", i)
	}

	bus.regs[regCurrent] = [2]byte{0xFF, 0x9C} // raw -100 -> |125mA|
	i, err = d.ReadCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if i != 125 {
		t.Fatalf("ReadCurrent() with negative raw = %d, want 125", i)
	}
}

func TestReadBeforeConfigureFails(t *testing.T) {
	bus := &fakeBus{regs: map[byte][2]byte{}}
	d := New(bus)
	if _, err := d.ReadVoltage(); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
