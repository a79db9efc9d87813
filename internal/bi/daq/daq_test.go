package daq

import "testing"

func TestPushBatchesOfTen(t *testing.T) {
	var q Queue
	base := int64(1000)
	for i := 0; i < 9; i++ {
		if _, ok := q.Push(base+int64(i), 100, 12000); ok {
			t.Fatalf("push %d returned a measurement too early", i)
		}
	}
	m, ok := q.Push(base+9, 100, 12000)
	if !ok {
		t.Fatalf("tenth push did not return a measurement")
	}
	if m.IBat != 100 || m.VBat != 12000 {
		t.Fatalf("unexpected average: %+v", m)
	}
	wantT := uint64((base + 9 + base + 1) / 2) // start is the index-1 sample
	if m.T != wantT {
		t.Fatalf("timestamp = %d, want %d", m.T, wantT)
	}
}

func TestPushResetsIndexAfterBatch(t *testing.T) {
	var q Queue
	for i := 0; i < 10; i++ {
		q.Push(int64(i), 50, 50)
	}
	if _, ok := q.Push(100, 0, 0); ok {
		t.Fatalf("first push of new batch must not return a measurement")
	}
}

func TestAverageTruncates(t *testing.T) {
	var q Queue
	// Nine zero samples then one of 9: sum=9, avg truncates to 0.
	for i := 0; i < 9; i++ {
		q.Push(0, 0, 0)
	}
	m, ok := q.Push(0, 9, 9)
	if !ok {
		t.Fatal("expected measurement")
	}
	if m.IBat != 0 {
		t.Fatalf("avg = %d, want 0 (9/10 truncates)", m.IBat)
	}
}
