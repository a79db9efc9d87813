// Package daq batches raw current/voltage samples into averaged
// measurements, matching the firmware's fixed ten-sample window.
package daq

import (
	"time"

	"battery-tester-go/internal/wire"
)

const batchSize = 10

// Queue is a fixed ring of ten (milliamp, millivolt) samples. Push
// returns an averaged Measurement only on the tenth sample of a batch.
type Queue struct {
	index      int
	start      int64 // ms, timestamp of the batch's second sample (index 1)
	milliamps  [batchSize]wire.MilliAmp
	millivolts [batchSize]wire.MilliVolt
}

// Reset clears the queue back to an empty batch.
func (q *Queue) Reset() {
	*q = Queue{}
}

func (q *Queue) avgMilliamps() wire.MilliAmp {
	var sum uint32
	for _, v := range q.milliamps {
		sum += uint32(v)
	}
	return wire.MilliAmp(sum / batchSize)
}

func (q *Queue) avgMillivolts() wire.MilliVolt {
	var sum uint32
	for _, v := range q.millivolts {
		sum += uint32(v)
	}
	return wire.MilliVolt(sum / batchSize)
}

// Push records one sample. On the batch's second sample (index 1) it
// captures the batch start time; on the tenth (index 9) it averages the
// batch, resets the index to 0, and returns the result. Every other push
// returns false.
func (q *Queue) Push(nowMs int64, milliamps wire.MilliAmp, millivolts wire.MilliVolt) (wire.Measurement, bool) {
	q.milliamps[q.index] = milliamps
	q.millivolts[q.index] = millivolts

	switch q.index {
	case batchSize - 1:
		q.index = 0
		m := wire.Measurement{
			VBat: q.avgMillivolts(),
			IBat: q.avgMilliamps(),
			T:    uint64((nowMs + q.start) / 2),
		}
		return m, true
	case 1:
		q.start = nowMs
		q.index++
		return wire.Measurement{}, false
	default:
		q.index++
		return wire.Measurement{}, false
	}
}

// NowMs is the clock Push expects its first argument to come from.
func NowMs() int64 { return time.Now().UnixMilli() }
