package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Snowflake layout: 41 bits of milliseconds since epoch, 10 bits of worker
// id, 12 bits of per-millisecond sequence. No coordination per call; the
// worker id assignment is external and must be collision-free.
const (
	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID = (1 << workerIDBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits

	// 2024-01-01T00:00:00Z
	epochMillis = 1704067200000

	// How far backwards the clock may drift before NextID waits it out.
	skewTolerance = 5 * time.Millisecond
)

var (
	ErrClockSkew     = errors.New("identity: clock moved backwards beyond tolerance")
	ErrWorkerIDRange = errors.New("identity: worker id out of range")
)

type Generator struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	sequence int64
	nowMs    func() int64
}

func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrWorkerIDRange, workerID, maxWorkerID)
	}
	return &Generator{
		workerID: workerID,
		lastMs:   -1,
		nowMs: func() int64 {
			return time.Now().UnixMilli()
		},
	}, nil
}

// NextID returns a globally unique, per-worker monotonic id.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowMs()
	if now < g.lastMs {
		drift := time.Duration(g.lastMs-now) * time.Millisecond
		if drift > skewTolerance {
			return 0, fmt.Errorf("%w: behind by %s", ErrClockSkew, drift)
		}
		// Small drift: spin until the clock catches up.
		for now < g.lastMs {
			now = g.nowMs()
		}
	}

	if now == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted in this millisecond; block to the next.
			for now <= g.lastMs {
				now = g.nowMs()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = now
	return (now-epochMillis)<<timestampShift | g.workerID<<workerIDShift | g.sequence, nil
}
