package infra

import (
	"sync"
	"time"
)

const (
	epoch          = int64(1640995200000)
	workerIDBits   = uint(10)
	sequenceBits   = uint(12)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
	sequenceMask   = int64(-1) ^ (int64(-1) << sequenceBits)
	maxWorkerID    = int64(-1) ^ (int64(-1) << workerIDBits)
)

// SnowflakeGenerator issues strictly increasing ids within one process. Ids sort in
// creation order, so they double as pagination cursors.
type SnowflakeGenerator struct {
	mu        sync.Mutex
	workerID  int64
	sequence  int64
	timestamp int64
	now       func() int64
}

func NewSnowflakeGenerator(workerID int64) *SnowflakeGenerator {
	return &SnowflakeGenerator{
		workerID: workerID & maxWorkerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *SnowflakeGenerator) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// The wall clock may step backwards (NTP); keep issuing from the last timestamp.
	if now < s.timestamp {
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & sequenceMask
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now()
				if now < s.timestamp {
					time.Sleep(time.Millisecond)
				}
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

func (s *SnowflakeGenerator) ExtractTimestamp(id int64) time.Time {
	return TimestampOf(id)
}

func TimestampOf(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + epoch).UTC()
}

// LowerBound returns the smallest id that could have been issued at t.
func LowerBound(t time.Time) int64 {
	ms := t.UnixMilli() - epoch
	if ms < 0 {
		return 0
	}
	return ms << timestampShift
}
