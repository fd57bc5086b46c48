package decisionlog

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/tribunal"
)

// Memory is an in-process Log.
type Memory struct {
	mu      sync.RWMutex
	records []Record
	seq     uint64
}

// NewMemory creates an empty in-process log.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec Record) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	rec.Seq = m.seq
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.ModelJudgment = copyJudgment(rec.ModelJudgment)
	m.records = append(m.records, rec)

	return copyRecord(rec), nil
}

func (m *Memory) Query(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if !filter.Match(rec) {
			continue
		}
		out = append(out, copyRecord(rec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func copyRecord(rec Record) Record {
	rec.ModelJudgment = copyJudgment(rec.ModelJudgment)
	return rec
}

func copyJudgment(j *tribunal.Judgment) *tribunal.Judgment {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}
