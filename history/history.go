// Package history records handled queries for observability. Writes are
// best-effort; the orchestrator never fails a query over a history error.
package history

import (
	"context"
	"sync"
	"time"
)

// Record summarises one handled query.
type Record struct {
	QueryID       string        `bson:"_id" json:"query_id"`
	Query         string        `bson:"query" json:"query"`
	QueryType     string        `bson:"query_type" json:"query_type"`
	Answer        string        `bson:"answer" json:"answer"`
	Confidence    float64       `bson:"confidence" json:"confidence"`
	EvidenceCount int           `bson:"evidence_count" json:"evidence_count"`
	Success       bool          `bson:"success" json:"success"`
	Duration      time.Duration `bson:"duration" json:"duration"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
}

// Store persists query records.
type Store interface {
	Append(ctx context.Context, record *Record) error
	Recent(ctx context.Context, limit int) ([]*Record, error)
}

// MemoryStore keeps records in process memory, newest first.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	max     int
}

// NewMemoryStore creates a bounded in-memory history store.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryStore{max: max}
}

// Append stores a record, evicting the oldest past the bound.
func (s *MemoryStore) Append(ctx context.Context, record *Record) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]*Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}
