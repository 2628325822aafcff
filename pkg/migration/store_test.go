package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medcanon-ai/platform/pkg/common/models"
)

// memStore implements RecordStore and RollbackStore in memory for tests,
// with per-record save-failure injection.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	saveFails map[string]int // record ID -> remaining failures
	failList  bool
	failFetch bool
	saves     int
	backups   int
}

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[string]*Record),
		saveFails: make(map[string]int),
	}
}

func (s *memStore) add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := rec
	s.records[rec.ID] = &copy
}

func (s *memStore) get(id string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memStore) CountUnconverted(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if !rec.WasConverted {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ListUnconvertedIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, fmt.Errorf("store unreachable")
	}
	var recs []*Record
	for _, rec := range s.records {
		if !rec.WasConverted {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (s *memStore) FetchByIDs(ctx context.Context, ids []string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFetch {
		return nil, fmt.Errorf("store unreachable")
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (s *memStore) SaveConverted(ctx context.Context, id string, result models.ConversionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remaining := s.saveFails[id]; remaining > 0 {
		s.saveFails[id] = remaining - 1
		return fmt.Errorf("transient write failure")
	}
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	s.saves++
	original := result.OriginalValue
	rec.Value = result.Value
	rec.Unit = result.Unit
	rec.WasConverted = true
	rec.OriginalValue = &original
	rec.OriginalUnit = result.OriginalUnit
	rec.ConversionFactor = result.ConversionFactor
	rec.ConversionRule = result.ConversionRule
	rec.ConversionDate = result.ConversionDate
	rec.ValidationStatus = result.ValidationStatus
	rec.ValidationNotes = result.ValidationNotes
	rec.ConfidenceScore = result.ConfidenceScore
	return nil
}

func (s *memStore) CountConverted(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if rec.WasConverted {
			count++
		}
	}
	return count, nil
}

func (s *memStore) FetchConvertedPage(ctx context.Context, offset, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []Record
	for _, rec := range s.records {
		if rec.WasConverted {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if recs[i].ConversionDate != nil {
			ti = *recs[i].ConversionDate
		}
		if recs[j].ConversionDate != nil {
			tj = *recs[j].ConversionDate
		}
		return ti.After(tj)
	})
	if offset >= len(recs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end], nil
}

func (s *memStore) RestoreOriginal(ctx context.Context, id string, value float64, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	rec.Value = value
	rec.Unit = unit
	rec.WasConverted = false
	rec.OriginalValue = nil
	rec.OriginalUnit = ""
	rec.ConversionFactor = 0
	rec.ConversionRule = ""
	rec.ConversionDate = nil
	rec.ValidationStatus = ""
	rec.ValidationNotes = nil
	rec.ConfidenceScore = 0
	return nil
}

func (s *memStore) ResetToError(ctx context.Context, id string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	rec.WasConverted = false
	rec.OriginalValue = nil
	rec.OriginalUnit = ""
	rec.ConversionFactor = 0
	rec.ConversionRule = ""
	rec.ConversionDate = nil
	rec.ValidationStatus = models.ValidationError
	rec.ValidationNotes = []string{note}
	rec.ConfidenceScore = 0
	return nil
}

func (s *memStore) BackupConverted(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups++
	return fmt.Sprintf("backup_%d", s.backups), nil
}
