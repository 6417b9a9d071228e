package store

import (
	"sort"
	"strings"
	"time"
)

const (
	defaultPage  = 1
	defaultLimit = 50
	maxLimit     = 500
)

// QueryFilter narrows records returned by Query and Stats. Zero values
// match everything.
type QueryFilter struct {
	// Status matches exactly; empty matches all states.
	Status Status
	// Model is a case-insensitive substring match on the requested model.
	Model string
	// TimeRange is one of 1h, 24h, 7d, or all.
	TimeRange string
	Page      int
	Limit     int
}

// QueryResult is one page of records, newest first.
type QueryResult struct {
	Data  []*Record `json:"data"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// Stats aggregates the store. Lifetime counters survive eviction; by-status
// and by-model maps reflect currently retained records.
type Stats struct {
	TotalRequests     int64            `json:"total_requests"`
	SuccessCount      int64            `json:"success_count"`
	ErrorCount        int64            `json:"error_count"`
	PendingCount      int              `json:"pending_count"`
	AvgDurationMs     float64          `json:"avg_duration_ms"`
	TotalDurationMs   int64            `json:"total_duration_ms"`
	TotalInputTokens  int64            `json:"total_input_tokens"`
	TotalOutputTokens int64            `json:"total_output_tokens"`
	RequestsByStatus  map[string]int   `json:"requests_by_status"`
	RequestsByModel   map[string]int   `json:"requests_by_model"`
	StoredRecords     int              `json:"stored_records"`
	EvictedRecords    int64            `json:"evicted_records"`
	ChunkBytes        int64            `json:"chunk_bytes"`
	Subscribers       int              `json:"subscribers"`
	DroppedEvents     int64            `json:"dropped_events"`
}

// Export is a point-in-time dump of the store.
type Export struct {
	ExportedAt time.Time `json:"exported_at"`
	Records    []*Record `json:"records"`
	Stats      Stats     `json:"stats"`
}

// Query returns the matching records newest-first with pagination applied.
func (s *Store) Query(filter QueryFilter) QueryResult {
	page := filter.Page
	if page < 1 {
		page = defaultPage
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	s.mutex.RLock()
	matched := s.matchLocked(filter)
	total := len(matched)

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	data := make([]*Record, 0, end-start)
	for _, rec := range matched[start:end] {
		data = append(data, rec.clone())
	}
	s.mutex.RUnlock()

	return QueryResult{Data: data, Total: total, Page: page, Limit: limit}
}

// GetStats aggregates the store, honoring the filter for the record-derived
// maps and averages.
func (s *Store) GetStats(filter QueryFilter) Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := Stats{
		TotalRequests:     s.totalRequests,
		SuccessCount:      s.successCount,
		ErrorCount:        s.errorCount,
		TotalDurationMs:   s.totalDurationMs,
		TotalInputTokens:  s.totalInputTokens,
		TotalOutputTokens: s.totalOutputTokens,
		RequestsByStatus:  make(map[string]int),
		RequestsByModel:   make(map[string]int),
		StoredRecords:     len(s.records),
		EvictedRecords:    s.evicted,
		ChunkBytes:        s.chunkBytes,
		Subscribers:       len(s.subscribers),
		DroppedEvents:     s.dropped,
	}
	if s.completedRequests > 0 {
		stats.AvgDurationMs = float64(s.totalDurationMs) / float64(s.completedRequests)
	}

	for _, rec := range s.matchLocked(filter) {
		stats.RequestsByStatus[string(rec.Status)]++
		if rec.Model != "" {
			stats.RequestsByModel[rec.Model]++
		}
		if rec.Status == StatusPending {
			stats.PendingCount++
		}
	}
	return stats
}

// ExportAll snapshots the matching records plus the aggregate stats. Unlike
// Query it never paginates; the zero filter dumps the whole store.
func (s *Store) ExportAll(filter QueryFilter) Export {
	s.mutex.RLock()
	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.matchLocked(filter) {
		records = append(records, rec.clone())
	}
	s.mutex.RUnlock()

	return Export{
		ExportedAt: time.Now(),
		Records:    records,
		Stats:      s.GetStats(filter),
	}
}

// matchLocked returns records passing the filter, newest first. Callers hold
// at least a read lock.
func (s *Store) matchLocked(filter QueryFilter) []*Record {
	var cutoff time.Time
	switch filter.TimeRange {
	case "1h":
		cutoff = time.Now().Add(-time.Hour)
	case "24h":
		cutoff = time.Now().Add(-24 * time.Hour)
	case "7d":
		cutoff = time.Now().Add(-7 * 24 * time.Hour)
	}

	model := strings.ToLower(filter.Model)

	matched := make([]*Record, 0, len(s.records))
	for _, id := range s.order {
		rec := s.records[id]
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if model != "" && !strings.Contains(strings.ToLower(rec.Model), model) {
			continue
		}
		if !cutoff.IsZero() && rec.Timestamp.Before(cutoff) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched
}
