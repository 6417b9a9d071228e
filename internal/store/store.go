package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"switchboard/internal/protocol"
)

// DefaultCapacity bounds the record count when Options does not.
const DefaultCapacity = 1000

// DefaultMaskedHeaders are the header names whose values get masked in
// request snapshots.
var DefaultMaskedHeaders = []string{"x-api-key", "authorization"}

// Options configures a Store.
type Options struct {
	// Capacity bounds the number of retained records. DefaultCapacity when
	// zero or negative.
	Capacity int
	// MaxAge prunes records older than this on insert. Zero keeps records
	// until capacity eviction.
	MaxAge time.Duration
	// MaskedHeaders are matched case-insensitively. DefaultMaskedHeaders
	// when nil.
	MaskedHeaders []string
}

// Store is the bounded observation repository. All methods are safe for
// concurrent use.
type Store struct {
	capacity int
	maxAge   time.Duration
	masked   map[string]bool

	records map[string]*Record
	// insertion order, oldest first
	order []string

	totalRequests     int64
	successCount      int64
	errorCount        int64
	totalDurationMs   int64
	completedRequests int64
	totalInputTokens  int64
	totalOutputTokens int64
	evicted           int64
	chunkBytes        int64

	subscribers map[string]*subscriber
	dropped     int64

	mutex sync.RWMutex
}

// New creates a store.
func New(opts Options) *Store {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	names := opts.MaskedHeaders
	if names == nil {
		names = DefaultMaskedHeaders
	}
	masked := make(map[string]bool, len(names))
	for _, name := range names {
		masked[strings.ToLower(name)] = true
	}
	return &Store{
		capacity:    capacity,
		maxAge:      opts.MaxAge,
		masked:      masked,
		records:     make(map[string]*Record),
		subscribers: make(map[string]*subscriber),
	}
}

// StartInfo is the inbound snapshot captured when a proxied request begins.
type StartInfo struct {
	Method      string
	URL         string
	Headers     map[string][]string
	Body        []byte
	Model       string
	Mode        string
	TargetModel string
	Streaming   bool
}

// ResponseInfo is the terminal snapshot recorded by End.
type ResponseInfo struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Usage      *protocol.AnthropicUsage
}

// Start inserts a pending record and returns its id. Expired records are
// pruned and eviction runs before insertion when the store is full.
func (s *Store) Start(info StartInfo) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	id := fmt.Sprintf("req_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.New().String(), "-", "")[:9])

	s.pruneExpiredLocked(now)
	if len(s.records) >= s.capacity {
		s.evictLocked()
	}

	rec := &Record{
		ID:          id,
		Timestamp:   now,
		Method:      info.Method,
		URL:         info.URL,
		Model:       info.Model,
		Mode:        info.Mode,
		TargetModel: info.TargetModel,
		Streaming:   info.Streaming,
		Request: RequestSnapshot{
			Headers: s.maskHeaders(info.Headers),
			Body:    jsonBody(info.Body),
		},
		Metrics: Metrics{RequestSize: len(info.Body)},
		Status:  StatusPending,
		start:   now,
	}

	s.records[id] = rec
	s.order = append(s.order, id)
	s.totalRequests++

	s.publishLocked(Event{
		Type:      EventRequestStart,
		Timestamp: now,
		RequestID: id,
		Record:    rec.clone(),
	})
	return id
}

// AddChunk appends one observed stream frame.
func (s *Store) AddChunk(id string, rawData string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}

	now := time.Now()
	if len(rec.StreamChunks) == 0 {
		ms := time.Since(rec.start).Milliseconds()
		rec.Metrics.FirstChunkMs = &ms
	}
	rec.StreamChunks = append(rec.StreamChunks, StreamChunk{Timestamp: now, Data: rawData})
	rec.Metrics.ChunksCount = len(rec.StreamChunks)
	s.chunkBytes += int64(len(rawData))

	s.publishLocked(Event{
		Type:      EventStreamChunk,
		Timestamp: now,
		RequestID: id,
		Chunk:     &ChunkInfo{Index: rec.Metrics.ChunksCount - 1, Size: len(rawData)},
	})
}

// SetMerged attaches the reconstructed content of a streamed reply and
// recomputes the response size from the merged payload plus chunk bytes.
func (s *Store) SetMerged(id string, merged *MergedContent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[id]
	if !ok || merged == nil {
		return
	}

	rec.Merged = merged

	size := 0
	if data, err := json.Marshal(merged); err == nil {
		size = len(data)
	}
	for _, chunk := range rec.StreamChunks {
		size += len(chunk.Data)
	}
	rec.Metrics.ResponseSize = size

	if merged.Usage != nil {
		rec.Metrics.InputTokens = merged.Usage.InputTokens
		rec.Metrics.OutputTokens = merged.Usage.OutputTokens
	}
}

// End records the terminal response. Status is success on 2xx, error
// otherwise. Calls after the record left pending state only update the
// response snapshot.
func (s *Store) End(id string, resp ResponseInfo) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}

	rec.Response = &ResponseSnapshot{
		StatusCode: resp.StatusCode,
		Headers:    cloneHeaders(resp.Headers),
		Body:       jsonBody(resp.Body),
	}
	if len(resp.Body) > 0 && rec.Metrics.ResponseSize == 0 {
		rec.Metrics.ResponseSize = len(resp.Body)
	}
	if resp.Usage != nil {
		rec.Metrics.InputTokens = resp.Usage.InputTokens
		rec.Metrics.OutputTokens = resp.Usage.OutputTokens
	}

	if rec.Status == StatusPending {
		ms := time.Since(rec.start).Milliseconds()
		rec.Metrics.DurationMs = &ms

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			rec.Status = StatusSuccess
			s.successCount++
		} else {
			rec.Status = StatusError
			s.errorCount++
		}
		s.totalDurationMs += ms
		s.completedRequests++
		s.totalInputTokens += int64(rec.Metrics.InputTokens)
		s.totalOutputTokens += int64(rec.Metrics.OutputTokens)
	}

	s.publishLocked(Event{
		Type:      EventRequestEnd,
		Timestamp: time.Now(),
		RequestID: id,
		Record:    rec.clone(),
	})
}

// SetError marks a record failed. The message is sanitized before storage;
// the stack, when provided, is kept verbatim for local drill-down.
func (s *Store) SetError(id string, message string, stack string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}

	rec.Error = &RecordError{
		Message: protocol.SanitizeError(message),
		Stack:   stack,
	}

	if rec.Status == StatusPending {
		ms := time.Since(rec.start).Milliseconds()
		rec.Metrics.DurationMs = &ms
		rec.Status = StatusError
		s.errorCount++
		s.totalDurationMs += ms
		s.completedRequests++
		s.totalInputTokens += int64(rec.Metrics.InputTokens)
		s.totalOutputTokens += int64(rec.Metrics.OutputTokens)
	}

	s.publishLocked(Event{
		Type:      EventRequestError,
		Timestamp: time.Now(),
		RequestID: id,
		Record:    rec.clone(),
	})
}

// Get returns a snapshot of one record.
func (s *Store) Get(id string) (*Record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Len returns the current record count.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}

// Clear drops every record and resets all counters. Subscribers stay
// registered and receive a clear event.
func (s *Store) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.records = make(map[string]*Record)
	s.order = nil
	s.totalRequests = 0
	s.successCount = 0
	s.errorCount = 0
	s.totalDurationMs = 0
	s.completedRequests = 0
	s.totalInputTokens = 0
	s.totalOutputTokens = 0
	s.evicted = 0
	s.chunkBytes = 0
	s.dropped = 0

	s.publishLocked(Event{Type: EventClear, Timestamp: time.Now()})
	logrus.Info("observation store cleared")
}

// evictLocked frees room for one insertion: completed records go first,
// oldest first, one tenth of capacity at a time. A store full of pending
// records still evicts its oldest entry so insertion always proceeds.
func (s *Store) evictLocked() {
	victims := make([]*Record, 0, len(s.records))
	for _, id := range s.order {
		victims = append(victims, s.records[id])
	}
	sort.SliceStable(victims, func(i, j int) bool {
		pi, pj := victims[i].Status == StatusPending, victims[j].Status == StatusPending
		if pi != pj {
			return !pi
		}
		return victims[i].Timestamp.Before(victims[j].Timestamp)
	})

	n := s.capacity / 10
	if n < 1 {
		n = 1
	}
	if n > len(victims) {
		n = len(victims)
	}
	for _, victim := range victims[:n] {
		s.removeLocked(victim.ID)
	}
	for len(s.records) >= s.capacity && len(s.order) > 0 {
		s.removeLocked(s.order[0])
	}

	logrus.WithFields(logrus.Fields{
		"evicted":   n,
		"remaining": len(s.records),
	}).Debug("store eviction")
}

// pruneExpiredLocked drops records older than the retention bound. Order is
// oldest first, so pruning stops at the first young record.
func (s *Store) pruneExpiredLocked(now time.Time) {
	if s.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.maxAge)
	for len(s.order) > 0 {
		oldest := s.records[s.order[0]]
		if oldest == nil || !oldest.Timestamp.Before(cutoff) {
			break
		}
		s.removeLocked(oldest.ID)
	}
}

func (s *Store) removeLocked(id string) {
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.evicted++
}

// maskHeaders copies headers, masking values of configured sensitive names
// element-wise.
func (s *Store) maskHeaders(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vs := range h {
		copied := make([]string, len(vs))
		if s.masked[strings.ToLower(k)] {
			for i, v := range vs {
				copied[i] = maskValue(v)
			}
		} else {
			copy(copied, vs)
		}
		out[k] = copied
	}
	return out
}

func maskValue(v string) string {
	switch {
	case len(v) > 20:
		return v[:10] + "..." + v[len(v)-4:]
	case len(v) > 10:
		return v[:6] + "..."
	default:
		return v
	}
}
