package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"switchboard/internal/logging"
	"switchboard/internal/protocol"
	"switchboard/internal/store"
	"switchboard/pkg/sse"
)

// heartbeatInterval keeps idle monitor streams alive through proxies that
// cut silent connections.
const heartbeatInterval = 30 * time.Second

// parseFilter reads the query parameters shared by the monitor endpoints.
func parseFilter(c *gin.Context) store.QueryFilter {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return store.QueryFilter{
		Status:    store.Status(c.Query("status")),
		Model:     c.Query("model"),
		TimeRange: c.Query("timeRange"),
		Page:      page,
		Limit:     limit,
	}
}

func (s *Server) handleMonitorRequests(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Query(parseFilter(c)))
}

func (s *Server) handleMonitorRequest(c *gin.Context) {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, protocol.NewErrorResponse(protocol.ErrTypeNotFound, "request not found"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleMonitorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.GetStats(parseFilter(c)))
}

// handleMonitorStream pushes store lifecycle events to the client as SSE
// until the client goes away.
func (s *Server) handleMonitorStream(c *gin.Context) {
	writeSSEHeaders(c)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sub := s.store.Subscribe()
	defer s.store.Unsubscribe(sub.ID)

	w := sse.NewWriter(c.Writer)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := w.WriteEvent(ev.Type, data); err != nil {
				return
			}
		case <-ticker.C:
			ping := fmt.Sprintf(`{"time":%q}`, time.Now().Format(time.RFC3339))
			if err := w.WriteEvent("ping", []byte(ping)); err != nil {
				return
			}
		}
	}
}

// SuccessResponse acknowledges a state-changing monitor call.
type SuccessResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleMonitorClear(c *gin.Context) {
	s.store.Clear()
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleMonitorExport(c *gin.Context) {
	export := s.store.ExportAll(parseFilter(c))
	filename := "switchboard-export-" + time.Now().Format("20060102-150405") + ".json"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.JSON(http.StatusOK, export)
}

// ModelBreakdown aggregates the records of one model.
type ModelBreakdown struct {
	Requests      int     `json:"requests"`
	Success       int     `json:"success"`
	Errors        int     `json:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`

	totalMs   int64
	completed int
}

// SlowRequest is one row of the slowest-requests table.
type SlowRequest struct {
	ID         string       `json:"id"`
	Model      string       `json:"model,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	Streaming  bool         `json:"streaming"`
	Status     store.Status `json:"status"`
}

// AnalyzeResponse is the GET /api/monitor/analyze body.
type AnalyzeResponse struct {
	TotalRequests int                        `json:"total_requests"`
	ByModel       map[string]*ModelBreakdown `json:"by_model"`
	ByStatus      map[string]int             `json:"by_status"`
	Slowest       []SlowRequest              `json:"slowest,omitempty"`
}

func (s *Server) handleMonitorAnalyze(c *gin.Context) {
	records := s.store.ExportAll(parseFilter(c)).Records

	out := AnalyzeResponse{
		TotalRequests: len(records),
		ByModel:       make(map[string]*ModelBreakdown),
		ByStatus:      make(map[string]int),
	}

	for _, rec := range records {
		out.ByStatus[string(rec.Status)]++

		model := rec.Model
		if model == "" {
			model = "unknown"
		}
		mb := out.ByModel[model]
		if mb == nil {
			mb = &ModelBreakdown{}
			out.ByModel[model] = mb
		}
		mb.Requests++
		switch rec.Status {
		case store.StatusSuccess:
			mb.Success++
		case store.StatusError:
			mb.Errors++
		}
		mb.InputTokens += rec.Metrics.InputTokens
		mb.OutputTokens += rec.Metrics.OutputTokens
		if rec.Metrics.DurationMs != nil {
			mb.totalMs += *rec.Metrics.DurationMs
			mb.completed++
		}
	}
	for _, mb := range out.ByModel {
		if mb.completed > 0 {
			mb.AvgDurationMs = float64(mb.totalMs) / float64(mb.completed)
		}
	}

	completed := make([]*store.Record, 0, len(records))
	for _, rec := range records {
		if rec.Metrics.DurationMs != nil {
			completed = append(completed, rec)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].Metrics.DurationMs > *completed[j].Metrics.DurationMs
	})
	if len(completed) > 10 {
		completed = completed[:10]
	}
	for _, rec := range completed {
		out.Slowest = append(out.Slowest, SlowRequest{
			ID:         rec.ID,
			Model:      rec.Model,
			DurationMs: *rec.Metrics.DurationMs,
			Streaming:  rec.Streaming,
			Status:     rec.Status,
		})
	}

	c.JSON(http.StatusOK, out)
}

// LogsResponse is the GET /api/monitor/logs body.
type LogsResponse struct {
	Total int             `json:"total"`
	Logs  []logging.Entry `json:"logs"`
}

func (s *Server) handleMonitorLogs(c *gin.Context) {
	if s.ring == nil {
		c.JSON(http.StatusOK, LogsResponse{Logs: []logging.Entry{}})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	entries := s.ring.Latest(limit)
	if level := c.Query("level"); level != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	c.JSON(http.StatusOK, LogsResponse{
		Total: s.ring.Size(),
		Logs:  entries,
	})
}
