package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jzx17/offload/pkg/scheduler"
	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

// submitTaskRequest is the JSON body for POST /v1/tasks and one member of a
// batch
type submitTaskRequest struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  string          `json:"priority"`
	TimeoutMS int64           `json:"timeout_ms"`
	Wait      bool            `json:"wait"`
}

type batchRequest struct {
	Tasks []submitTaskRequest `json:"tasks"`
}

// taskResponse describes a task in any lifecycle state
type taskResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type,omitempty"`
	Status      string     `json:"status"`
	WorkerID    *int       `json:"worker_id,omitempty"`
	Value       any        `json:"value,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type batchMemberResponse struct {
	Index      int    `json:"index"`
	ID         string `json:"id,omitempty"`
	Success    bool   `json:"success"`
	Value      any    `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type batchResponse struct {
	Results      []batchMemberResponse `json:"results"`
	SuccessCount int                   `json:"success_count"`
	TotalCount   int                   `json:"total_count"`
}

// toRequest validates a submission and converts it to a scheduler request
func (req submitTaskRequest) toRequest() (scheduler.Request, error) {
	if req.Type == "" {
		return scheduler.Request{}, fmt.Errorf("%w: type is required", types.ErrInvalidTask)
	}
	prio, ok := types.ParsePriority(req.Priority)
	if !ok {
		return scheduler.Request{}, fmt.Errorf("%w: unknown priority %q", types.ErrInvalidTask, req.Priority)
	}
	if req.TimeoutMS < 0 {
		return scheduler.Request{}, fmt.Errorf("%w: timeout_ms must not be negative", types.ErrInvalidTask)
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	return scheduler.Request{
		Type:     worker.TaskType(req.Type),
		Payload:  payload,
		Priority: prio,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
	}, nil
}

func recordResponse(rec types.Record) taskResponse {
	resp := taskResponse{
		ID:          rec.TaskID,
		Type:        rec.Type,
		Status:      string(rec.Status),
		Value:       rec.Value,
		CreatedAt:   &rec.CreatedAt,
		CompletedAt: &rec.CompletedAt,
	}
	if rec.WorkerID >= 0 {
		resp.WorkerID = &rec.WorkerID
	}
	if rec.Err != nil {
		resp.Error = rec.Err.Error()
		resp.ErrorKind = string(types.KindOf(rec.Err))
	}
	return resp
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var body submitTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := body.toRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.sched.Enqueue(r.Context(), req.Type, req.Payload,
		scheduler.WithPriority(req.Priority), scheduler.WithTimeout(req.Timeout))
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	if !body.Wait && !queryBool(r, "wait") {
		desc := p.Descriptor()
		s.writeJSON(w, http.StatusAccepted, taskResponse{
			ID:        desc.ID,
			Type:      desc.Type,
			Status:    string(types.StatusQueued),
			CreatedAt: &desc.CreatedAt,
		})
		return
	}

	// a disconnecting client cancels its task
	_, _ = p.Wait(r.Context())
	rec, _ := p.Record()
	s.writeJSON(w, http.StatusOK, recordResponse(rec))
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Tasks) == 0 {
		s.writeError(w, http.StatusBadRequest, "tasks must not be empty")
		return
	}
	if len(body.Tasks) > maxBatchSize {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d tasks per batch", maxBatchSize))
		return
	}

	reqs := make([]scheduler.Request, len(body.Tasks))
	for i, t := range body.Tasks {
		req, err := t.toRequest()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("tasks[%d]: %v", i, err))
			return
		}
		reqs[i] = req
	}

	report := s.sched.SubmitBatch(r.Context(), reqs)

	resp := batchResponse{
		Results:      make([]batchMemberResponse, len(report.Results)),
		SuccessCount: report.SuccessCount,
		TotalCount:   report.TotalCount,
	}
	for i, res := range report.Results {
		m := batchMemberResponse{
			Index:      res.Index,
			ID:         res.TaskID,
			Success:    res.Success,
			Value:      res.Value,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			m.Error = res.Err.Error()
			m.ErrorKind = string(types.KindOf(res.Err))
		}
		resp.Results[i] = m
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if rec, ok := s.sched.GetResult(id); ok {
		s.writeJSON(w, http.StatusOK, recordResponse(rec))
		return
	}
	if st, ok := s.sched.State(id); ok {
		s.writeJSON(w, http.StatusOK, taskResponse{ID: id, Status: string(st)})
		return
	}
	s.writeError(w, http.StatusNotFound, "task not found")
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.sched.Cancel(id) {
		s.writeJSON(w, http.StatusOK, taskResponse{ID: id, Status: string(types.StatusCancelled)})
		return
	}
	if st, ok := s.sched.State(id); ok {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("task already %s", st))
		return
	}
	s.writeError(w, http.StatusNotFound, "task not found")
}

// queryBool reads a boolean query parameter, false when absent or malformed
func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
