package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/tracker"
	"github.com/cuemby/hutch/pkg/types"
)

type trackerSubmitRequest struct {
	Queue    string                 `json:"queueName"`
	Name     string                 `json:"name"`
	Data     map[string]interface{} `json:"data"`
	Metadata map[string]interface{} `json:"metadata"`
	Webhooks map[string]string      `json:"webhooks"`
}

func (s *Server) handleTrackerSubmit(w http.ResponseWriter, r *http.Request) {
	var req trackerSubmitRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Queue == "" {
		s.writeError(w, r, apierr.New(apierr.CodeValidation, "queueName is required"))
		return
	}

	job, err := s.deps.Tracker.Submit(r.Context(), application(r), queue.EnqueueRequest{
		Queue:     req.Queue,
		Name:      req.Name,
		Data:      req.Data,
		Metadata:  req.Metadata,
		Webhooks:  req.Webhooks,
		RequestID: requestID(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, job)
}

func (s *Server) handleTrackerList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs, err := s.deps.Tracker.List(r.Context(), application(r), tracker.ListFilter{
		Queue:    q.Get("queue"),
		Status:   types.JobStatus(q.Get("status")),
		Metadata: tracker.ParseMetadataFilters(q),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleTrackerStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, err := s.deps.Tracker.Status(r.Context(), application(r), vars["queue"], vars["jobId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, job)
}

type trackerUpdateRequest struct {
	Progress interface{} `json:"progress"`
	Result   interface{} `json:"result"`
	Error    string      `json:"error"`
}

func (s *Server) handleTrackerUpdate(w http.ResponseWriter, r *http.Request) {
	var req trackerUpdateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	job, err := s.deps.Tracker.Update(r.Context(), application(r), vars["queue"], vars["jobId"], tracker.UpdateRequest{
		Progress: req.Progress,
		Result:   req.Result,
		Error:    req.Error,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, job)
}
