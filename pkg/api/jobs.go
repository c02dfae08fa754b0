package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/types"
)

type submitJobRequest struct {
	Name     string                 `json:"name"`
	Data     map[string]interface{} `json:"data"`
	Options  *types.JobOptions      `json:"options"`
	Metadata map[string]interface{} `json:"metadata"`
	Webhooks map[string]string      `json:"webhooks"`
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.deps.Manager.Enqueue(r.Context(), application(r), queue.EnqueueRequest{
		Queue:     mux.Vars(r)["queue"],
		Name:      req.Name,
		Data:      req.Data,
		Options:   req.Options,
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

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, err := s.deps.Manager.GetJob(r.Context(), application(r), vars["queue"], vars["jobId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.deps.Manager.Cancel(r.Context(), application(r), vars["queue"], vars["jobId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"jobId":     vars["jobId"],
		"cancelled": true,
	})
}
