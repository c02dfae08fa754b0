package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/scheduler"
	"github.com/cuemby/hutch/pkg/types"
)

type createScheduleRequest struct {
	Name        string                 `json:"name"`
	Endpoint    types.Endpoint         `json:"endpoint"`
	Schedule    types.ScheduleSpec     `json:"schedule"`
	RetryPolicy *types.RetryPolicy     `json:"retryPolicy"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sched, err := s.deps.Schedules.Create(scheduler.CreateRequest{
		Name:        req.Name,
		Endpoint:    req.Endpoint,
		Spec:        req.Schedule,
		RetryPolicy: req.RetryPolicy,
		Metadata:    req.Metadata,
		CreatedBy:   requestID(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, sched)
}

func (s *Server) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.deps.Schedules.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"schedules": scheds})
}

func (s *Server) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sched)
}

type updateScheduleRequest struct {
	Name        *string                `json:"name"`
	Endpoint    *types.Endpoint        `json:"endpoint"`
	Schedule    *types.ScheduleSpec    `json:"schedule"`
	RetryPolicy *types.RetryPolicy     `json:"retryPolicy"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateScheduleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sched, err := s.deps.Schedules.Update(mux.Vars(r)["id"], scheduler.UpdateRequest{
		Name:        req.Name,
		Endpoint:    req.Endpoint,
		Spec:        req.Schedule,
		RetryPolicy: req.RetryPolicy,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sched)
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Schedules.Delete(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

type toggleScheduleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleScheduleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleScheduleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.writeError(w, r, apierr.New(apierr.CodeValidation, "toggle requires an enabled boolean"))
		return
	}
	sched, err := s.deps.Schedules.Toggle(mux.Vars(r)["id"], *req.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sched)
}

// handleScheduleExecute enqueues a firing right now, bypassing the tick
func (s *Server) handleScheduleExecute(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Scheduler.Enqueue(sched); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusAccepted, map[string]interface{}{
		"scheduleId": sched.ID,
		"queued":     true,
	})
}
