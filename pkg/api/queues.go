package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/tracker"
	"github.com/cuemby/hutch/pkg/types"
)

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	app := application(r)
	queues, err := s.deps.Manager.Queues(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"queues": s.deps.Tenants.AllowedQueues(app, queues),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.deps.Tenants.Authorize(application(r), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.deps.Manager.Stats(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, stats)
}

func (s *Server) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	app := application(r)
	if err := s.deps.Tenants.Authorize(app, name); err != nil {
		s.writeError(w, r, err)
		return
	}

	filter := tracker.ListFilter{
		Queue:    name,
		Status:   types.JobStatus(r.URL.Query().Get("status")),
		Metadata: tracker.ParseMetadataFilters(r.URL.Query()),
	}
	jobs, err := s.deps.Tracker.List(r.Context(), app, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"queue": name,
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.deps.Manager.Pause(r.Context(), application(r), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"queue": name, "paused": true})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.deps.Manager.Resume(r.Context(), application(r), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"queue": name, "paused": false})
}

type cleanQueueRequest struct {
	Bucket    string `json:"bucket"`
	OlderThan int64  `json:"olderThan"` // seconds
	MaxCount  int64  `json:"maxCount"`
}

func (s *Server) handleQueueClean(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	req := cleanQueueRequest{Bucket: backend.BucketCompleted}
	if r.ContentLength > 0 {
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	removed, err := s.deps.Manager.Clean(r.Context(), application(r), name, req.Bucket,
		time.Duration(req.OlderThan)*time.Second, req.MaxCount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"queue":   name,
		"bucket":  req.Bucket,
		"removed": removed,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, apierr.New(apierr.CodeValidation, "no route for %s %s", r.Method, r.URL.Path).
		WithHints("GET /api/explain lists the available routes"))
}
