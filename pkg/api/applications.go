package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/types"
)

func (s *Server) requireMaster(r *http.Request) error {
	if !application(r).IsMaster() {
		return apierr.New(apierr.CodeForbidden, "application management requires the master identity").
			WithHints("use the master API key for /api/applications")
	}
	return nil
}

type createApplicationRequest struct {
	Name     string                     `json:"name"`
	Settings *types.ApplicationSettings `json:"settings"`
}

func (s *Server) handleApplicationCreate(w http.ResponseWriter, r *http.Request) {
	if err := s.requireMaster(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createApplicationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	settings := types.ApplicationSettings{}
	if req.Settings != nil {
		settings = *req.Settings
	}
	app, key, err := s.deps.Tenants.Create(req.Name, settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// the plaintext key appears here and never again
	s.writeData(w, r, http.StatusCreated, map[string]interface{}{
		"application": app,
		"apiKey":      key,
	})
}

func (s *Server) handleApplicationList(w http.ResponseWriter, r *http.Request) {
	if err := s.requireMaster(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	apps, err := s.deps.Tenants.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"applications": apps})
}

func (s *Server) handleApplicationGet(w http.ResponseWriter, r *http.Request) {
	if err := s.requireMaster(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.deps.Tenants.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, app)
}

type updateApplicationRequest struct {
	Name     *string                    `json:"name"`
	Settings *types.ApplicationSettings `json:"settings"`
}

func (s *Server) handleApplicationUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.requireMaster(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateApplicationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.deps.Tenants.Update(mux.Vars(r)["id"], req.Name, req.Settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, app)
}

func (s *Server) handleApplicationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.requireMaster(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.deps.Tenants.Delete(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}
