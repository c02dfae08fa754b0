package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/fanout"
	"github.com/cuemby/hutch/pkg/types"
)

type createSubscriptionRequest struct {
	Name     string                    `json:"name"`
	Endpoint string                    `json:"endpoint"`
	Method   string                    `json:"method"`
	Headers  map[string]string         `json:"headers"`
	Filters  types.SubscriptionFilters `json:"filters"`
	Events   []types.EventType         `json:"events"`
	Retry    *types.RetryConfig        `json:"retryConfig"`
}

func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.deps.Subscriptions.Create(application(r), fanout.CreateRequest{
		Name:     req.Name,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Headers:  req.Headers,
		Filters:  req.Filters,
		Events:   req.Events,
		Retry:    req.Retry,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, sub)
}

func (s *Server) handleSubscriptionList(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Subscriptions.List(application(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	sub, err := s.deps.Subscriptions.Get(application(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sub)
}

type updateSubscriptionRequest struct {
	Name     *string                    `json:"name"`
	Endpoint *string                    `json:"endpoint"`
	Method   *string                    `json:"method"`
	Headers  map[string]string          `json:"headers"`
	Filters  *types.SubscriptionFilters `json:"filters"`
	Events   []types.EventType          `json:"events"`
	Active   *bool                      `json:"active"`
	Retry    *types.RetryConfig         `json:"retryConfig"`
}

func (s *Server) handleSubscriptionUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateSubscriptionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.deps.Subscriptions.Update(application(r), mux.Vars(r)["id"], fanout.UpdateRequest{
		Name:     req.Name,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Headers:  req.Headers,
		Filters:  req.Filters,
		Events:   req.Events,
		Active:   req.Active,
		Retry:    req.Retry,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sub)
}

func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Subscriptions.Delete(application(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

func (s *Server) handleSubscriptionTest(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Subscriptions.Test(application(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, result)
}
