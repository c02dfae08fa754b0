package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/cuemby/hutch/pkg/apierr"
)

// routeDoc is one entry of the self-documentation surface
type routeDoc struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Auth        string `json:"auth"`
}

var explainTopics = map[string][]routeDoc{
	"jobs": {
		{"POST", "/api/jobs/{queue}", "submit a job; body {name?, data, options?, metadata?, webhooks?}", "api key"},
		{"GET", "/api/jobs/{queue}/{jobId}", "job status including attempts, progress and result", "api key"},
		{"DELETE", "/api/jobs/{queue}/{jobId}", "cancel a waiting, delayed or active job", "api key"},
	},
	"queues": {
		{"GET", "/api/queues", "list queues the caller may use", "api key"},
		{"GET", "/api/queues/{name}/stats", "per-status job counts for a queue", "api key"},
		{"GET", "/api/queues/{name}/jobs", "list jobs; query status=, metadata.<k>=", "api key"},
		{"POST", "/api/queues/{name}/pause", "stop reservations on a queue", "master key"},
		{"POST", "/api/queues/{name}/resume", "resume a paused queue", "master key"},
		{"POST", "/api/queues/{name}/clean", "trim a terminal bucket; body {bucket, olderThan, maxCount}", "master key"},
	},
	"applications": {
		{"POST", "/api/applications", "create an application; the api key is returned once", "master key"},
		{"GET", "/api/applications", "list applications", "master key"},
		{"GET", "/api/applications/{id}", "application detail", "master key"},
		{"PATCH", "/api/applications/{id}", "update name or settings", "master key"},
		{"DELETE", "/api/applications/{id}", "delete an application and revoke its key", "master key"},
	},
	"subscriptions": {
		{"POST", "/api/subscriptions", "register a webhook; body {name, endpoint, events?, filters?, retryConfig?}", "api key"},
		{"GET", "/api/subscriptions", "list the caller's subscriptions", "api key"},
		{"GET", "/api/subscriptions/{id}", "subscription detail", "api key"},
		{"PUT", "/api/subscriptions/{id}", "update a subscription", "api key"},
		{"DELETE", "/api/subscriptions/{id}", "delete a subscription", "api key"},
		{"POST", "/api/subscriptions/{id}/test", "send one synthetic event to the endpoint", "api key"},
	},
	"schedules": {
		{"POST", "/api/schedules", "create a schedule; body {name, endpoint, schedule:{cron|at,timezone?,endDate?,limit?}, retryPolicy?}", "none (internal)"},
		{"GET", "/api/schedules", "list schedules", "none (internal)"},
		{"GET", "/api/schedules/{id}", "schedule detail with execution history fields", "none (internal)"},
		{"PUT", "/api/schedules/{id}", "update a schedule", "none (internal)"},
		{"DELETE", "/api/schedules/{id}", "delete a schedule", "none (internal)"},
		{"POST", "/api/schedules/{id}/toggle", "enable or disable; body {enabled}", "none (internal)"},
		{"POST", "/api/schedules/{id}/execute", "fire the schedule now", "none (internal)"},
	},
	"tracker": {
		{"POST", "/api/tracker/jobs", "track an externally executed job; body {queueName, data, metadata?}", "api key"},
		{"GET", "/api/tracker/jobs", "list tracked jobs; query queue=, status=, metadata.<k>=", "api key"},
		{"GET", "/api/tracker/jobs/{queue}/{jobId}", "tracked job status", "api key"},
		{"PATCH", "/api/tracker/jobs/{queue}/{jobId}", "report progress, result or error", "api key"},
	},
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	topics := make([]string, 0, len(explainTopics))
	for topic := range explainTopics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"service": "hutch",
		"topics":  topics,
		"usage":   "GET /api/explain/{topic} for the routes of one area",
		"auth":    "protected routes read the x-api-key header",
	})
}

func (s *Server) handleExplainTopic(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	routes, ok := explainTopics[topic]
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeValidation, "unknown topic %q", topic).
			WithHints("GET /api/explain lists the available topics"))
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"topic":  topic,
		"routes": routes,
	})
}
