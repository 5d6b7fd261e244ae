package httpserver

import (
	"net/http"
	"sort"
	"strings"

	"parkwise/backend/services/parking-service/internal/auth"
	"parkwise/backend/services/parking-service/internal/http/middleware"
)

// Routes groups HTTP handlers.
type Routes struct {
	Health  http.HandlerFunc
	Metrics http.Handler

	GateEntry     http.HandlerFunc
	GateExit      http.HandlerFunc
	GateWS        http.HandlerFunc
	ActiveSession http.HandlerFunc
	Sessions      http.HandlerFunc
	Charges       http.HandlerFunc

	ListPolicies    http.HandlerFunc
	CreatePolicy    http.HandlerFunc
	UpdatePolicy    http.HandlerFunc
	Invoices        http.HandlerFunc
	GenerateInvoice http.HandlerFunc
	RecordPayment   http.HandlerFunc
	Backlog         http.HandlerFunc
}

// NewRouter registers service endpoints. Everything except /health and
// /metrics goes through authn. Agents scan, read sessions and list rate
// policies; billing and policy changes are admin only.
func NewRouter(routes Routes, authn func(http.Handler) http.Handler) http.Handler {
	agent := chain(authn, middleware.RequireRole(auth.RoleAgent, auth.RoleAdmin))
	admin := chain(authn, middleware.RequireRole(auth.RoleAdmin))

	mux := http.NewServeMux()
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, routes.Metrics.ServeHTTP))
	}
	if routes.GateEntry != nil {
		mux.Handle("/gate/entry", agent(method(http.MethodPost, routes.GateEntry)))
	}
	if routes.GateExit != nil {
		mux.Handle("/gate/exit", agent(method(http.MethodPost, routes.GateExit)))
	}
	if routes.GateWS != nil {
		mux.Handle("/gate/ws", agent(method(http.MethodGet, routes.GateWS)))
	}
	if routes.ActiveSession != nil {
		mux.Handle("/sessions/active", agent(method(http.MethodGet, routes.ActiveSession)))
	}
	if routes.Sessions != nil {
		mux.Handle("/sessions", agent(method(http.MethodGet, routes.Sessions)))
	}
	if routes.Charges != nil {
		mux.Handle("/charges", admin(method(http.MethodGet, routes.Charges)))
	}

	policies := map[string]http.Handler{}
	if routes.ListPolicies != nil {
		policies[http.MethodGet] = agent(routes.ListPolicies)
	}
	if routes.CreatePolicy != nil {
		policies[http.MethodPost] = admin(routes.CreatePolicy)
	}
	if routes.UpdatePolicy != nil {
		policies[http.MethodPatch] = admin(routes.UpdatePolicy)
	}
	if len(policies) > 0 {
		mux.Handle("/rate-policies", methods(policies))
	}

	if routes.Invoices != nil {
		mux.Handle("/invoices", admin(method(http.MethodGet, routes.Invoices)))
	}
	if routes.GenerateInvoice != nil {
		mux.Handle("/invoices/generate", admin(method(http.MethodPost, routes.GenerateInvoice)))
	}
	if routes.RecordPayment != nil {
		mux.Handle("/invoices/payments", admin(method(http.MethodPost, routes.RecordPayment)))
	}
	if routes.Backlog != nil {
		mux.Handle("/admin/backlog", admin(method(http.MethodGet, routes.Backlog)))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

func methods(handlers map[string]http.Handler) http.HandlerFunc {
	allowed := make([]string, 0, len(handlers))
	for m := range handlers {
		allowed = append(allowed, m)
	}
	sort.Strings(allowed)
	allow := strings.Join(allowed, ", ")

	return func(w http.ResponseWriter, r *http.Request) {
		handler, ok := handlers[r.Method]
		if !ok {
			w.Header().Set("Allow", allow)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	}
}

func chain(outer, inner func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return outer(inner(h))
	}
}
