// Package httpapi exposes the operational HTTP API: feeding registry
// events in, querying subscribers, pending tasks, push traces and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"namingpush/internal/eventbus"
	"namingpush/internal/naming"
	"namingpush/internal/registry"
	rtsup "namingpush/internal/runtime/supervisor"
	"namingpush/internal/storage"
	"namingpush/pkg/logx"
)

// Registry is the write side of the in-memory registry.
type Registry interface {
	Connect(id, addr string) error
	Disconnect(id string)
	Subscribe(sub naming.Subscriber) (naming.Service, error)
	PutService(info naming.ServiceInfo)
	RemoveService(svc naming.Service)
	ServiceInfo(svc naming.Service) (naming.ServiceInfo, bool)
	Watch(id, namespace, pattern string) ([]naming.Service, error)
}

// Queries is the read side served by the subscriber service.
type Queries interface {
	SubscribersByName(namespace, groupedName string) []naming.Subscriber
	FuzzySubscribers(namespace, groupedPattern string) []naming.Subscriber
	PendingTaskCount() int
}

// Deps are everything the router reads from or writes to.
type Deps struct {
	Registry Registry
	Bus      eventbus.Bus
	Queries  Queries
	// Traces may be nil when storage is disabled.
	Traces   storage.Store
	Gatherer prometheus.Gatherer
	// Runtime, when set, adds goroutine counters to /healthz.
	Runtime *rtsup.Supervisor
	// Profiler mounts the pprof handlers under /debug.
	Profiler bool
	Log      logx.Logger
}

type api struct {
	deps Deps
	log  logx.Logger
}

// NewRouter builds the chi router.
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &api{deps: deps, log: log.With(logx.String("comp", "http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.accessLog)

	r.Get("/healthz", a.healthz)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if deps.Profiler {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/clients", a.connectClient)
		r.Delete("/clients/{id}", a.disconnectClient)
		r.Post("/subscriptions", a.subscribe)
		r.Put("/services", a.putService)
		r.Delete("/services", a.deleteService)
		r.Post("/fuzzy-watches", a.fuzzyWatch)

		r.Get("/subscribers", a.subscribers)
		r.Get("/subscribers/fuzzy", a.fuzzySubscribers)
		r.Get("/stats", a.stats)
		r.Get("/traces", a.traces)
	})
	return r
}

type healthResponse struct {
	Status  string          `json:"status"`
	Runtime *rtsup.Counters `json:"runtime,omitempty"`
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.deps.Runtime != nil {
		c := a.deps.Runtime.Counters()
		if c.FirstErr != "" {
			resp.Status = "degraded"
		}
		resp.Runtime = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

type clientRequest struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

func (a *api) connectClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.deps.Registry.Connect(req.ID, req.Addr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (a *api) disconnectClient(w http.ResponseWriter, r *http.Request) {
	a.deps.Registry.Disconnect(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) subscribe(w http.ResponseWriter, r *http.Request) {
	var sub naming.Subscriber
	if !decode(w, r, &sub) {
		return
	}
	svc, err := a.deps.Registry.Subscribe(sub)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	a.deps.Bus.Publish(eventbus.ClientSubscribed{Service: svc, ClientID: sub.ClientID})
	writeJSON(w, http.StatusAccepted, map[string]any{"service": svc.Key(), "client_id": sub.ClientID})
}

type serviceRequest struct {
	Namespace string            `json:"namespace"`
	Group     string            `json:"group"`
	Name      string            `json:"name"`
	Instances []naming.Instance `json:"instances"`
}

func (req serviceRequest) service() (naming.Service, error) {
	if strings.TrimSpace(req.Name) == "" {
		return naming.Service{}, errors.New("name is required")
	}
	return naming.NewService(req.Namespace, req.Group, req.Name), nil
}

func (a *api) putService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	svc, err := req.service()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	change := naming.ChangeChanged
	prev, ok := a.deps.Registry.ServiceInfo(svc)
	if !ok {
		change = naming.ChangeAdded
	}
	info := naming.ServiceInfo{Service: svc, Instances: req.Instances, Revision: prev.Revision + 1}
	a.deps.Registry.PutService(info)
	a.deps.Bus.Publish(eventbus.ServiceChanged{Service: svc, Change: change})
	writeJSON(w, http.StatusAccepted, map[string]any{"service": svc.Key(), "revision": info.Revision, "change": change})
}

func (a *api) deleteService(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := serviceRequest{Namespace: q.Get("namespace"), Group: q.Get("group"), Name: q.Get("name")}
	svc, err := req.service()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.deps.Registry.RemoveService(svc)
	a.deps.Bus.Publish(eventbus.ServiceChanged{Service: svc, Change: naming.ChangeRemoved})
	w.WriteHeader(http.StatusAccepted)
}

type fuzzyWatchRequest struct {
	ClientID  string `json:"client_id"`
	Namespace string `json:"namespace"`
	Pattern   string `json:"pattern"`
}

func (a *api) fuzzyWatch(w http.ResponseWriter, r *http.Request) {
	var req fuzzyWatchRequest
	if !decode(w, r, &req) {
		return
	}
	matched, err := a.deps.Registry.Watch(req.ClientID, req.Namespace, req.Pattern)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	pattern := naming.CompletedPattern(req.Namespace, req.Pattern)
	a.deps.Bus.Publish(eventbus.FuzzyWatchInit{ClientID: req.ClientID, Pattern: pattern, Matched: matched})
	writeJSON(w, http.StatusAccepted, map[string]any{"pattern": pattern, "matched": len(matched)})
}

func (a *api) subscribers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service := q.Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, errors.New("service is required"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse(a.deps.Queries.SubscribersByName(namespaceOf(q.Get("namespace")), service)))
}

func (a *api) fuzzySubscribers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, listResponse(a.deps.Queries.FuzzySubscribers(namespaceOf(q.Get("namespace")), q.Get("pattern"))))
}

type statsResponse struct {
	PendingTasks  int    `json:"pending_tasks"`
	EventsDropped uint64 `json:"events_dropped"`
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		PendingTasks:  a.deps.Queries.PendingTaskCount(),
		EventsDropped: a.deps.Bus.Dropped(),
	})
}

func (a *api) traces(w http.ResponseWriter, r *http.Request) {
	if a.deps.Traces == nil {
		writeJSON(w, http.StatusOK, listResponse([]storage.PushTrace{}))
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	got, err := a.deps.Traces.RecentTraces(ctx, limit)
	if err != nil {
		a.log.Warn("trace query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(got))
}

type list[T any] struct {
	Data       []T `json:"data"`
	TotalCount int `json:"total_count"`
}

func listResponse[T any](items []T) list[T] {
	if items == nil {
		items = []T{}
	}
	return list[T]{Data: items, TotalCount: len(items)}
}

func namespaceOf(ns string) string {
	if strings.TrimSpace(ns) == "" {
		return naming.DefaultNamespace
	}
	return ns
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownClient):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
