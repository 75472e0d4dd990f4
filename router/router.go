// Package router serves table reads from whichever shard the routing document
// names. The document is read on every request, so a cutover takes effect on
// the next request without a restart.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/routing"
)

// Config holds configuration for the Router.
type Config struct {
	// Store holds the routing document (required).
	Store routing.Store

	// Path is the document path (default: /sharding/config).
	Path string

	// Registry resolves shard references to backends with their credentials (required).
	Registry *backend.Registry

	// Logger is for observability (optional).
	Logger es.Logger

	// MetricsEnabled counts requests by route and status code.
	MetricsEnabled bool
}

// Router is an http.Handler.
type Router struct {
	config Config
	mux    *http.ServeMux
}

var _ http.Handler = (*Router)(nil)

// TableResponse is the body of a successful table read.
type TableResponse struct {
	Source string                   `json:"source"`
	Data   []map[string]interface{} `json:"data"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Path == "" {
		cfg.Path = routing.DefaultPath
	}

	r := &Router{config: cfg, mux: http.NewServeMux()}
	r.mux.HandleFunc("GET /tables/{table}", r.handleTable)
	r.mux.HandleFunc("GET /config", r.handleConfig)
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleTable(w http.ResponseWriter, req *http.Request) {
	const route = "table"
	ctx := req.Context()
	table := req.PathValue("table")

	if err := backend.ValidateIdentifier(table, "table name"); err != nil {
		r.writeJSON(w, route, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	doc, err := r.config.Store.ReadDocument(ctx, r.config.Path)
	if err != nil {
		r.logError(req, "failed to read routing document", err)
		r.writeJSON(w, route, http.StatusInternalServerError, ErrorResponse{Error: "failed to get configuration"})
		return
	}

	ref, ok := doc.Resolve(table)
	if !ok {
		r.writeJSON(w, route, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("table %s is not routed", table)})
		return
	}

	b, err := r.config.Registry.Get(ref)
	if err != nil {
		r.logError(req, "failed to open shard", err)
		r.writeJSON(w, route, http.StatusInternalServerError, ErrorResponse{Error: fmt.Sprintf("failed to connect to %s", ref)})
		return
	}

	rows, err := b.Query(ctx, "SELECT * FROM "+b.Dialect().Quote(table))
	if err != nil {
		r.logError(req, "failed to query table", err)
		r.writeJSON(w, route, http.StatusInternalServerError, ErrorResponse{Error: fmt.Sprintf("failed to query %s", table)})
		return
	}

	data := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		m := make(map[string]interface{}, len(row.Columns))
		for j, col := range row.Columns {
			m[col] = row.Values[j]
		}
		data[i] = m
	}

	r.writeJSON(w, route, http.StatusOK, TableResponse{Source: ref.String(), Data: data})
}

func (r *Router) handleConfig(w http.ResponseWriter, req *http.Request) {
	const route = "config"

	doc, err := r.config.Store.ReadDocument(req.Context(), r.config.Path)
	if errors.Is(err, shardmover.ErrNotFound) {
		r.writeJSON(w, route, http.StatusNotFound, ErrorResponse{Error: "routing document not published"})
		return
	}
	if err != nil {
		r.logError(req, "failed to read routing document", err)
		r.writeJSON(w, route, http.StatusInternalServerError, ErrorResponse{Error: "failed to get configuration"})
		return
	}

	r.writeJSON(w, route, http.StatusOK, doc)
}

func (r *Router) writeJSON(w http.ResponseWriter, route string, status int, body interface{}) {
	if r.config.MetricsEnabled {
		metrics.RouterRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (r *Router) logError(req *http.Request, msg string, err error) {
	if r.config.Logger != nil {
		r.config.Logger.Error(req.Context(), msg, "path", req.URL.Path, "error", err)
	}
}
