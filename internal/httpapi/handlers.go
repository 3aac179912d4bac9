package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"hivegate.org/internal/audit"
	"hivegate.org/internal/auth"
	"hivegate.org/internal/gate"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/obs"
	"hivegate.org/internal/relay"
)

const (
	serviceName = "hivegate"

	defaultMaxBody    = 1 << 20
	defaultRateBurst  = 40
	defaultRatePerSec = 20
)

// ReadyProbe checks the app registry database, when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Auth    *auth.Service
	Gate    *gate.Gate
	Relay   *relay.Relay
	Node    ledger.Node
	Ready   readinessChecker
	Version string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	gate    *gate.Gate
	relay   *relay.Relay
	node    ledger.Node
	ready   readinessChecker
	version string

	maxBody    int64
	rateBurst  int
	ratePerSec float64
}

// Option tunes the transport limits.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

var errMissingDeps = errors.New("httpapi: auth, gate, relay and node are required")

func New(d Deps, opts ...Option) (*API, error) {
	if d.Auth == nil || d.Gate == nil || d.Relay == nil || d.Node == nil {
		return nil, errMissingDeps
	}
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		auth:       d.Auth,
		gate:       d.Gate,
		relay:      d.Relay,
		node:       d.Node,
		ready:      d.Ready,
		version:    d.Version,
		maxBody:    defaultMaxBody,
		rateBurst:  defaultRateBurst,
		ratePerSec: defaultRatePerSec,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.Handle("/api/broadcast", a.authenticated(a.handleBroadcast, auth.KindAccess))
	a.mux.HandleFunc("/api/oauth2/token", a.handleToken)
	a.mux.Handle("/api/oauth2/token/revoke", a.authenticated(a.handleRevoke, auth.KindAccess, auth.KindRefresh))
	a.mux.Handle("/api/oauth2/authorize", a.authenticated(a.handleAuthorize, auth.KindLogin))
	a.mux.Handle("/api/me", a.authenticated(a.handleMe, auth.KindAccess, auth.KindLogin))

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	return a, nil
}

// Handler returns the mux behind the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if !obs.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the OAuth-style error body used on every route.
func writeError(w http.ResponseWriter, r *http.Request, code int, kind, description string) {
	payload := map[string]any{
		"error":             kind,
		"error_description": description,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
}

// nodeAddress names the node a call went to, for log lines.
func (a *API) nodeAddress() string {
	if n, ok := a.node.(interface{ CurrentAddress() string }); ok {
		return n.CurrentAddress()
	}
	return ""
}
