package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/splitter/internal/service/auth"
	"github.com/splax/splitter/internal/service/avatar"
	"github.com/splax/splitter/internal/service/diagnostics"
	"github.com/splax/splitter/internal/service/expense"
	"github.com/splax/splitter/internal/service/friend"
	"github.com/splax/splitter/internal/service/group"
	"github.com/splax/splitter/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	friends    friend.Service
	groups     group.Service
	expenses   expense.Service
	avatars    avatar.Service
	gemini     *diagnostics.Gemini
	hub        *ws.Hub
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	metrics    *Metrics
	production bool
	dbHealth   func(context.Context) error
}

// Options carries router dependencies.
type Options struct {
	Logger     *slog.Logger
	Auth       auth.Service
	Friends    friend.Service
	Groups     group.Service
	Expenses   expense.Service
	Avatars    avatar.Service
	Gemini     *diagnostics.Gemini
	Hub        *ws.Hub
	Limiter    RateLimiter
	Metrics    *Metrics
	Production bool
	DBHealth   func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

var (
	errMethodNotAllowed = errorf(http.StatusMethodNotAllowed, "method not allowed")
	errNotFound         = errorf(http.StatusNotFound, "Not found")
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   opts.Logger,
		auth:     opts.Auth,
		friends:  opts.Friends,
		groups:   opts.Groups,
		expenses: opts.Expenses,
		avatars:  opts.Avatars,
		gemini:   opts.Gemini,
		hub:      opts.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		production: opts.Production,
		dbHealth:   opts.DBHealth,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.route("/healthz", "healthz", r.handle(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())

	r.route("/auth/register", "auth.register", r.withRateLimit("auth.register", rateLimitSignup, rateWindowDefault, rateLimitKeyIP("auth.register"), r.handle(r.handleRegister)))
	r.route("/auth/login", "auth.login", r.withRateLimit("auth.login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP("auth.login"), r.handle(r.handleLogin)))
	r.route("/auth/me", "auth.me", r.handlerAuthRate("auth.me", rateClassRead, rateLimitUserRead, rateWindowDefault, r.handle(r.handleMe)))

	r.route("/debug/", "debug", r.debugGate(r.handlerAuthRate("debug", rateClassRead, rateLimitUserRead, rateWindowDefault, r.handle(r.handleDebug))))

	r.route("/invites/redeem", "invites.redeem", r.userRate("invites.redeem", r.handle(r.handleRedeemInvite)))
	r.route("/friends", "friends", r.userRate("friends", r.handle(r.handleFriends)))
	r.route("/friends/", "friends", r.userRate("friends", r.handle(r.handleFriendSubroutes)))
	r.route("/groups", "groups", r.userRate("groups", r.handle(r.handleGroups)))
	r.route("/groups/", "groups", r.userRate("groups", r.handle(r.handleGroupSubroutes)))
	r.route("/users/me/avatar", "users.avatar", r.userRate("users.avatar", r.handle(r.handleAvatar)))

	r.route("/ws/events", "ws.events", r.handlerAuthRate("ws.events", rateClassRealtime, rateLimitWebsocket, rateWindowRealtime, r.handle(r.handleEventsWS)))
	r.route("/events", "events", r.handlerAuthRate("events", rateClassRealtime, rateLimitWebsocket, rateWindowRealtime, r.handle(r.handleEventsSSE)))

	r.mux.HandleFunc("/", r.audit("not_found", r.handle(func(http.ResponseWriter, *http.Request) error {
		return errNotFound
	})))
}

func (r *Router) route(pattern, name string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(name, r.recoverer(h)))
}

// apiHandler is a route handler that reports failures by returning an error.
type apiHandler func(http.ResponseWriter, *http.Request) error

// handle turns returned errors into the JSON error body. Server errors are
// logged with their cause and masked in production.
func (r *Router) handle(h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		r.writeFailure(w, req, err)
	}
}

func (r *Router) writeFailure(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "error", err, "method", req.Method, "path", req.URL.Path)
	}
	writeError(w, status, r.clientMessage(err, status))
}

func (r *Router) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				r.logger.Error("panic recovered", "panic", rec, "stack", string(debug.Stack()))
				r.writeFailure(w, req, fmt.Errorf("panic: %v", rec))
			}
		}()
		next(w, req)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodGet {
		return errMethodNotAllowed
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			detail := map[string]any{"status": "down"}
			if !r.production {
				detail["error"] = err.Error()
			}
			components["database"] = detail
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["events"] = map[string]any{"status": "up", "connections": r.hub.Connections()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
	return nil
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// pathID parses a positive integer path segment.
func pathID(segment string) (int64, bool) {
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// splitPath trims prefix and returns the remaining non-empty segments.
func splitPath(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
