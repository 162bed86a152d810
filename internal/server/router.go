package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/auth"
	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/store"
)

// Router serves the collection API used by agents, the read-only web API and
// the processor API. basePath may be empty or start with '/'; no trailing
// slash.
//
// Collection endpoints:
//
//	POST   {basePath}/api/agent/                                   register, returns id
//	GET    {basePath}/api/agent/:agent_id/
//	DELETE {basePath}/api/agent/:agent_id/
//	POST   {basePath}/api/agent/:agent_id/heartbeat
//	POST   {basePath}/api/agent/:agent_id/container
//	GET    {basePath}/api/agent/:agent_id/container/               query: context_id
//	POST   {basePath}/api/agent/:agent_id/container/:container_id/
//	DELETE {basePath}/api/agent/:agent_id/container/:container_id/
//	POST   {basePath}/api/agent/:agent_id/container/:container_id/status  query: status, since
//	POST   {basePath}/api/agent/:agent_id/container/:container_id/logs
//	POST   {basePath}/api/agent/:agent_id/logs
//	PUT    {basePath}/api/agent/:agent_id/context/
//	GET    {basePath}/api/agent/:agent_id/context/
//	DELETE {basePath}/api/agent/:agent_id/context/:context_id/
//
// With auth enabled the collection endpoints take agent tokens and the web and
// processor endpoints reader tokens. Health and metrics stay open.
type Router struct {
	st          store.Store
	basePath    string
	logger      *slog.Logger
	clock       clock.Clock
	status      func() []processor.LoopStatus
	metricsPath string
	metrics     http.Handler
	auth        *auth.Authenticator

	engine *gin.Engine
	group  *gin.RouterGroup
	read   *gin.RouterGroup
}

type Option func(*Router)

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

func WithClock(c clock.Clock) Option { return func(r *Router) { r.clock = c } }

// WithScheduler exposes the scheduler's loop states on GET /api/processors.
func WithScheduler(s *processor.Scheduler) Option {
	return func(r *Router) { r.status = s.Status }
}

// WithAuth guards the API with bearer tokens.
func WithAuth(a *auth.Authenticator) Option {
	return func(r *Router) {
		if a != nil {
			r.auth = a
		}
	}
}

// WithMetrics mounts h on GET path.
func WithMetrics(path string, h http.Handler) Option {
	return func(r *Router) { r.metricsPath, r.metrics = path, h }
}

// NewRouter builds the gin engine. st should be the intercepted store so
// every write passes through the registered processors.
func NewRouter(st store.Store, basePath string, opts ...Option) *Router {
	r := &Router{
		st:       st,
		basePath: sanitizeBase(basePath),
		logger:   slog.Default(),
		clock:    clock.Real(),
		auth:     &auth.Authenticator{},
	}
	for _, o := range opts {
		o(r)
	}
	g := gin.New()
	g.Use(gin.Recovery())
	r.engine = g
	r.group = g.Group(r.basePath)
	r.read = r.group.Group("", r.auth.GinAuth(auth.RoleReader))
	r.routes()
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler { return r.engine }

// ProcessorRoutes is where processors mount their endpoints during OnStartup.
func (r *Router) ProcessorRoutes() gin.IRoutes { return r.read }

func (r *Router) routes() {
	g := r.group

	a := g.Group("/api/agent", r.auth.GinAuth(auth.RoleAgent))
	a.POST("/", r.tx(r.registerAgent))
	a.GET("/:agent_id/", r.tx(r.getAgent))
	a.DELETE("/:agent_id/", r.tx(r.deleteAgent))
	a.POST("/:agent_id/heartbeat", r.tx(r.heartbeat))
	a.POST("/:agent_id/container", r.tx(r.registerContainer))
	a.GET("/:agent_id/container/", r.tx(r.listContainers))
	a.POST("/:agent_id/container/:container_id/", r.tx(r.updateContainer))
	a.DELETE("/:agent_id/container/:container_id/", r.tx(r.deleteContainer))
	a.POST("/:agent_id/container/:container_id/status", r.tx(r.containerStatus))
	a.POST("/:agent_id/container/:container_id/logs", r.tx(r.containerLogs))
	a.POST("/:agent_id/logs", r.tx(r.agentLogs))
	a.PUT("/:agent_id/context/", r.tx(r.registerContext))
	a.GET("/:agent_id/context/", r.tx(r.listContexts))
	a.DELETE("/:agent_id/context/:context_id/", r.tx(r.deleteContext))

	g.GET("/api/health", r.health)
	w := r.read.Group("/api/web")
	w.GET("/agents", r.tx(r.webAgents))
	w.GET("/services", r.tx(r.webServices))
	w.GET("/orphans", r.tx(r.webOrphans))
	w.GET("/logs", r.tx(r.webLogs))

	r.read.GET("/api/processors", r.processorStatus)
	if r.metrics != nil {
		path := r.metricsPath
		if path == "" {
			path = "/metrics"
		}
		g.GET(path, gin.WrapH(r.metrics))
	}
}

// --- request plumbing ---

type errorResp struct {
	Error string `json:"error"`
}

// reply is what a handler wants written once its session committed.
// A nil body writes the status only.
type reply struct {
	code int
	body any
}

func ok(body any) reply      { return reply{code: http.StatusOK, body: body} }
func created(body any) reply { return reply{code: http.StatusCreated, body: body} }
func noContent() reply       { return reply{code: http.StatusNoContent} }

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error { return &httpError{code: http.StatusBadRequest, msg: msg} }
func notFound(msg string) error   { return &httpError{code: http.StatusNotFound, msg: msg} }
func conflict(msg string) error   { return &httpError{code: http.StatusConflict, msg: msg} }

type handlerFunc func(c *gin.Context, sess store.Session) (reply, error)

// tx runs h on a fresh intercepted session. The session is committed when h
// succeeds and closed in every case, so a failed request leaves no writes.
func (r *Router) tx(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := r.st.Session()
		defer func() { _ = sess.Close() }()

		rep, err := h(c, sess)
		if err == nil {
			err = sess.Commit(c.Request.Context())
		}
		if err != nil {
			r.fail(c, err)
			return
		}
		if rep.body == nil {
			c.Status(rep.code)
			return
		}
		writeJSON(c, rep.code, rep.body)
	}
}

func (r *Router) fail(c *gin.Context, err error) {
	var he *httpError
	switch {
	case errors.As(err, &he):
		writeJSON(c, he.code, errorResp{Error: he.msg})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, store.ErrDuplicate):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		r.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) health(c *gin.Context) {
	if err := r.st.Ping(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) processorStatus(c *gin.Context) {
	if r.status == nil {
		writeJSON(c, http.StatusOK, []processor.LoopStatus{})
		return
	}
	writeJSON(c, http.StatusOK, r.status())
}
