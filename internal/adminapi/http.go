package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/nullcache/cachemgr/internal/eventbus"
	"github.com/nullcache/cachemgr/pkg/logger"
)

var validate = validator.New()

// HTTPHandler exposes the same seven verbs as the line protocol, as a
// REST/JSON bridge for operators who'd rather curl than dial a raw socket.
// Every command handler goes through the same Router the line listener
// uses (Dispatch, or DispatchArgs for load/inline), so the two transports
// can never diverge on command semantics. GET /api/v1/vcl/{name} has no
// line-protocol verb and reads the registry directly under Router's lock.
type HTTPHandler struct {
	Router *Router
	Logger *slog.Logger
}

// NewHTTPHandler builds the mux.Router for the admin HTTP bridge, with
// Swagger docs mounted at /docs/.
func NewHTTPHandler(router *Router, baseLogger *slog.Logger) http.Handler {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	h := &HTTPHandler{Router: router, Logger: baseLogger.With("component", "adminapi-http")}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/vcl", h.handleLoadOrInline).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/vcl", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/vcl/{name}", h.handleShow).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/vcl/{name}/use", h.handleUse).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/vcl/{name}/state", h.handleState).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/vcl/{name}", h.handleDiscard).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/labels", h.handleLabel).Methods(http.MethodPost)
	if router.Bus != nil {
		r.HandleFunc("/api/v1/events", h.handleEvents)
	}
	r.PathPrefix("/docs/").Handler(httpSwagger.WrapHandler)
	r.Use(logger.LoggingMiddleware(h.Logger))
	return r
}

type loadOrInlineRequest struct {
	Name       string `json:"name" validate:"required"`
	SourcePath string `json:"source_path,omitempty"`
	SourceText string `json:"source_text,omitempty"`
	State      string `json:"state,omitempty" validate:"omitempty,oneof=auto cold warm"`
}

func (h *HTTPHandler) handleLoadOrInline(w http.ResponseWriter, r *http.Request) {
	var req loadOrInlineRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	verb := "vcl.load"
	arg := req.SourcePath
	if req.SourceText != "" {
		verb = "vcl.inline"
		arg = req.SourceText
	}
	// Dispatched via DispatchArgs, not respond's line-reconstruction: req
	// already carries source text and state as separate JSON fields, and
	// re-joining them into one text line would hand inline source text
	// ending in a bare "auto"/"cold"/"warm" word back to splitCommand's
	// trailing-state heuristic, which can't tell that word apart from an
	// explicit state.
	h.respondArgs(w, r, verb, []string{req.Name, arg, req.State})
}

func (h *HTTPHandler) handleUse(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "vcl.use "+mux.Vars(r)["name"])
}

type stateRequest struct {
	State string `json:"state" validate:"required,oneof=auto cold warm"`
}

func (h *HTTPHandler) handleState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.respond(w, r, "vcl.state "+mux.Vars(r)["name"]+" "+req.State)
}

func (h *HTTPHandler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "vcl.discard "+mux.Vars(r)["name"])
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "vcl.list")
}

// configDetail is the vcl.show-equivalent elaboration of one config beyond
// what vcl.list's rendered text exposes (§12's supplemented introspection
// feature): a read-only view of data the registry already holds, not a new
// piece of state.
type configDetail struct {
	Name         string     `json:"name"`
	Intent       string     `json:"intent"`
	Warm         bool       `json:"warm"`
	Active       bool       `json:"active"`
	GoColdAt     *time.Time `json:"go_cold_at,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	LabelTarget  string     `json:"label_target,omitempty"`
	LabeledBy    string     `json:"labeled_by,omitempty"`
}

// handleShow answers GET /api/v1/vcl/{name}, there being no line-protocol
// verb for it: vcl.list already renders every config as text, this just
// exposes the same fields as structured JSON for one config at a time.
func (h *HTTPHandler) handleShow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	// Reads the same registry Dispatch mutates, so it takes Router's lock
	// just like Dispatch does rather than reading it unguarded.
	h.Router.Lock()
	defer h.Router.Unlock()

	reg := h.Router.Dispatcher.Registry
	c := reg.Find(name)
	if c == nil {
		writeJSONError(w, http.StatusNotFound, name+": config not found")
		return
	}

	detail := configDetail{
		Name:         c.Name,
		Intent:       c.Intent.String(),
		Warm:         c.Warm,
		Active:       reg.Active() == c,
		ArtifactPath: c.ArtifactPath,
	}
	if !c.GoColdAt.IsZero() {
		at := c.GoColdAt
		detail.GoColdAt = &at
	}
	if c.LabelTarget != nil {
		if c.IsLabel() {
			detail.LabelTarget = c.LabelTarget.Name
		} else {
			detail.LabeledBy = c.LabelTarget.Name
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(detail)
}

type labelRequest struct {
	Label  string `json:"label" validate:"required"`
	Target string `json:"target" validate:"required"`
}

func (h *HTTPHandler) handleLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.respond(w, r, "vcl.label "+req.Label+" "+req.Target)
}

// handleEvents upgrades to a websocket and streams dispatcher events as
// they are published, for a live dashboard.
func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := eventbus.Upgrade(h.Router.Bus, w, r, h.Logger); err != nil {
		h.Logger.Warn("adminapi: websocket upgrade failed", "error", err)
	}
}

func (h *HTTPHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

type wireResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// respond runs line through the shared Router and writes its (status,
// body) as JSON, mapping the wire status class onto the matching HTTP
// status so a generic HTTP client can branch on the response code alone.
func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, line string) {
	requestID := logger.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	status, body := h.Router.Dispatch(r.Context(), requestID, line)

	httpStatus := http.StatusOK
	if status < 200 || status >= 300 {
		httpStatus = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(wireResponse{Status: int(status), Body: body})
}

// respondArgs is respond's structured-args counterpart: it calls
// Router.DispatchArgs directly instead of reconstructing and reparsing a
// text line, for callers whose request body already gave them verb/args
// separately.
func (h *HTTPHandler) respondArgs(w http.ResponseWriter, r *http.Request, verb string, args []string) {
	requestID := logger.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	status, body := h.Router.DispatchArgs(r.Context(), requestID, verb, args)

	httpStatus := http.StatusOK
	if status < 200 || status >= 300 {
		httpStatus = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(wireResponse{Status: int(status), Body: body})
}

func writeJSONError(w http.ResponseWriter, httpStatus int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(wireResponse{Status: httpStatus, Body: message})
}
