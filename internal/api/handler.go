// Package api mounts the topology control plane's HTTP surface: thin chi
// handlers that decode a request, call the matching pkg/topology operation,
// persist the result through the store, and translate pkg/apierr failures
// to HTTP status codes. No business logic lives here — it belongs to
// pkg/topology, leaving these handlers as thin wrappers around the
// domain packages.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opentomato/tomato/internal/audit"
	"github.com/opentomato/tomato/internal/auth"
	"github.com/opentomato/tomato/internal/db"
	"github.com/opentomato/tomato/internal/httpserver"
	"github.com/opentomato/tomato/internal/telemetry"
	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/registry"
	"github.com/opentomato/tomato/pkg/topology"
	"github.com/opentomato/tomato/pkg/usage"
)

// Handler wires the topology store, audit trail, and element registry to
// chi routes.
type Handler struct {
	Store    *db.TopologyStore
	Usage    *db.UsageStore
	Audit    *audit.Writer
	AuditLog *db.AuditStore
	Reg      *registry.Registry
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Timeout  TimeoutPolicy
}

// TimeoutPolicy carries the renew bounds a Handler enforces, sourced from
// internal/config.Config.
type TimeoutPolicy struct {
	Initial time.Duration
	Warning time.Duration
	Max     time.Duration
}

// Mount registers every topology route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/topologies", h.createTopology)
	r.Get("/topologies", h.listTopologies)
	r.Get("/topologies/{id}", h.getTopology)
	r.Get("/topologies/{id}/usage", h.getTopologyUsage)
	r.Get("/topologies/{id}/audit", h.listAuditTrail)
	r.Patch("/topologies/{id}", h.modifyTopology)
	r.Delete("/topologies/{id}", h.removeTopology)
	r.Post("/topologies/{id}/renew", h.renewTopology)
	r.Put("/topologies/{id}/roles/{user}", h.modifyRole)
	r.Post("/topologies/{id}/actions/{action}", h.performAction)
	r.Post("/topologies/{id}/elements", h.createElement)
	r.Patch("/topologies/{id}/elements/{elementID}", h.modifyElement)
	r.Delete("/topologies/{id}/elements/{elementID}", h.removeElement)
	r.Post("/topologies/{id}/connections", h.createConnection)
}

func identity(r *http.Request) *auth.Identity {
	return auth.FromContext(r.Context())
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

func (h *Handler) loadTopology(w http.ResponseWriter, r *http.Request) (*topology.Topology, bool) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_VALUE", "malformed topology id")
		return nil, false
	}
	t, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if err == db.ErrNotFound {
			httpserver.RespondError(w, http.StatusNotFound, string(apierr.NotFound), "topology not found")
			return nil, false
		}
		h.Logger.Error("load topology", "error", err, "topology", id)
		httpserver.RespondError(w, http.StatusInternalServerError, string(apierr.Internal), "failed to load topology")
		return nil, false
	}
	return t, true
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, t *topology.Topology) bool {
	if err := h.Store.Save(r.Context(), t); err != nil {
		if apierr.Is(err, apierr.Busy) {
			httpserver.RespondAPIError(w, err)
			return false
		}
		h.Logger.Error("save topology", "error", err, "topology", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, string(apierr.Internal), "failed to persist topology")
		return false
	}
	return true
}

func (h *Handler) logAction(r *http.Request, topologyID uuid.UUID, action string) {
	if h.Audit == nil {
		return
	}
	id := identity(r)
	actor := "unknown"
	if id != nil {
		actor = id.Subject
	}
	h.Audit.Log(audit.Entry{
		Actor:      actor,
		Action:     action,
		TopologyID: topologyID,
		At:         time.Now().UTC(),
	})
}

type createTopologyRequest struct {
	Name                  string  `json:"name" validate:"required"`
	Site                  *string `json:"site,omitempty"`
	InitialTimeoutSeconds int     `json:"initial_timeout_seconds,omitempty"`
}

func (h *Handler) createTopology(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	if id.NoTopologyCreate {
		httpserver.RespondAPIError(w, apierr.New(apierr.Denied, "account is not allowed to create topologies"))
		return
	}

	var req createTopologyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	initial := h.Timeout.Initial
	if req.InitialTimeoutSeconds > 0 {
		initial = time.Duration(req.InitialTimeoutSeconds) * time.Second
	}

	t := topology.New(uuid.New(), req.Name, id.Subject, req.Site, initial, h.Reg)
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "create_topology")
	httpserver.Respond(w, http.StatusCreated, t.Info(true))
}

func (h *Handler) listTopologies(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var topos []*topology.Topology
	if r.URL.Query().Get("show_all") == "true" && id.IsAdmin {
		topos, err = h.Store.ListAll(r.Context())
	} else {
		topos, err = h.Store.ListOwnedBy(r.Context(), id.Subject)
	}
	if err != nil {
		h.Logger.Error("list topologies", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, string(apierr.Internal), "failed to list topologies")
		return
	}

	total := len(topos)
	if params.Offset < total {
		topos = topos[params.Offset:]
	} else {
		topos = nil
	}
	if len(topos) > params.PageSize {
		topos = topos[:params.PageSize]
	}

	out := make([]topology.Info, 0, len(topos))
	for _, t := range topos {
		info := t.Info(false)
		h.attachUsage(r, t.ID, &info)
		out = append(out, info)
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, total))
}

func (h *Handler) getTopology(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	if err := t.Permissions.RequireRole(id.Subject, id.IsAdmin, permissions.RoleUser); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	full := r.URL.Query().Get("full") == "true"
	info := t.Info(full)
	h.attachUsage(r, t.ID, &info)
	httpserver.Respond(w, http.StatusOK, info)
}

// attachUsage fills info.Usage with the topology's latest 5-minute
// totalUsage record. The usage store is only wired in the API process
// (it's nil in tests and in any caller that doesn't need it), and a lookup
// failure just leaves Usage nil rather than failing the whole request — a
// topology's control-plane state is never contingent on its accounting
// history being reachable.
func (h *Handler) attachUsage(r *http.Request, topologyID uuid.UUID, info *topology.Info) {
	if h.Usage == nil {
		return
	}
	rec, err := h.Usage.Latest(r.Context(), topologyID, usage.FiveMinute)
	if err != nil {
		h.Logger.Warn("load topology usage", "topology", topologyID, "error", err)
		return
	}
	info.Usage = rec
}

// getTopologyUsage answers the topology_usage call: the topology's latest
// 5-minute totalUsage record, or null if none has been recorded yet.
func (h *Handler) getTopologyUsage(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	if err := t.Permissions.RequireRole(id.Subject, id.IsAdmin, permissions.RoleUser); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if h.Usage == nil {
		httpserver.Respond(w, http.StatusOK, nil)
		return
	}
	rec, err := h.Usage.Latest(r.Context(), t.ID, usage.FiveMinute)
	if err != nil {
		h.Logger.Error("get topology usage", "error", err, "topology", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, string(apierr.Internal), "failed to load usage")
		return
	}
	httpserver.Respond(w, http.StatusOK, rec)
}

// listAuditTrail returns the topology's audit entries newest first, cursor
// paginated so a long-lived topology's trail can be walked page by page
// while new entries keep arriving at the head.
func (h *Handler) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	if err := t.Permissions.RequireRole(id.Subject, id.IsAdmin, permissions.RoleUser); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if h.AuditLog == nil {
		httpserver.Respond(w, http.StatusOK, httpserver.CursorPage[audit.Entry]{Items: []audit.Entry{}})
		return
	}

	var afterAt time.Time
	var afterID uuid.UUID
	if params.After != nil {
		afterAt = params.After.CreatedAt
		afterID = params.After.ID
	}
	entries, err := h.AuditLog.ListByTopology(r.Context(), t.ID, afterAt, afterID, params.Limit+1)
	if err != nil {
		h.Logger.Error("list audit trail", "error", err, "topology", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, string(apierr.Internal), "failed to load audit trail")
		return
	}
	page := httpserver.NewCursorPage(entries, params.Limit, func(e audit.Entry) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: e.At, ID: e.ID}
	})
	httpserver.Respond(w, http.StatusOK, page)
}

func (h *Handler) modifyTopology(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	var attrs map[string]any
	if err := httpserver.Decode(r, &attrs); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := t.Modify(id.Subject, id.IsAdmin, attrs); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "modify_topology")
	info := t.Info(true)
	h.attachUsage(r, t.ID, &info)
	httpserver.Respond(w, http.StatusOK, info)
}

func (h *Handler) removeTopology(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	recurse := r.URL.Query().Get("recurse") == "true"
	if err := t.Remove(id.Subject, id.IsAdmin, recurse); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if err := h.Store.Delete(r.Context(), t.ID); err != nil {
		h.Logger.Error("delete topology", "error", err, "topology", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, string(apierr.Internal), "failed to delete topology")
		return
	}
	h.logAction(r, t.ID, "remove_topology")
	w.WriteHeader(http.StatusNoContent)
}

// renewRequest carries the renew action's single parameter: seconds from
// now until the new deadline.
type renewRequest struct {
	Timeout float64 `json:"timeout" validate:"gte=0"`
}

func (h *Handler) renewTopology(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	var req renewRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	deadline := time.Now().Add(time.Duration(req.Timeout * float64(time.Second)))
	if err := t.Renew(id.Subject, id.IsAdmin, deadline, h.Timeout.Max, h.Timeout.Warning); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "renew_topology")
	info := t.Info(false)
	h.attachUsage(r, t.ID, &info)
	httpserver.Respond(w, http.StatusOK, info)
}

type modifyRoleRequest struct {
	Role permissions.Role `json:"role"`
}

func (h *Handler) modifyRole(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	user := chi.URLParam(r, "user")
	var req modifyRoleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := t.ModifyRole(id.Subject, id.IsAdmin, user, req.Role); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "modify_role")
	info := t.Info(true)
	h.attachUsage(r, t.ID, &info)
	httpserver.Respond(w, http.StatusOK, info)
}

func (h *Handler) performAction(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}

	action := chi.URLParam(r, "action")
	started := time.Now()

	var err error
	switch action {
	case "prepare":
		err = t.ActionPrepare(id.Subject, id.IsAdmin)
	case "start":
		err = t.ActionStart(id.Subject, id.IsAdmin)
	case "stop":
		err = t.ActionStop(id.Subject, id.IsAdmin)
	case "destroy":
		err = t.ActionDestroy(id.Subject, id.IsAdmin)
	case "renew":
		var req renewRequest
		if !httpserver.DecodeAndValidate(w, r, &req) {
			return
		}
		deadline := time.Now().Add(time.Duration(req.Timeout * float64(time.Second)))
		err = t.Renew(id.Subject, id.IsAdmin, deadline, h.Timeout.Max, h.Timeout.Warning)
	default:
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "unknown action")
		return
	}
	h.observeAction(action, started, err)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "action_"+action)
	info := t.Info(false)
	h.attachUsage(r, t.ID, &info)
	httpserver.Respond(w, http.StatusOK, info)
}

// observeAction records one compound-action invocation's outcome and
// duration, when a metrics registry is wired in.
func (h *Handler) observeAction(action string, started time.Time, err error) {
	if h.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.Metrics.TopologyActionsTotal.WithLabelValues(action, outcome).Inc()
	h.Metrics.TopologyActionDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

type createElementRequest struct {
	Type     string         `json:"type" validate:"required"`
	ParentID *uuid.UUID     `json:"parent_id,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

func (h *Handler) createElement(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	var req createElementRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	el, err := t.CreateElement(id.Subject, id.IsAdmin, req.Type, req.ParentID, req.Attrs)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "create_element")
	httpserver.Respond(w, http.StatusCreated, el)
}

func (h *Handler) modifyElement(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	elementID, err := pathUUID(r, "elementID")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_VALUE", "malformed element id")
		return
	}
	var attrs map[string]any
	if err := httpserver.Decode(r, &attrs); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := t.ModifyElement(id.Subject, id.IsAdmin, elementID, attrs); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "modify_element")
	httpserver.Respond(w, http.StatusOK, t.Info(true))
}

func (h *Handler) removeElement(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	elementID, err := pathUUID(r, "elementID")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_VALUE", "malformed element id")
		return
	}
	if err := t.RemoveElement(id.Subject, id.IsAdmin, elementID); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "remove_element")
	w.WriteHeader(http.StatusNoContent)
}

type createConnectionRequest struct {
	Concept  string    `json:"concept" validate:"required"`
	ElementA uuid.UUID `json:"element_a" validate:"required"`
	ElementB uuid.UUID `json:"element_b" validate:"required"`
}

func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	t, ok := h.loadTopology(w, r)
	if !ok {
		return
	}
	var req createConnectionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	conn, err := t.CreateConnection(id.Subject, id.IsAdmin, req.Concept, req.ElementA, req.ElementB)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if !h.save(w, r, t) {
		return
	}
	h.logAction(r, t.ID, "create_connection")
	httpserver.Respond(w, http.StatusCreated, conn)
}
