package plant

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/httpx"
	v1 "mes/shared/contracts/realtime/v1"
)

// Notifier pushes changes to websocket subscribers.
type Notifier interface {
	NotifySensorData(sensorID string, reading v1.SensorReading) int
	NotifyNewWorkOrders(organizationID string, payload any) int
	NotifyWorkOrdersAdvance(organizationID string, advance v1.WorkOrderAdvance) int
}

// Handler serves the plant REST routes.
type Handler struct {
	log      *slog.Logger
	store    Store
	notify   Notifier
	validate *validator.Validate
	maxBody  int64
	now      func() time.Time
}

// NewHandler constructs a Handler. A nil notifier disables push.
func NewHandler(log *slog.Logger, store Store, notify Notifier) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("plant: nil store")
	}
	return &Handler{
		log:      log,
		store:    store,
		notify:   notify,
		validate: httpx.NewValidator(),
		maxBody:  httpx.DefaultMaxBodyBytes,
		now:      time.Now,
	}, nil
}

var writers = []string{identity.RoleAdmin, identity.RoleSupervisor, identity.RoleOperator}

// Register wires the plant routes under /api/v1. authn puts session claims
// on the request context (session.Service.Middleware); it wraps the concrete
// routes only, so unknown paths still fall through to the router's NotFound.
func (h *Handler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/sensors/{sensorID}/data", h.handleListReadings)
			r.Get("/organizations/{orgID}/workorders", h.handleListWorkOrders)

			r.Group(func(r chi.Router) {
				r.Use(session.RequireRole(writers...))
				r.Post("/sensors/{sensorID}/data", h.handlePostReading)
				r.Post("/organizations/{orgID}/workorders", h.handleCreateWorkOrders)
				r.Post("/workorders/{workOrderID}/advance", h.handleAdvance)
			})
		})
	})
}

type readingRequest struct {
	Value *float64   `json:"value" validate:"required"`
	Time  *time.Time `json:"time"`
}

type readingResponse struct {
	SensorID string    `json:"sensorId"`
	Value    float64   `json:"value"`
	Time     time.Time `json:"time"`
}

type readingsResponse struct {
	SensorID string            `json:"sensorId"`
	Readings []readingResponse `json:"readings"`
}

type newWorkOrderRequest struct {
	Number        string     `json:"number" validate:"required,max=128"`
	Quantity      int        `json:"quantity" validate:"required,gt=0"`
	ExecutionDate *time.Time `json:"executionDate"`
}

type createWorkOrdersRequest struct {
	WorkOrders []newWorkOrderRequest `json:"workOrders" validate:"required,min=1,max=100,dive"`
}

type advanceRequest struct {
	CompletedQuantity *int   `json:"completedQuantity" validate:"required,gte=0"`
	Status            string `json:"status" validate:"omitempty,oneof=pending in_progress completed"`
}

type workOrdersResponse struct {
	OrganizationID string         `json:"organizationId"`
	WorkOrders     []v1.WorkOrder `json:"workOrders"`
}

func (h *Handler) handlePostReading(w http.ResponseWriter, r *http.Request) {
	sensorID := strings.TrimSpace(chi.URLParam(r, "sensorID"))

	var req readingRequest
	if !h.decode(w, r, &req) {
		return
	}

	reading := Reading{SensorID: sensorID, Value: *req.Value, Time: h.now()}
	if req.Time != nil {
		reading.Time = *req.Time
	}
	reading.Time = reading.Time.UTC()

	if err := h.store.AppendReading(r.Context(), reading); err != nil {
		h.writeStoreError(w, "plant.reading.append.fail", err)
		return
	}

	if h.notify != nil {
		h.notify.NotifySensorData(sensorID, reading.wire())
	}

	httpx.WriteJSON(w, http.StatusCreated, readingResponse{
		SensorID: sensorID,
		Value:    reading.Value,
		Time:     reading.Time,
	})
}

func (h *Handler) handleListReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := strings.TrimSpace(chi.URLParam(r, "sensorID"))

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.store.LatestReadings(r.Context(), sensorID, limit)
	if err != nil {
		h.writeStoreError(w, "plant.reading.list.fail", err)
		return
	}

	out := readingsResponse{SensorID: sensorID, Readings: make([]readingResponse, 0, len(list))}
	for _, rd := range list {
		out.Readings = append(out.Readings, readingResponse{SensorID: rd.SensorID, Value: rd.Value, Time: rd.Time})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateWorkOrders(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))
	if !h.authorizeOrg(w, r, orgID) {
		return
	}

	var req createWorkOrdersRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch := make([]NewWorkOrder, 0, len(req.WorkOrders))
	for _, in := range req.WorkOrders {
		batch = append(batch, NewWorkOrder{Number: in.Number, Quantity: in.Quantity, ExecutionDate: in.ExecutionDate})
	}

	created, err := h.store.CreateWorkOrders(r.Context(), orgID, batch, h.now())
	if err != nil {
		h.writeStoreError(w, "plant.workorders.create.fail", err)
		return
	}

	payload := v1.NewWorkOrders{OrganizationID: orgID, WorkOrders: make([]v1.WorkOrder, 0, len(created))}
	for _, wo := range created {
		payload.WorkOrders = append(payload.WorkOrders, wo.wire())
	}

	if h.notify != nil {
		h.notify.NotifyNewWorkOrders(orgID, payload)
	}
	h.log.Info("plant.workorders.created", "organization_id", orgID, "count", len(created))

	httpx.WriteJSON(w, http.StatusCreated, workOrdersResponse(payload))
}

func (h *Handler) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))
	if !h.authorizeOrg(w, r, orgID) {
		return
	}

	list, err := h.store.ListWorkOrders(r.Context(), orgID)
	if err != nil {
		h.writeStoreError(w, "plant.workorders.list.fail", err)
		return
	}

	out := workOrdersResponse{OrganizationID: orgID, WorkOrders: make([]v1.WorkOrder, 0, len(list))}
	for _, wo := range list {
		out.WorkOrders = append(out.WorkOrders, wo.wire())
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "workOrderID"))

	var req advanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	current, err := h.store.WorkOrder(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "plant.workorder.get.fail", err)
		return
	}
	if !h.authorizeOrg(w, r, current.OrganizationID) {
		return
	}

	next, err := h.store.AdvanceWorkOrder(r.Context(), AdvanceInput{
		WorkOrderID:       id,
		CompletedQuantity: *req.CompletedQuantity,
		Status:            req.Status,
		Now:               h.now(),
	})
	if err != nil {
		h.writeStoreError(w, "plant.workorder.advance.fail", err)
		return
	}

	if h.notify != nil {
		h.notify.NotifyWorkOrdersAdvance(next.OrganizationID, next.advance())
	}
	h.log.Info("plant.workorder.advanced",
		"work_order_id", next.ID,
		"organization_id", next.OrganizationID,
		"completed_quantity", next.CompletedQuantity,
		"status", next.Status,
	)

	httpx.WriteJSON(w, http.StatusOK, next.wire())
}

// authorizeOrg lets admins act on any organization and everyone else only on
// the organization in their token. Tokens without an organization are not scoped.
func (h *Handler) authorizeOrg(w http.ResponseWriter, r *http.Request, orgID string) bool {
	claims, ok := session.ClaimsFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return false
	}
	if claims.Role == identity.RoleAdmin || claims.OrganizationID == "" || claims.OrganizationID == orgID {
		return true
	}
	httpx.WriteError(w, http.StatusForbidden, "forbidden", "organization not accessible")
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, h.maxBody, dst); err != nil {
		if httpx.IsBodyTooLarge(err) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if msg, ok := httpx.Validate(h.validate, dst); !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, event string, err error) {
	var op OpError
	switch {
	case errors.Is(err, ErrInvalidInput):
		msg := "invalid request"
		if errors.As(err, &op) && op.Msg != "" {
			msg = op.Msg
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", msg)
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, ErrConflict):
		msg := "conflict"
		if errors.As(err, &op) && op.Msg != "" {
			msg = op.Msg
		}
		httpx.WriteError(w, http.StatusConflict, "conflict", msg)
	default:
		h.log.Error(event, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
