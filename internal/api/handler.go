package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const defaultOperationTimeout = 10 * time.Second

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes the user repository over HTTP.
type Handler struct {
	users  storage.UserStore
	pinger Pinger
	logger *zap.Logger

	clock            func() time.Time
	operationTimeout time.Duration
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithPinger enables the database check of the health endpoint.
func WithPinger(p Pinger) HandlerOption {
	return func(h *Handler) {
		h.pinger = p
	}
}

// WithOperationTimeout bounds every repository call made while serving a request.
func WithOperationTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.operationTimeout = d
		}
	}
}

// NewHandler constructs a Handler over users.
func NewHandler(users storage.UserStore, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		users:  users,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		operationTimeout: defaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Database:  "unchecked",
		Timestamp: h.clock(),
	}
	if h.pinger == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "down"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Database = "up"
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	users, err := h.users.Find(ctx, filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: users, Count: len(users)})
}

func (h *Handler) handleCountUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	n, err := h.users.Count(ctx, filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.operationContext(r)
	defer cancel()

	user, err := h.users.FindByID(ctx, r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	user := req.toUser()
	if _, err := h.users.Insert(ctx, &user); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleCreateUsers(w http.ResponseWriter, r *http.Request) {
	var req createUsersRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	users := make([]storage.User, len(req.Users))
	for i, u := range req.Users {
		users[i] = u.toUser()
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	ids, err := h.users.InsertMany(ctx, users)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	resp := createdUsersResponse{IDs: make([]string, len(ids)), Count: len(ids)}
	for i, id := range ids {
		resp.IDs[i] = id.Hex()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	fields, ok := updateFields(w, req)
	if !ok {
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	id := r.PathValue("id")
	modified, err := h.users.UpdateByID(ctx, id, fields)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{ID: id, Modified: modified})
}

func (h *Handler) handleUpdateUsers(w http.ResponseWriter, r *http.Request) {
	filter, ok := bulkFilter(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	fields, ok := updateFields(w, req)
	if !ok {
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	n, err := h.users.UpdateMany(ctx, filter, fields)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Affected: n})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.operationContext(r)
	defer cancel()

	if err := h.users.DeleteByID(ctx, r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteUsers(w http.ResponseWriter, r *http.Request) {
	filter, ok := bulkFilter(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.operationContext(r)
	defer cancel()

	n, err := h.users.DeleteMany(ctx, filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Affected: n})
}

func (h *Handler) operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.operationTimeout)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "Invalid id", err.Error())
	case errors.Is(err, storage.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, storage.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "Duplicate email", err.Error())
	case errors.Is(err, storage.ErrNotConnected), errors.Is(err, storage.ErrUnavailable):
		h.logger.Error("database unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err.Error(), "retry once the database is reachable")
	default:
		h.logger.Error("repository call failed", zap.Error(err))
		writeInternalError(w, err)
	}
}

// filterFromQuery turns the city, active, min_age and max_age query
// parameters into a query document.
func filterFromQuery(r *http.Request) (bson.M, error) {
	q := r.URL.Query()
	filter := bson.M{}

	if city := q.Get("city"); city != "" {
		filter["city"] = city
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("active must be true or false, got %q", raw)
		}
		filter["active"] = active
	}

	age := bson.M{}
	for param, op := range map[string]string{"min_age": "$gte", "max_age": "$lte"} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", param, raw)
		}
		age[op] = n
	}
	if len(age) > 0 {
		filter["age"] = age
	}
	return filter, nil
}

// bulkFilter parses the query filter and refuses to target every user unless
// all=true is given explicitly.
func bulkFilter(w http.ResponseWriter, r *http.Request) (bson.M, bool) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return nil, false
	}
	if len(filter) == 0 && r.URL.Query().Get("all") != "true" {
		writeError(w, http.StatusBadRequest, "Missing filter",
			"a filter is required for bulk operations", "pass all=true to target every user")
		return nil, false
	}
	return filter, true
}

func updateFields(w http.ResponseWriter, req updateUserRequest) (bson.M, bool) {
	fields, err := req.fields()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return nil, false
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "at least one field must be provided")
		return nil, false
	}
	return fields, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return false
	}
	if err := validateRequest(dst); err != nil {
		var verrs validationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "Validation failed",
				Details: verrs.Error(),
				Fields:  verrs,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return false
	}
	return true
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

type usersResponse struct {
	Users []storage.User `json:"users"`
	Count int            `json:"count"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type createdUsersResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

type updateResponse struct {
	ID       string `json:"id"`
	Modified bool   `json:"modified"`
}

type bulkResponse struct {
	Affected int64 `json:"affected"`
}

type errorResponse struct {
	Error      string       `json:"error"`
	Details    string       `json:"details,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
	Fields     []fieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
