package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

var fixedNow = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

// failingStore answers every call with err.
type failingStore struct {
	err error
}

func (f failingStore) Insert(context.Context, *storage.User) (primitive.ObjectID, error) {
	return primitive.NilObjectID, f.err
}

func (f failingStore) InsertMany(context.Context, []storage.User) ([]primitive.ObjectID, error) {
	return nil, f.err
}

func (f failingStore) Find(context.Context, bson.M) ([]storage.User, error) {
	return nil, f.err
}

func (f failingStore) FindByID(context.Context, string) (*storage.User, error) {
	return nil, f.err
}

func (f failingStore) UpdateByID(context.Context, string, bson.M) (bool, error) {
	return false, f.err
}

func (f failingStore) UpdateMany(context.Context, bson.M, bson.M) (int64, error) {
	return 0, f.err
}

func (f failingStore) DeleteByID(context.Context, string) error {
	return f.err
}

func (f failingStore) DeleteMany(context.Context, bson.M) (int64, error) {
	return 0, f.err
}

func (f failingStore) Count(context.Context, bson.M) (int64, error) {
	return 0, f.err
}

func (f failingStore) Ping(context.Context) error {
	return f.err
}

func setupTestRouter(t *testing.T, store storage.UserStore, opts ...HandlerOption) http.Handler {
	t.Helper()

	opts = append([]HandlerOption{WithClock(fixedClock)}, opts...)
	handler := NewHandler(store, zaptest.NewLogger(t), opts...)
	return NewRouter(handler, zaptest.NewLogger(t), WithLogging(false), WithRateLimit(0, 0))
}

func doRequest(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func createUser(t *testing.T, router http.Handler, name, email string, age int, city string) storage.User {
	t.Helper()

	rec := doRequest(t, router, http.MethodPost, "/api/users", map[string]any{
		"name": name, "email": email, "age": age, "city": city,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var user storage.User
	decodeBody(t, rec, &user)
	return user
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		opts     []HandlerOption
		status   int
		database string
	}{
		{name: "without pinger", status: http.StatusOK, database: "unchecked"},
		{name: "database up", opts: []HandlerOption{WithPinger(storage.NewMemoryUserStore(nil))}, status: http.StatusOK, database: "up"},
		{name: "database down", opts: []HandlerOption{WithPinger(failingStore{err: storage.ErrUnavailable})}, status: http.StatusServiceUnavailable, database: "down"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock), tc.opts...)
			rec := doRequest(t, router, http.MethodGet, "/api/health", nil)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			var body struct {
				Status    string    `json:"status"`
				Database  string    `json:"database"`
				Timestamp time.Time `json:"timestamp"`
			}
			decodeBody(t, rec, &body)
			if body.Database != tc.database {
				t.Fatalf("expected database %s, got %s", tc.database, body.Database)
			}
			if !body.Timestamp.Equal(fixedNow) {
				t.Fatalf("expected timestamp %s, got %s", fixedNow, body.Timestamp)
			}
		})
	}
}

func TestUserLifecycle(t *testing.T) {
	router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock))

	created := createUser(t, router, "A", "a@x.com", 30, "")
	if created.ID.IsZero() || !created.Active || !created.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected created user: %+v", created)
	}
	path := "/api/users/" + created.ID.Hex()

	rec := doRequest(t, router, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var fetched storage.User
	decodeBody(t, rec, &fetched)
	if fetched.Age != 30 || fetched.Email != "a@x.com" {
		t.Fatalf("unexpected user: %+v", fetched)
	}

	rec = doRequest(t, router, http.MethodPatch, path, map[string]any{
		"age":   31,
		"extra": map[string]any{"phone": "(11) 99999-9999", "discount": 10},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var update struct {
		Modified bool `json:"modified"`
	}
	decodeBody(t, rec, &update)
	if !update.Modified {
		t.Fatalf("expected modified true")
	}

	rec = doRequest(t, router, http.MethodGet, path, nil)
	decodeBody(t, rec, &fetched)
	if fetched.Age != 31 || fetched.Email != "a@x.com" || fetched.UpdatedAt == nil {
		t.Fatalf("unexpected user after update: %+v", fetched)
	}
	if fetched.Extra["phone"] != "(11) 99999-9999" {
		t.Fatalf("expected extra field to round-trip, got %v", fetched.Extra)
	}

	rec = doRequest(t, router, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", rec.Code)
	}
}

func TestCreateUserValidation(t *testing.T) {
	router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock))

	tests := []struct {
		name    string
		payload any
		field   string
	}{
		{name: "missing name", payload: map[string]any{"email": "a@x.com", "age": 30}, field: "name"},
		{name: "bad email", payload: map[string]any{"name": "A", "email": "not-an-email", "age": 30}, field: "email"},
		{name: "missing age", payload: map[string]any{"name": "A", "email": "a@x.com"}, field: "age"},
		{name: "age too high", payload: map[string]any{"name": "A", "email": "a@x.com", "age": 151}, field: "age"},
		{name: "negative age", payload: map[string]any{"name": "A", "email": "a@x.com", "age": -1}, field: "age"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/users", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			var body errorResponse
			decodeBody(t, rec, &body)
			if len(body.Fields) != 1 || body.Fields[0].Field != tc.field {
				t.Fatalf("expected a single error on %s, got %+v", tc.field, body.Fields)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("age zero is accepted", func(t *testing.T) {
		user := createUser(t, router, "Baby", "baby@x.com", 0, "")
		if user.Age != 0 {
			t.Fatalf("expected age 0, got %d", user.Age)
		}
	})
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock))
	createUser(t, router, "A", "a@x.com", 30, "")

	rec := doRequest(t, router, http.MethodPost, "/api/users", map[string]any{"name": "B", "email": "a@x.com", "age": 20})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}

	other := createUser(t, router, "B", "b@x.com", 20, "")
	rec = doRequest(t, router, http.MethodPatch, "/api/users/"+other.ID.Hex(), map[string]any{"email": "a@x.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 when updating to a taken email, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPatch, "/api/users?all=true", map[string]any{"email": "c@x.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 when giving several users one email, got %d", rec.Code)
	}
}

func TestBatchCreateAndFilters(t *testing.T) {
	router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock))

	rec := doRequest(t, router, http.MethodPost, "/api/users/batch", map[string]any{
		"users": []map[string]any{
			{"name": "João Silva", "email": "joao@email.com", "age": 30, "city": "São Paulo"},
			{"name": "Maria Santos", "email": "maria@email.com", "age": 25, "city": "Rio de Janeiro"},
			{"name": "Pedro Oliveira", "email": "pedro@email.com", "age": 35},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		IDs   []string `json:"ids"`
		Count int      `json:"count"`
	}
	decodeBody(t, rec, &created)
	if created.Count != 3 || len(created.IDs) != 3 {
		t.Fatalf("unexpected batch response: %+v", created)
	}

	tests := []struct {
		query    string
		expected int
	}{
		{query: "", expected: 3},
		{query: "?city=S%C3%A3o+Paulo", expected: 1},
		{query: "?min_age=30", expected: 2},
		{query: "?min_age=26&max_age=34", expected: 1},
		{query: "?active=true", expected: 3},
		{query: "?active=false", expected: 0},
	}
	for _, tc := range tests {
		t.Run("list"+tc.query, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/users"+tc.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			var body struct {
				Users []storage.User `json:"users"`
				Count int            `json:"count"`
			}
			decodeBody(t, rec, &body)
			if body.Count != tc.expected || len(body.Users) != tc.expected {
				t.Fatalf("expected %d users, got %d", tc.expected, body.Count)
			}

			rec = doRequest(t, router, http.MethodGet, "/api/users/count"+tc.query, nil)
			var count struct {
				Count int64 `json:"count"`
			}
			decodeBody(t, rec, &count)
			if count.Count != int64(tc.expected) {
				t.Fatalf("expected count %d, got %d", tc.expected, count.Count)
			}
		})
	}

	rec = doRequest(t, router, http.MethodGet, "/api/users?min_age=old", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad min_age, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/users/batch", map[string]any{"users": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty batch, got %d", rec.Code)
	}
}

func TestBulkUpdateAndDelete(t *testing.T) {
	store := storage.NewMemoryUserStore(fixedClock)
	router := setupTestRouter(t, store)
	for i, age := range []int{22, 28, 33, 40} {
		createUser(t, router, fmt.Sprintf("user-%d", i), fmt.Sprintf("user%d@x.com", i), age, "")
	}

	rec := doRequest(t, router, http.MethodPatch, "/api/users?max_age=29", map[string]any{
		"extra": map[string]any{"status": "young", "discount": 10},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var bulk struct {
		Affected int64 `json:"affected"`
	}
	decodeBody(t, rec, &bulk)
	if bulk.Affected != 2 {
		t.Fatalf("expected 2 updated, got %d", bulk.Affected)
	}

	young, err := store.Find(context.Background(), bson.M{"status": "young"})
	if err != nil || len(young) != 2 {
		t.Fatalf("expected 2 young users, got %d (%v)", len(young), err)
	}
	if young[0].Extra["discount"] != int64(10) {
		t.Fatalf("expected JSON numbers to be stored as int64, got %T", young[0].Extra["discount"])
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/users", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unfiltered bulk delete to be refused, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/users?min_age=33", nil)
	decodeBody(t, rec, &bulk)
	if rec.Code != http.StatusOK || bulk.Affected != 2 {
		t.Fatalf("expected 2 deleted, got %d (%d)", bulk.Affected, rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/users?all=true", nil)
	decodeBody(t, rec, &bulk)
	if bulk.Affected != 2 {
		t.Fatalf("expected remaining 2 deleted, got %d", bulk.Affected)
	}
}

func TestUpdateUserRejectsBadInput(t *testing.T) {
	router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock))
	user := createUser(t, router, "A", "a@x.com", 30, "")
	path := "/api/users/" + user.ID.Hex()

	tests := []struct {
		name    string
		payload any
	}{
		{name: "empty body", payload: map[string]any{}},
		{name: "invalid email", payload: map[string]any{"email": "nope"}},
		{name: "empty name", payload: map[string]any{"name": ""}},
		{name: "reserved extra", payload: map[string]any{"extra": map[string]any{"_id": "x"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPatch, path, tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid id", err: storage.ErrInvalidID, status: http.StatusBadRequest},
		{name: "not found", err: storage.ErrUserNotFound, status: http.StatusNotFound},
		{name: "duplicate", err: fmt.Errorf("insert user: %w", storage.ErrDuplicateEmail), status: http.StatusConflict},
		{name: "not connected", err: storage.ErrNotConnected, status: http.StatusServiceUnavailable},
		{name: "unavailable", err: fmt.Errorf("find: %w", storage.ErrUnavailable), status: http.StatusServiceUnavailable},
		{name: "other", err: assertError("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := setupTestRouter(t, failingStore{err: tc.err})
			rec := doRequest(t, router, http.MethodGet, "/api/users/0123456789abcdef01234567", nil)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestInvalidIDReturnsBadRequest(t *testing.T) {
	router := setupTestRouter(t, storage.NewMemoryUserStore(fixedClock))

	rec := doRequest(t, router, http.MethodGet, "/api/users/123", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestNormalizeJSON(t *testing.T) {
	in := map[string]any{
		"int":    json.Number("10"),
		"float":  json.Number("1.5"),
		"nested": map[string]any{"n": json.Number("2")},
		"list":   []any{json.Number("3"), "x"},
	}

	out, ok := normalizeJSON(in).(bson.M)
	if !ok {
		t.Fatalf("expected bson.M, got %T", normalizeJSON(in))
	}
	if out["int"] != int64(10) || out["float"] != 1.5 {
		t.Fatalf("unexpected scalars: %v", out)
	}
	if out["nested"].(bson.M)["n"] != int64(2) {
		t.Fatalf("unexpected nested value: %v", out["nested"])
	}
	if list := out["list"].(bson.A); list[0] != int64(3) || list[1] != "x" {
		t.Fatalf("unexpected list: %v", list)
	}
}
