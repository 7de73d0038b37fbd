package crud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const testNamespace = "crud_database.users"

var fixedNow = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

type mockConnection struct {
	coll        *mongo.Collection
	connectErr  error
	connects    int
	disconnects int
}

func (m *mockConnection) Connect(context.Context) error {
	m.connects++
	return m.connectErr
}

func (m *mockConnection) Disconnect(context.Context) error {
	m.disconnects++
	return nil
}

func (m *mockConnection) Collection(string) *mongo.Collection {
	return m.coll
}

func userDoc(t *testing.T, u storage.User) bson.D {
	t.Helper()

	raw, err := bson.Marshal(u)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	return doc
}

func connectedFacade(mt *mtest.T) *Facade {
	mt.Helper()

	f := New(&mockConnection{coll: mt.Coll}, config.GetProfile("local"), zaptest.NewLogger(mt.T),
		WithClock(func() time.Time { return fixedNow }))
	if !f.Connect(context.Background()) {
		mt.Fatalf("expected mock connection to succeed")
	}
	return f
}

func TestFacadeConnectFailureLeavesDisconnected(t *testing.T) {
	conn := &mockConnection{connectErr: fmt.Errorf("ping: %w", storage.ErrUnavailable)}
	f := New(conn, config.GetProfile("docker_host"), zaptest.NewLogger(t))
	ctx := context.Background()

	if f.Connect(ctx) {
		t.Fatalf("expected Connect to report failure")
	}
	if f.Connected() {
		t.Fatalf("expected façade to stay disconnected")
	}

	if id := f.CreateUser(ctx, "A", "a@x.com", 30, ""); id != "" {
		t.Fatalf("expected empty id while disconnected, got %q", id)
	}
	if users := f.ReadAllUsers(ctx); len(users) != 0 {
		t.Fatalf("expected no users while disconnected, got %d", len(users))
	}
	if f.UpdateUser(ctx, primitive.NewObjectID().Hex(), bson.M{"age": 31}) {
		t.Fatalf("expected update to fail while disconnected")
	}
	if n := f.CountUsers(ctx); n != 0 {
		t.Fatalf("expected zero count while disconnected, got %d", n)
	}
}

func TestFacadeConnectUnreachableServer(t *testing.T) {
	profile := config.CustomProfile("mongodb://127.0.0.1:1/?connect=direct", "crud_database")
	f := NewForProfile(profile, 200*time.Millisecond, zaptest.NewLogger(t))

	if f.Connect(context.Background()) {
		t.Fatalf("expected Connect to fail against an unreachable server")
	}
	if f.Connected() {
		t.Fatalf("expected façade to stay disconnected")
	}
	f.Disconnect(context.Background())
}

func TestFacadeDisconnectIsIdempotent(t *testing.T) {
	conn := &mockConnection{}
	f := New(conn, config.GetProfile("local"), zaptest.NewLogger(t))
	ctx := context.Background()

	if !f.Connect(ctx) {
		t.Fatalf("expected Connect to succeed")
	}
	f.Disconnect(ctx)
	f.Disconnect(ctx)

	if f.Connected() {
		t.Fatalf("expected façade to be disconnected")
	}
	if f.Users() != nil {
		t.Fatalf("expected repository to be released")
	}
	if conn.disconnects != 2 {
		t.Fatalf("expected both calls to reach the connection, got %d", conn.disconnects)
	}
}

func TestFacadeUserLifecycle(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create read update delete", func(mt *mtest.T) {
		f := connectedFacade(mt)
		ctx := context.Background()

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		id := f.CreateUser(ctx, "A", "a@x.com", 30, "")
		if id == "" {
			mt.Fatalf("expected an id")
		}
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			mt.Fatalf("expected hex id, got %q", id)
		}

		stored := storage.User{ID: oid, Name: "A", Email: "a@x.com", Age: 30, Active: true, CreatedAt: fixedNow}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, testNamespace, mtest.FirstBatch, userDoc(mt.T, stored)))
		got := f.ReadUserByID(ctx, id)
		if got == nil || got.Age != 30 || got.Email != "a@x.com" {
			mt.Fatalf("unexpected user after create: %+v", got)
		}

		mt.ClearEvents()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		if !f.UpdateUser(ctx, id, bson.M{"age": 31}) {
			mt.Fatalf("expected update to succeed")
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "update" {
			mt.Fatalf("expected update command, got %v", evt)
		}
		if got := evt.Command.Lookup("updates", "0", "q", "_id").ObjectID(); got != oid {
			mt.Fatalf("expected update to target %s, got %s", oid.Hex(), got.Hex())
		}
		set, err := evt.Command.Lookup("updates", "0", "u", "$set").Document().Elements()
		if err != nil {
			mt.Fatalf("expected $set document: %v", err)
		}
		if len(set) != 2 {
			mt.Fatalf("expected $set to carry age and updated_at only, got %v", set)
		}
		if got := evt.Command.Lookup("updates", "0", "u", "$set", "age").AsInt64(); got != 31 {
			mt.Fatalf("expected age 31 in $set, got %d", got)
		}
		if got := evt.Command.Lookup("updates", "0", "u", "$set", "updated_at").Time(); !got.Equal(fixedNow) {
			mt.Fatalf("expected updated_at %s, got %s", fixedNow, got)
		}

		updatedAt := fixedNow
		stored.Age = 31
		stored.UpdatedAt = &updatedAt
		mt.AddMockResponses(mtest.CreateCursorResponse(0, testNamespace, mtest.FirstBatch, userDoc(mt.T, stored)))
		got = f.ReadUserByID(ctx, id)
		if got == nil || got.Age != 31 || got.Email != "a@x.com" {
			mt.Fatalf("unexpected user after update: %+v", got)
		}
		if got.UpdatedAt == nil || got.UpdatedAt.IsZero() {
			mt.Fatalf("expected updated_at to be stamped")
		}

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		if !f.DeleteUser(ctx, id) {
			mt.Fatalf("expected delete to succeed")
		}

		mt.AddMockResponses(mtest.CreateCursorResponse(0, testNamespace, mtest.FirstBatch))
		if got := f.ReadUserByID(ctx, id); got != nil {
			mt.Fatalf("expected user to be gone, got %+v", got)
		}
	})

	mt.Run("duplicate email", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}))
		if id := f.CreateUser(context.Background(), "A", "a@x.com", 30, ""); id != "" {
			mt.Fatalf("expected empty id on duplicate, got %q", id)
		}
	})

	mt.Run("batch create", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}))
		ids := f.CreateUsers(context.Background(), []storage.User{
			{Name: "Ana", Email: "ana@x.com", Age: 28},
			{Name: "Carlos", Email: "carlos@x.com", Age: 32},
		})
		if len(ids) != 2 || ids[0] == ids[1] {
			mt.Fatalf("expected two distinct ids, got %v", ids)
		}
	})

	mt.Run("batch create failure", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 1, Code: 11000, Message: "E11000 duplicate key error"}))
		ids := f.CreateUsers(context.Background(), []storage.User{
			{Name: "Ana", Email: "ana@x.com", Age: 28},
			{Name: "Ana", Email: "ana@x.com", Age: 28},
		})
		if ids != nil {
			mt.Fatalf("expected nil ids on failure, got %v", ids)
		}
	})
}

func TestFacadeMissingAndMalformedIDs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("delete unknown id", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		if f.DeleteUser(context.Background(), primitive.NewObjectID().Hex()) {
			mt.Fatalf("expected false for an id that was never created")
		}
	})

	mt.Run("update unknown id", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		if f.UpdateUser(context.Background(), primitive.NewObjectID().Hex(), bson.M{"age": 31}) {
			mt.Fatalf("expected false for an unknown id")
		}
	})

	mt.Run("malformed id", func(mt *mtest.T) {
		f := connectedFacade(mt)
		ctx := context.Background()

		if got := f.ReadUserByID(ctx, "123"); got != nil {
			mt.Fatalf("expected nil for malformed id, got %+v", got)
		}
		if f.UpdateUser(ctx, "123", bson.M{"age": 1}) {
			mt.Fatalf("expected false for malformed id")
		}
		if f.DeleteUser(ctx, "123") {
			mt.Fatalf("expected false for malformed id")
		}
	})
}

func TestFacadeBulkOperations(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("read by filter", func(mt *mtest.T) {
		f := connectedFacade(mt)

		docs := []bson.D{
			userDoc(mt.T, storage.User{ID: primitive.NewObjectID(), Name: "Pedro", Email: "pedro@x.com", Age: 35}),
			userDoc(mt.T, storage.User{ID: primitive.NewObjectID(), Name: "Carlos", Email: "carlos@x.com", Age: 32}),
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, testNamespace, mtest.FirstBatch, docs...))

		users := f.ReadUsersByFilter(context.Background(), bson.M{"age": bson.M{"$gt": 30}})
		if len(users) != 2 {
			mt.Fatalf("expected 2 users, got %d", len(users))
		}
	})

	mt.Run("update by filter reports modified count", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}, bson.E{Key: "nModified", Value: 3}))
		n := f.UpdateUsers(context.Background(), bson.M{"age": bson.M{"$lt": 30}}, bson.M{"status": "young", "discount": 10})
		if n != 3 {
			mt.Fatalf("expected 3 modified, got %d", n)
		}
	})

	mt.Run("delete by filter reports deleted count", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}))
		if n := f.DeleteUsersByFilter(context.Background(), bson.M{"age": bson.M{"$gt": 32}}); n != 2 {
			mt.Fatalf("expected 2 deleted, got %d", n)
		}
	})

	mt.Run("delete all", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 6}))
		if n := f.DeleteAllUsers(context.Background()); n != 6 {
			mt.Fatalf("expected 6 deleted, got %d", n)
		}
	})

	mt.Run("count", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, testNamespace, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(4)}}))
		if n := f.CountUsers(context.Background()); n != 4 {
			mt.Fatalf("expected 4 users, got %d", n)
		}
	})

	mt.Run("server error is neutralised", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad filter"}))
		if users := f.ReadUsersByFilter(context.Background(), bson.M{"age": bson.M{"$bogus": 1}}); users == nil || len(users) != 0 {
			mt.Fatalf("expected empty slice on failure, got %#v", users)
		}
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		if !f.EnsureIndexes(context.Background()) {
			mt.Fatalf("expected indexes to be created")
		}
	})

	mt.Run("ensure schema", func(mt *mtest.T) {
		f := connectedFacade(mt)

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		if !f.EnsureSchema(context.Background()) {
			mt.Fatalf("expected schema to be installed")
		}
		if _, err := mt.GetStartedEvent().Command.LookupErr("validator", "$jsonSchema"); err != nil {
			mt.Fatalf("expected create to carry the validator")
		}

		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 13, Name: "Unauthorized", Message: "not authorized"}))
		if f.EnsureSchema(context.Background()) {
			mt.Fatalf("expected failure to be reported as false")
		}
	})
}
