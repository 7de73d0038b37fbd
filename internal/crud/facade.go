package crud

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

// Connection is the client handle the façade drives.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Collection(name string) *mongo.Collection
}

// Facade wraps a connection and the users collection bound to it.
// It is meant for a single caller issuing sequential calls.
type Facade struct {
	conn       Connection
	profile    config.Profile
	logger     *zap.Logger
	clock      func() time.Time
	collection string
	users      *storage.UserRepository
	connected  bool
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock overrides the time source used for created_at and updated_at.
func WithClock(clock func() time.Time) Option {
	return func(f *Facade) {
		f.clock = clock
	}
}

// WithCollection binds the façade to a collection other than users.
func WithCollection(name string) Option {
	return func(f *Facade) {
		f.collection = name
	}
}

// New creates a disconnected façade that will reach MongoDB through conn.
// profile is only used for diagnostics.
func New(conn Connection, profile config.Profile, logger *zap.Logger, opts ...Option) *Facade {
	f := &Facade{
		conn:       conn,
		profile:    profile,
		logger:     logger,
		collection: storage.UsersCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewForProfile creates a façade with its own client for profile.
func NewForProfile(profile config.Profile, serverSelectionTimeout time.Duration, logger *zap.Logger, opts ...Option) *Facade {
	client := storage.NewClient(storage.Settings{
		URI:                    profile.ConnectionString,
		Database:               profile.DatabaseName,
		ServerSelectionTimeout: serverSelectionTimeout,
		AppName:                "mongo-crud",
	})
	return New(client, profile, logger, opts...)
}

// Profile returns the profile the façade was created for.
func (f *Facade) Profile() config.Profile {
	return f.profile
}

// Connected reports whether Connect succeeded and Disconnect has not run since.
func (f *Facade) Connected() bool {
	return f.connected
}

// Connect opens the client, pings the server and binds the collection.
// On failure the façade stays disconnected and false is returned.
func (f *Facade) Connect(ctx context.Context) bool {
	if f.connected {
		return true
	}

	f.logger.Info("connecting to MongoDB",
		zap.String("environment", f.profile.Description),
		zap.String("database", f.profile.DatabaseName),
	)

	if err := f.conn.Connect(ctx); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			f.logger.Error("could not reach MongoDB; check that the server is running and reachable", zap.Error(err))
		} else {
			f.logger.Error("unexpected error while connecting to MongoDB", zap.Error(err))
		}
		return false
	}

	var opts []storage.RepositoryOption
	if f.clock != nil {
		opts = append(opts, storage.WithClock(f.clock))
	}
	f.users = storage.NewUserRepository(f.conn.Collection(f.collection), opts...)
	f.connected = true
	f.logger.Info("connected to MongoDB")
	return true
}

// Disconnect releases the client handle. It is safe to call repeatedly.
func (f *Facade) Disconnect(ctx context.Context) {
	if err := f.conn.Disconnect(ctx); err != nil {
		f.logger.Warn("error while closing the MongoDB connection", zap.Error(err))
	}
	if f.connected {
		f.logger.Info("MongoDB connection closed")
	}
	f.connected = false
	f.users = nil
}

// Users exposes the error-returning repository behind the façade, or nil
// while disconnected.
func (f *Facade) Users() *storage.UserRepository {
	return f.users
}

// CreateUser inserts a user and returns its id, or "" on failure.
func (f *Facade) CreateUser(ctx context.Context, name, email string, age int, city string) string {
	if !f.ready("create user") {
		return ""
	}

	user := &storage.User{Name: name, Email: email, Age: age, City: city}
	id, err := f.users.Insert(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			f.logger.Error("email already exists", zap.String("email", email))
		} else {
			f.logger.Error("failed to create user", zap.Error(err))
		}
		return ""
	}

	f.logger.Info("user created", zap.String("id", id.Hex()))
	return id.Hex()
}

// CreateUsers inserts users in one batch and returns their ids, or nil on failure.
func (f *Facade) CreateUsers(ctx context.Context, users []storage.User) []string {
	if !f.ready("create users") {
		return nil
	}

	ids, err := f.users.InsertMany(ctx, users)
	if err != nil {
		f.logger.Error("failed to create users", zap.Error(err))
		return nil
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	f.logger.Info("users created", zap.Int("count", len(out)))
	return out
}

// ReadAllUsers returns every user, or an empty slice on failure.
func (f *Facade) ReadAllUsers(ctx context.Context) []storage.User {
	if !f.ready("read users") {
		return []storage.User{}
	}

	users, err := f.users.Find(ctx, nil)
	if err != nil {
		f.logger.Error("failed to read users", zap.Error(err))
		return []storage.User{}
	}

	f.logger.Info("users found", zap.Int("count", len(users)))
	return users
}

// ReadUserByID returns the user with the given id, or nil when it does not
// exist, the id is malformed or the lookup fails.
func (f *Facade) ReadUserByID(ctx context.Context, id string) *storage.User {
	if !f.ready("read user") {
		return nil
	}

	user, err := f.users.FindByID(ctx, id)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		f.logger.Info("user not found", zap.String("id", id))
		return nil
	case err != nil:
		f.logger.Error("failed to look up user", zap.String("id", id), zap.Error(err))
		return nil
	}

	f.logger.Info("user found", zap.String("name", user.Name))
	return user
}

// ReadUsersByFilter returns the users matching filter, or an empty slice on failure.
func (f *Facade) ReadUsersByFilter(ctx context.Context, filter bson.M) []storage.User {
	if !f.ready("read users") {
		return []storage.User{}
	}

	users, err := f.users.Find(ctx, filter)
	if err != nil {
		f.logger.Error("failed to query users", zap.Error(err))
		return []storage.User{}
	}

	f.logger.Info("users matched filter", zap.Int("count", len(users)))
	return users
}

// UpdateUser merges fields into one user and stamps updated_at.
// It reports whether the user was modified.
func (f *Facade) UpdateUser(ctx context.Context, id string, fields bson.M) bool {
	if !f.ready("update user") {
		return false
	}

	modified, err := f.users.UpdateByID(ctx, id, fields)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		f.logger.Info("no user was updated", zap.String("id", id))
		return false
	case err != nil:
		f.logger.Error("failed to update user", zap.String("id", id), zap.Error(err))
		return false
	case !modified:
		f.logger.Info("no user was updated", zap.String("id", id))
		return false
	}

	f.logger.Info("user updated", zap.String("id", id))
	return true
}

// UpdateUsers merges fields into every matching user and returns the number
// of modified users, or 0 on failure.
func (f *Facade) UpdateUsers(ctx context.Context, filter, fields bson.M) int64 {
	if !f.ready("update users") {
		return 0
	}

	n, err := f.users.UpdateMany(ctx, filter, fields)
	if err != nil {
		f.logger.Error("failed to update users", zap.Error(err))
		return 0
	}

	f.logger.Info("users updated", zap.Int64("count", n))
	return n
}

// DeleteUser removes one user and reports whether it existed.
func (f *Facade) DeleteUser(ctx context.Context, id string) bool {
	if !f.ready("delete user") {
		return false
	}

	err := f.users.DeleteByID(ctx, id)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		f.logger.Info("no user was deleted", zap.String("id", id))
		return false
	case err != nil:
		f.logger.Error("failed to delete user", zap.String("id", id), zap.Error(err))
		return false
	}

	f.logger.Info("user deleted", zap.String("id", id))
	return true
}

// DeleteUsersByFilter removes every matching user and returns the number
// deleted, or 0 on failure.
func (f *Facade) DeleteUsersByFilter(ctx context.Context, filter bson.M) int64 {
	if !f.ready("delete users") {
		return 0
	}
	n, err := f.users.DeleteMany(ctx, filter)
	if err != nil {
		f.logger.Error("failed to delete users", zap.Error(err))
		return 0
	}

	f.logger.Info("users deleted", zap.Int64("count", n))
	return n
}

// DeleteAllUsers empties the collection and returns the number deleted.
func (f *Facade) DeleteAllUsers(ctx context.Context) int64 {
	if !f.ready("delete all users") {
		return 0
	}

	n, err := f.users.DeleteMany(ctx, bson.M{})
	if err != nil {
		f.logger.Error("failed to delete all users", zap.Error(err))
		return 0
	}

	f.logger.Info("all users deleted", zap.Int64("count", n))
	return n
}

// CountUsers returns the total number of users, or 0 on failure.
func (f *Facade) CountUsers(ctx context.Context) int64 {
	if !f.ready("count users") {
		return 0
	}

	n, err := f.users.Count(ctx, nil)
	if err != nil {
		f.logger.Error("failed to count users", zap.Error(err))
		return 0
	}

	f.logger.Info("total users", zap.Int64("count", n))
	return n
}

// EnsureIndexes creates the unique email index and the lookup indexes.
func (f *Facade) EnsureIndexes(ctx context.Context) bool {
	if !f.ready("create indexes") {
		return false
	}

	names, err := f.users.EnsureIndexes(ctx)
	if err != nil {
		f.logger.Error("failed to create indexes", zap.Error(err))
		return false
	}

	f.logger.Info("indexes ready", zap.Strings("indexes", names))
	return true
}

// EnsureSchema installs the users document validator.
func (f *Facade) EnsureSchema(ctx context.Context) bool {
	if !f.ready("install schema") {
		return false
	}

	if err := f.users.EnsureSchema(ctx); err != nil {
		f.logger.Error("failed to install users schema", zap.Error(err))
		return false
	}

	f.logger.Info("users schema ready")
	return true
}

func (f *Facade) ready(op string) bool {
	if f.connected && f.users != nil {
		return true
	}
	f.logger.Error("not connected to MongoDB", zap.String("operation", op))
	return false
}
