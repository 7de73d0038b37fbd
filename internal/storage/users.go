package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserStore describes the user operations shared by the CRUD façade and the HTTP API.
type UserStore interface {
	Insert(ctx context.Context, user *User) (primitive.ObjectID, error)
	InsertMany(ctx context.Context, users []User) ([]primitive.ObjectID, error)
	Find(ctx context.Context, filter bson.M) ([]User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	UpdateByID(ctx context.Context, id string, fields bson.M) (bool, error)
	UpdateMany(ctx context.Context, filter, fields bson.M) (int64, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
}

// UserRepository implements UserStore on top of a MongoDB collection.
type UserRepository struct {
	coll  *mongo.Collection
	clock func() time.Time
}

// RepositoryOption configures a UserRepository.
type RepositoryOption func(*UserRepository)

// WithClock overrides the time source used for created_at and updated_at.
func WithClock(clock func() time.Time) RepositoryOption {
	return func(r *UserRepository) {
		r.clock = clock
	}
}

// NewUserRepository binds a repository to coll. A nil collection yields a
// repository whose operations fail with ErrNotConnected.
func NewUserRepository(coll *mongo.Collection, opts ...RepositoryOption) *UserRepository {
	r := &UserRepository{
		coll: coll,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert stamps created_at and the active flag, stores the user and returns
// the generated id. The id is also written back into user.
func (r *UserRepository) Insert(ctx context.Context, user *User) (primitive.ObjectID, error) {
	if r.coll == nil {
		return primitive.NilObjectID, ErrNotConnected
	}

	user.CreatedAt = r.now()
	user.Active = true

	var res *mongo.InsertOneResult
	err := r.observe("insert_one", func() (err error) {
		res, err = r.coll.InsertOne(ctx, user)
		return err
	})
	if err != nil {
		return primitive.NilObjectID, classify("insert user", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("insert user: unexpected id type %T", res.InsertedID)
	}
	user.ID = id
	return id, nil
}

// InsertMany stamps every user and stores them in one ordered batch.
func (r *UserRepository) InsertMany(ctx context.Context, users []User) ([]primitive.ObjectID, error) {
	if r.coll == nil {
		return nil, ErrNotConnected
	}
	if len(users) == 0 {
		return []primitive.ObjectID{}, nil
	}

	now := r.now()
	docs := make([]interface{}, len(users))
	for i := range users {
		users[i].CreatedAt = now
		users[i].Active = true
		docs[i] = users[i]
	}

	var res *mongo.InsertManyResult
	err := r.observe("insert_many", func() (err error) {
		res, err = r.coll.InsertMany(ctx, docs)
		return err
	})
	if err != nil {
		return nil, classify("insert users", err)
	}

	ids := make([]primitive.ObjectID, 0, len(res.InsertedIDs))
	for i, raw := range res.InsertedIDs {
		id, ok := raw.(primitive.ObjectID)
		if !ok {
			return nil, fmt.Errorf("insert users: unexpected id type %T", raw)
		}
		users[i].ID = id
		ids = append(ids, id)
	}
	return ids, nil
}

// Find returns every user matching filter. A nil filter matches all users.
// The whole result set is materialised.
func (r *UserRepository) Find(ctx context.Context, filter bson.M) ([]User, error) {
	if r.coll == nil {
		return nil, ErrNotConnected
	}

	var users []User
	err := r.observe("find", func() error {
		cursor, err := r.coll.Find(ctx, normalizeFilter(filter))
		if err != nil {
			return err
		}
		return cursor.All(ctx, &users)
	})
	if err != nil {
		return nil, classify("find users", err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// FindByID loads a single user.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	if r.coll == nil {
		return nil, ErrNotConnected
	}
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var user User
	err = r.observe("find_one", func() error {
		return r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, classify("find user", err)
	}
	return &user, nil
}

// UpdateByID merges fields into the user with $set and stamps updated_at.
// It reports whether the document changed.
func (r *UserRepository) UpdateByID(ctx context.Context, id string, fields bson.M) (bool, error) {
	if r.coll == nil {
		return false, ErrNotConnected
	}
	oid, err := ParseID(id)
	if err != nil {
		return false, err
	}

	var res *mongo.UpdateResult
	err = r.observe("update_one", func() (err error) {
		res, err = r.coll.UpdateOne(ctx, bson.M{"_id": oid}, r.setDocument(fields))
		return err
	})
	if err != nil {
		return false, classify("update user", err)
	}
	if res.MatchedCount == 0 {
		return false, ErrUserNotFound
	}
	return res.ModifiedCount > 0, nil
}

// UpdateMany merges fields into every matching user and returns the number of
// modified documents.
func (r *UserRepository) UpdateMany(ctx context.Context, filter, fields bson.M) (int64, error) {
	if r.coll == nil {
		return 0, ErrNotConnected
	}

	var res *mongo.UpdateResult
	err := r.observe("update_many", func() (err error) {
		res, err = r.coll.UpdateMany(ctx, normalizeFilter(filter), r.setDocument(fields))
		return err
	})
	if err != nil {
		return 0, classify("update users", err)
	}
	return res.ModifiedCount, nil
}

// DeleteByID removes a single user.
func (r *UserRepository) DeleteByID(ctx context.Context, id string) error {
	if r.coll == nil {
		return ErrNotConnected
	}
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	var res *mongo.DeleteResult
	err = r.observe("delete_one", func() (err error) {
		res, err = r.coll.DeleteOne(ctx, bson.M{"_id": oid})
		return err
	})
	if err != nil {
		return classify("delete user", err)
	}
	if res.DeletedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteMany removes every matching user. A nil filter removes all users.
func (r *UserRepository) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	if r.coll == nil {
		return 0, ErrNotConnected
	}

	var res *mongo.DeleteResult
	err := r.observe("delete_many", func() (err error) {
		res, err = r.coll.DeleteMany(ctx, normalizeFilter(filter))
		return err
	})
	if err != nil {
		return 0, classify("delete users", err)
	}
	return res.DeletedCount, nil
}

// Count returns the number of matching users.
func (r *UserRepository) Count(ctx context.Context, filter bson.M) (int64, error) {
	if r.coll == nil {
		return 0, ErrNotConnected
	}

	var n int64
	err := r.observe("count", func() (err error) {
		n, err = r.coll.CountDocuments(ctx, normalizeFilter(filter))
		return err
	})
	if err != nil {
		return 0, classify("count users", err)
	}
	return n, nil
}

// EnsureIndexes creates the unique email index and the secondary lookup
// indexes. Existing indexes with the same keys are left untouched.
func (r *UserRepository) EnsureIndexes(ctx context.Context) ([]string, error) {
	if r.coll == nil {
		return nil, ErrNotConnected
	}

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "age", Value: 1}}},
		{Keys: bson.D{{Key: "city", Value: 1}}},
		{Keys: bson.D{{Key: "active", Value: 1}}},
	}

	var names []string
	err := r.observe("create_indexes", func() (err error) {
		names, err = r.coll.Indexes().CreateMany(ctx, models)
		return err
	})
	if err != nil {
		return nil, classify("create user indexes", err)
	}
	return names, nil
}

// namespaceExistsCode is returned by create for a collection that already exists.
const namespaceExistsCode = 48

// EnsureSchema installs the $jsonSchema validator on the users collection. The
// collection is created with it when missing; an existing collection is
// updated through collMod.
func (r *UserRepository) EnsureSchema(ctx context.Context) error {
	if r.coll == nil {
		return ErrNotConnected
	}

	db := r.coll.Database()
	validator := UserValidator()
	err := r.observe("create_collection", func() error {
		return db.CreateCollection(ctx, r.coll.Name(), options.CreateCollection().SetValidator(validator))
	})

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode {
		err = r.observe("coll_mod", func() error {
			return db.RunCommand(ctx, bson.D{
				{Key: "collMod", Value: r.coll.Name()},
				{Key: "validator", Value: validator},
			}).Err()
		})
	}
	if err != nil {
		return classify("ensure user schema", err)
	}
	return nil
}

// UserValidator is the $jsonSchema document enforced on user documents:
// name, email and age are required, email must look like an address and age
// is an int32 between 0 and 150.
func UserValidator() bson.D {
	return bson.D{{Key: "$jsonSchema", Value: bson.D{
		{Key: "bsonType", Value: "object"},
		{Key: "required", Value: bson.A{"name", "email", "age"}},
		{Key: "properties", Value: bson.D{
			{Key: "name", Value: bson.D{{Key: "bsonType", Value: "string"}}},
			{Key: "email", Value: bson.D{
				{Key: "bsonType", Value: "string"},
				{Key: "pattern", Value: `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`},
			}},
			{Key: "age", Value: bson.D{
				{Key: "bsonType", Value: "int"},
				{Key: "minimum", Value: 0},
				{Key: "maximum", Value: 150},
			}},
			{Key: "city", Value: bson.D{{Key: "bsonType", Value: "string"}}},
			{Key: "active", Value: bson.D{{Key: "bsonType", Value: "bool"}}},
		}},
	}}}
}

func (r *UserRepository) setDocument(fields bson.M) bson.M {
	set := make(bson.M, len(fields)+1)
	maps.Copy(set, fields)
	set["updated_at"] = r.now()
	return bson.M{"$set": set}
}

// now truncates to the millisecond precision BSON dates carry.
func (r *UserRepository) now() time.Time {
	return r.clock().Truncate(time.Millisecond)
}

func (r *UserRepository) observe(operation string, fn func() error) error {
	return Observe(r.coll.Name(), operation, fn)
}

func normalizeFilter(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
