package storage

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryUserStore keeps users in-memory and guards access with a RWMutex.
// It honours the unique email constraint and understands top-level equality
// filters plus the $gt, $gte, $lt, $lte and $ne operators.
type MemoryUserStore struct {
	mu    sync.RWMutex
	order []primitive.ObjectID
	users map[primitive.ObjectID]User
	clock func() time.Time
}

// NewMemoryUserStore creates an empty store. clock may be nil.
func NewMemoryUserStore(clock func() time.Time) *MemoryUserStore {
	if clock == nil {
		clock = func() time.Time {
			return time.Now().UTC()
		}
	}
	return &MemoryUserStore{
		users: make(map[primitive.ObjectID]User),
		clock: clock,
	}
}

// Insert stores user after stamping it the way UserRepository does.
func (s *MemoryUserStore) Insert(_ context.Context, user *User) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(user.Email) {
		return primitive.NilObjectID, fmt.Errorf("insert user: %w", ErrDuplicateEmail)
	}
	s.stamp(user)
	s.put(*user)
	return user.ID, nil
}

// InsertMany stores users in order and stops at the first duplicate email.
func (s *MemoryUserStore) InsertMany(_ context.Context, users []User) ([]primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]primitive.ObjectID, 0, len(users))
	for i := range users {
		if s.emailTaken(users[i].Email) {
			return nil, fmt.Errorf("insert users: %w", ErrDuplicateEmail)
		}
		s.stamp(&users[i])
		s.put(users[i])
		ids = append(ids, users[i].ID)
	}
	return ids, nil
}

// Find returns matching users in insertion order.
func (s *MemoryUserStore) Find(_ context.Context, filter bson.M) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []User{}
	for _, id := range s.order {
		u := s.users[id]
		ok, err := matches(u, filter)
		if err != nil {
			return nil, fmt.Errorf("find users: %w", err)
		}
		if ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

// FindByID loads a single user.
func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[oid]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := cloneUser(u)
	return &clone, nil
}

// UpdateByID merges fields into one user and stamps updated_at.
func (s *MemoryUserStore) UpdateByID(_ context.Context, id string, fields bson.M) (bool, error) {
	oid, err := ParseID(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[oid]
	if !ok {
		return false, ErrUserNotFound
	}
	if s.emailConflict(fields, []primitive.ObjectID{oid}) {
		return false, fmt.Errorf("update user: %w", ErrDuplicateEmail)
	}
	updated, err := s.apply(u, fields)
	if err != nil {
		return false, fmt.Errorf("update user: %w", err)
	}
	s.users[oid] = updated
	return true, nil
}

// UpdateMany merges fields into every matching user.
func (s *MemoryUserStore) UpdateMany(_ context.Context, filter, fields bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []primitive.ObjectID
	for _, id := range s.order {
		ok, err := matches(s.users[id], filter)
		if err != nil {
			return 0, fmt.Errorf("update users: %w", err)
		}
		if ok {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}
	if s.emailConflict(fields, targets) {
		return 0, fmt.Errorf("update users: %w", ErrDuplicateEmail)
	}

	var n int64
	for _, id := range targets {
		updated, err := s.apply(s.users[id], fields)
		if err != nil {
			return n, fmt.Errorf("update users: %w", err)
		}
		s.users[id] = updated
		n++
	}
	return n, nil
}

// DeleteByID removes a single user.
func (s *MemoryUserStore) DeleteByID(_ context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[oid]; !ok {
		return ErrUserNotFound
	}
	s.remove(oid)
	return nil
}

// DeleteMany removes every matching user.
func (s *MemoryUserStore) DeleteMany(_ context.Context, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []primitive.ObjectID
	for _, id := range s.order {
		ok, err := matches(s.users[id], filter)
		if err != nil {
			return 0, fmt.Errorf("delete users: %w", err)
		}
		if ok {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		s.remove(id)
	}
	return int64(len(doomed)), nil
}

// Count returns the number of matching users.
func (s *MemoryUserStore) Count(ctx context.Context, filter bson.M) (int64, error) {
	users, err := s.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(users)), nil
}

// Ping always succeeds.
func (s *MemoryUserStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryUserStore) emailTaken(email string) bool {
	for _, u := range s.users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// emailConflict reports whether setting fields on targets would leave two
// users with the same email: either several targets receive one address, or
// a user outside targets already holds it.
func (s *MemoryUserStore) emailConflict(fields bson.M, targets []primitive.ObjectID) bool {
	email, ok := fields["email"]
	if !ok {
		return false
	}
	if len(targets) > 1 {
		return true
	}
	for id, u := range s.users {
		if !slices.Contains(targets, id) && equal(u.Email, email) {
			return true
		}
	}
	return false
}

func (s *MemoryUserStore) stamp(user *User) {
	user.ID = primitive.NewObjectID()
	user.CreatedAt = s.clock().Truncate(time.Millisecond)
	user.Active = true
}

func (s *MemoryUserStore) put(user User) {
	s.order = append(s.order, user.ID)
	s.users[user.ID] = cloneUser(user)
}

func (s *MemoryUserStore) remove(id primitive.ObjectID) {
	delete(s.users, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// apply round-trips the user through BSON so that untyped fields land in Extra
// exactly as they would after a $set on the server.
func (s *MemoryUserStore) apply(u User, fields bson.M) (User, error) {
	doc, err := toDocument(u)
	if err != nil {
		return User{}, err
	}
	maps.Copy(doc, fields)
	doc["updated_at"] = s.clock().Truncate(time.Millisecond)

	raw, err := bson.Marshal(doc)
	if err != nil {
		return User{}, err
	}
	var updated User
	if err := bson.Unmarshal(raw, &updated); err != nil {
		return User{}, err
	}
	return updated, nil
}

func cloneUser(u User) User {
	if u.Extra != nil {
		u.Extra = maps.Clone(u.Extra)
	}
	if u.UpdatedAt != nil {
		t := *u.UpdatedAt
		u.UpdatedAt = &t
	}
	return u
}

func toDocument(u User) (bson.M, error) {
	raw, err := bson.Marshal(u)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func matches(u User, filter bson.M) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	doc, err := toDocument(u)
	if err != nil {
		return false, err
	}

	for field, cond := range filter {
		value, present := doc[field]
		ops, isOperator := operatorDocument(cond)
		if !isOperator {
			if !present || !equal(value, cond) {
				return false, nil
			}
			continue
		}
		for op, operand := range ops {
			ok, err := compare(op, value, present, operand)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func operatorDocument(cond any) (bson.M, bool) {
	m, ok := cond.(bson.M)
	if !ok {
		if plain, isMap := cond.(map[string]any); isMap {
			m, ok = bson.M(plain), true
		}
	}
	if !ok || len(m) == 0 {
		return nil, false
	}
	for key := range m {
		if len(key) == 0 || key[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func compare(op string, value any, present bool, operand any) (bool, error) {
	switch op {
	case "$ne":
		return !present || !equal(value, operand), nil
	case "$gt", "$gte", "$lt", "$lte":
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
	if !present {
		return false, nil
	}

	a, aok := number(value)
	b, bok := number(operand)
	if !aok || !bok {
		return false, nil
	}
	switch op {
	case "$gt":
		return a > b, nil
	case "$gte":
		return a >= b, nil
	case "$lt":
		return a < b, nil
	default:
		return a <= b, nil
	}
}

func equal(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
