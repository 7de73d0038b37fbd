package api

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

// reservedFields are maintained by the repository and cannot be set through extra.
var reservedFields = map[string]struct{}{
	"_id":        {},
	"name":       {},
	"email":      {},
	"age":        {},
	"city":       {},
	"active":     {},
	"created_at": {},
	"updated_at": {},
}

type createUserRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Age   *int   `json:"age" validate:"required,gte=0,lte=150"`
	City  string `json:"city"`
}

func (r createUserRequest) toUser() storage.User {
	return storage.User{
		Name:  r.Name,
		Email: r.Email,
		Age:   *r.Age,
		City:  r.City,
	}
}

type createUsersRequest struct {
	Users []createUserRequest `json:"users" validate:"required,min=1,dive"`
}

type updateUserRequest struct {
	Name   *string        `json:"name" validate:"omitnil,min=1"`
	Email  *string        `json:"email" validate:"omitnil,email"`
	Age    *int           `json:"age" validate:"omitnil,gte=0,lte=150"`
	City   *string        `json:"city"`
	Active *bool          `json:"active"`
	Extra  map[string]any `json:"extra"`
}

// fields builds the $set document. Extra keys may not shadow the typed fields.
func (r updateUserRequest) fields() (bson.M, error) {
	fields := bson.M{}
	for key, value := range r.Extra {
		if _, reserved := reservedFields[key]; reserved {
			return nil, fmt.Errorf("extra field %q is reserved", key)
		}
		fields[key] = normalizeJSON(value)
	}

	if r.Name != nil {
		fields["name"] = *r.Name
	}
	if r.Email != nil {
		fields["email"] = *r.Email
	}
	if r.Age != nil {
		fields["age"] = *r.Age
	}
	if r.City != nil {
		fields["city"] = *r.City
	}
	if r.Active != nil {
		fields["active"] = *r.Active
	}
	return fields, nil
}

// normalizeJSON converts the json.Number values produced by a decoder in
// UseNumber mode into int64 or float64 so they are stored as BSON numbers.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(bson.M, len(t))
		for k, item := range t {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}
