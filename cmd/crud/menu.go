package main

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/console"
	"github.com/eugenenazirov/mongo-crud/internal/crud"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

var (
	errNotCreated = errors.New("user was not created")
	errNotFound   = errors.New("user not found")
)

func menuItems(f *crud.Facade, c *console.Console) []console.Item {
	out := c.Out()
	return []console.Item{
		{Key: "1", Label: "Run full CRUD demonstration", Run: func(ctx context.Context) error {
			return crud.RunDemo(ctx, f, out)
		}},
		{Key: "2", Label: "List users", Run: func(ctx context.Context) error {
			console.PrintUsers(out, f.ReadAllUsers(ctx))
			return nil
		}},
		{Key: "3", Label: "Create user", Run: func(ctx context.Context) error {
			return createUser(ctx, f, c)
		}},
		{Key: "4", Label: "Find user by id", Run: func(ctx context.Context) error {
			id, err := c.Prompt("User id: ")
			if err != nil {
				return err
			}
			user := f.ReadUserByID(ctx, id)
			if user == nil {
				return errNotFound
			}
			console.PrintUsers(out, []storage.User{*user})
			return nil
		}},
		{Key: "5", Label: "Filter users by city", Run: func(ctx context.Context) error {
			city, err := c.Prompt("City: ")
			if err != nil {
				return err
			}
			console.PrintUsers(out, f.ReadUsersByFilter(ctx, bson.M{"city": city}))
			return nil
		}},
		{Key: "6", Label: "Update user age", Run: func(ctx context.Context) error {
			id, err := c.Prompt("User id: ")
			if err != nil {
				return err
			}
			age, err := c.PromptInt("New age: ")
			if err != nil {
				return err
			}
			if !f.UpdateUser(ctx, id, bson.M{"age": age}) {
				return fmt.Errorf("user %s was not updated", id)
			}
			fmt.Fprintln(out, "User updated.")
			return nil
		}},
		{Key: "7", Label: "Delete user", Run: func(ctx context.Context) error {
			id, err := c.Prompt("User id: ")
			if err != nil {
				return err
			}
			if !f.DeleteUser(ctx, id) {
				return fmt.Errorf("user %s was not deleted", id)
			}
			fmt.Fprintln(out, "User deleted.")
			return nil
		}},
		{Key: "8", Label: "Count users", Run: func(ctx context.Context) error {
			fmt.Fprintf(out, "Total users: %d\n", f.CountUsers(ctx))
			return nil
		}},
		{Key: "9", Label: "List connection environments", Run: func(context.Context) error {
			console.PrintEnvironments(out, config.Profiles())
			return nil
		}},
	}
}

func createUser(ctx context.Context, f *crud.Facade, c *console.Console) error {
	name, err := c.Prompt("Name: ")
	if err != nil {
		return err
	}
	email, err := c.Prompt("Email: ")
	if err != nil {
		return err
	}
	age, err := c.PromptInt("Age: ")
	if err != nil {
		return err
	}
	city, err := c.Prompt("City (optional): ")
	if err != nil {
		return err
	}

	id := f.CreateUser(ctx, name, email, age, city)
	if id == "" {
		return errNotCreated
	}
	fmt.Fprintf(c.Out(), "User created with id %s\n", id)
	return nil
}
