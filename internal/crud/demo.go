package crud

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/eugenenazirov/mongo-crud/internal/console"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

// RunDemo walks through every CRUD operation on a freshly emptied users
// collection and writes the intermediate listings to out. The façade must
// already be connected.
func RunDemo(ctx context.Context, f *Facade, out io.Writer) error {
	if !f.Connected() {
		return storage.ErrNotConnected
	}

	fmt.Fprintln(out, "Clearing previous data...")
	f.DeleteAllUsers(ctx)

	section(out, "CREATE")
	firstID := f.CreateUser(ctx, "João Silva", "joao@email.com", 30, "São Paulo")
	f.CreateUser(ctx, "Maria Santos", "maria@email.com", 25, "Rio de Janeiro")
	thirdID := f.CreateUser(ctx, "Pedro Oliveira", "pedro@email.com", 35, "")
	f.CreateUsers(ctx, []storage.User{
		{Name: "Ana Costa", Email: "ana@email.com", Age: 28, City: "Belo Horizonte"},
		{Name: "Carlos Lima", Email: "carlos@email.com", Age: 32, City: "Salvador"},
		{Name: "Lucia Ferreira", Email: "lucia@email.com", Age: 29, City: "Fortaleza"},
	})

	section(out, "READ")
	fmt.Fprintln(out, "\nAll users:")
	console.PrintUsers(out, f.ReadAllUsers(ctx))

	if firstID != "" {
		fmt.Fprintf(out, "\nLooking up user %s:\n", firstID)
		if user := f.ReadUserByID(ctx, firstID); user != nil {
			console.PrintUsers(out, []storage.User{*user})
		}
	}

	fmt.Fprintln(out, "\nUsers older than 30:")
	console.PrintUsers(out, f.ReadUsersByFilter(ctx, bson.M{"age": bson.M{"$gt": 30}}))

	fmt.Fprintln(out, "\nUsers from São Paulo:")
	console.PrintUsers(out, f.ReadUsersByFilter(ctx, bson.M{"city": "São Paulo"}))

	section(out, "UPDATE")
	if firstID != "" {
		fmt.Fprintf(out, "\nUpdating user %s:\n", firstID)
		f.UpdateUser(ctx, firstID, bson.M{
			"age":   31,
			"city":  "Brasília",
			"phone": "(11) 99999-9999",
		})
		if user := f.ReadUserByID(ctx, firstID); user != nil {
			console.PrintUsers(out, []storage.User{*user})
		}
	}

	fmt.Fprintln(out, "\nUpdating every user younger than 30:")
	f.UpdateUsers(ctx, bson.M{"age": bson.M{"$lt": 30}}, bson.M{"status": "young", "discount": 10})
	console.PrintUsers(out, f.ReadUsersByFilter(ctx, bson.M{"status": "young"}))

	section(out, "DELETE")
	fmt.Fprintf(out, "Users before deleting: %d\n", f.CountUsers(ctx))

	if thirdID != "" {
		fmt.Fprintf(out, "\nDeleting user %s:\n", thirdID)
		f.DeleteUser(ctx, thirdID)
	}

	fmt.Fprintln(out, "\nDeleting users older than 32:")
	deleted := f.DeleteUsersByFilter(ctx, bson.M{"age": bson.M{"$gt": 32}})
	fmt.Fprintf(out, "  - %d users deleted\n", deleted)

	fmt.Fprintln(out, "\nRemaining users:")
	console.PrintUsers(out, f.ReadAllUsers(ctx))
	fmt.Fprintf(out, "Users after deleting: %d\n", f.CountUsers(ctx))

	section(out, "CRUD demonstration finished")
	return nil
}

func section(out io.Writer, title string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(out, "\n%s\n%s\n%s\n", rule, title, rule)
}
