package console

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const (
	ruleWidth  = 80
	timeLayout = "2006-01-02 15:04:05"
)

// PrintUsers writes users as numbered blocks. Extra fields set through
// updates are listed after the fixed ones.
func PrintUsers(w io.Writer, users []storage.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users to display")
		return
	}

	rule := strings.Repeat("=", ruleWidth)
	fmt.Fprintf(w, "\n%s\nUSERS\n%s\n", rule, rule)

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for i, u := range users {
		city := u.City
		if city == "" {
			city = "not provided"
		}

		fmt.Fprintf(tw, "\n%d.\tID:\t%s\n", i+1, u.ID.Hex())
		fmt.Fprintf(tw, "\tName:\t%s\n", u.Name)
		fmt.Fprintf(tw, "\tEmail:\t%s\n", u.Email)
		fmt.Fprintf(tw, "\tAge:\t%d\n", u.Age)
		fmt.Fprintf(tw, "\tCity:\t%s\n", city)
		fmt.Fprintf(tw, "\tActive:\t%t\n", u.Active)
		fmt.Fprintf(tw, "\tCreated:\t%s\n", formatTime(u.CreatedAt))
		if u.UpdatedAt != nil {
			fmt.Fprintf(tw, "\tUpdated:\t%s\n", formatTime(*u.UpdatedAt))
		}
		for _, key := range slices.Sorted(maps.Keys(u.Extra)) {
			fmt.Fprintf(tw, "\t%s:\t%v\n", key, u.Extra[key])
		}
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%s\n", rule)
}

// PrintEnvironments lists every profile with its description.
func PrintEnvironments(w io.Writer, profiles []config.Profile) {
	fmt.Fprintln(w, "Available environments:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range profiles {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Name, p.Description, p.DatabaseName)
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(timeLayout)
}
