// Package console holds the interactive pieces of the command-line tools: a
// numbered menu loop, line prompts and the formatted user listing.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ExitKey is the menu choice that ends the loop.
const ExitKey = "0"

// Item is one numbered menu entry.
type Item struct {
	Key   string
	Label string
	Run   func(ctx context.Context) error
}

// Console reads answers line by line from in and writes prompts to out.
type Console struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// New creates a console over the given streams.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

// Out returns the stream prompts and reports are written to.
func (c *Console) Out() io.Writer {
	return c.out
}

// Prompt prints label and returns the next line with surrounding spaces
// removed. It returns io.EOF once the input is exhausted.
func (c *Console) Prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.scanner.Text()), nil
}

// PromptInt prompts until the answer parses as an integer.
func (c *Console) PromptInt(label string) (int, error) {
	for {
		answer, err := c.Prompt(label)
		if err != nil {
			return 0, err
		}
		n, convErr := strconv.Atoi(answer)
		if convErr == nil {
			return n, nil
		}
		fmt.Fprintf(c.out, "%q is not a whole number, try again.\n", answer)
	}
}

// Menu prints title and items, then runs the chosen item until the user picks
// ExitKey, the input ends or ctx is cancelled. An item error is reported and
// the menu is shown again.
func (c *Console) Menu(ctx context.Context, title string, items []Item) error {
	byKey := make(map[string]Item, len(items))
	for _, item := range items {
		byKey[item.Key] = item
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.printMenu(title, items)
		choice, err := c.Prompt(fmt.Sprintf("\nChoose an option (%s-%s): ", ExitKey, lastKey(items)))
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out, "\nExiting...")
			return nil
		}
		if err != nil {
			return err
		}

		if choice == ExitKey {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}

		item, ok := byKey[choice]
		if !ok {
			fmt.Fprintln(c.out, "Invalid option, try again.")
			continue
		}
		if err := item.Run(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out, "\nExiting...")
				return nil
			}
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *Console) printMenu(title string, items []Item) {
	fmt.Fprintf(c.out, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
	for _, item := range items {
		fmt.Fprintf(c.out, "%s. %s\n", item.Key, item.Label)
	}
	fmt.Fprintf(c.out, "%s. Exit\n", ExitKey)
}

func lastKey(items []Item) string {
	if len(items) == 0 {
		return ExitKey
	}
	return items[len(items)-1].Key
}
