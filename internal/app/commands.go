package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aviz85/gemini-video-playground/internal/auth"
)

// runBatch executes a batch's pending tasks in the foreground.
func runBatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: run-batch <batch-id>")
	}

	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	report, err := env.comps.Runner.Run(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, report)
}

// importCSV ingests a CSV file into a group on behalf of the user with email.
func importCSV(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: import-csv <email> <group-id> <file.csv>")
	}
	email, groupID, path := strings.ToLower(strings.TrimSpace(args[0])), args[1], args[2]

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	user, err := env.comps.Users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find user %s: %w", email, err)
	}

	report, err := env.comps.Ingestor.ImportCSV(ctx, auth.Session{UserID: user.ID, Email: user.Email}, groupID, file)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, report)
}

// embedSummaries embeds every stored summary that has no embedding yet.
func embedSummaries(ctx context.Context) error {
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	count, err := env.comps.Search.EmbedMissing(ctx, "")
	if err != nil {
		return err
	}
	fmt.Printf("embedded %d summaries\n", count)
	return nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
