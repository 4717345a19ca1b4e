package engine

import (
	"context"
	"fmt"
)

// MigrateStats counts what Migrate copied.
type MigrateStats struct {
	Clients     int
	Submissions int
}

// Migrate copies every client and submission from src into dst, keeping IDs
// and timestamps. This works for:
// - Remote -> Embedded (the offline backup behind the sync command)
// - Embedded -> Embedded (moving or re-encrypting a data directory)
func Migrate(ctx context.Context, src SubmissionStore, dst Importer) (MigrateStats, error) {
	var stats MigrateStats

	clients, err := src.Clients(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list clients: %w", err)
	}
	for _, c := range clients {
		if c.ClientID == "" {
			continue
		}
		if err := dst.PutClient(ctx, c); err != nil {
			return stats, fmt.Errorf("failed to copy client %s: %w", c.ClientID, err)
		}
		stats.Clients++
	}

	subs, err := src.Submissions(ctx, "")
	if err != nil {
		return stats, fmt.Errorf("failed to list submissions: %w", err)
	}
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := dst.PutSubmission(ctx, s); err != nil {
			return stats, fmt.Errorf("failed to copy submission %s: %w", s.ID, err)
		}
		stats.Submissions++
	}
	return stats, nil
}
