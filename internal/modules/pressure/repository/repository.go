package repository

import (
	"context"
	"io"
	"slices"

	"bplog/internal/modules/pressure/types"
)

// ReadingRepository is the append-only store of readings.
type ReadingRepository interface {
	// ReadAll returns every stored reading ordered by instant.
	ReadAll(ctx context.Context) ([]types.Reading, error)
	Append(ctx context.Context, r types.Reading) error
	// Dump writes the store as NDJSON.
	Dump(ctx context.Context, w io.Writer) error
	// Replace backs up the current contents and overwrites them with rs. It
	// returns where the backup went.
	Replace(ctx context.Context, rs []types.Reading) (string, error)
	Ping(ctx context.Context) error
}

func sortByInstant(rs []types.Reading) {
	slices.SortStableFunc(rs, func(a, b types.Reading) int { return a.Time.Compare(b.Time) })
}
