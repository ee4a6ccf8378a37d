package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Source is the read side of a store needed for an export.
type Source interface {
	ListSpecIDs(ctx context.Context) ([]string, error)
	GetTasksBySpec(ctx context.Context, specID string) ([]*TaskRecord, error)
}

// WriteJSONL writes every task record as one JSON object per line,
// grouped by spec id, and returns the number of records written. The
// output is a portable snapshot of the store's projection; the source
// files remain the source of truth.
func WriteJSONL(ctx context.Context, src Source, w io.Writer) (int, error) {
	specIDs, err := src.ListSpecIDs(ctx)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	written := 0
	for _, specID := range specIDs {
		records, err := src.GetTasksBySpec(ctx, specID)
		if err != nil {
			return written, err
		}
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return written, fmt.Errorf("encode %s: %w", rec.DisplayID, err)
			}
			written++
		}
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("flush export: %w", err)
	}
	return written, nil
}
