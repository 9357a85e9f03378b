package cursor

import (
	"context"

	"eventflow/internal/model"
)

// Store persists the cursor across process restarts. Load reports
// ok=false when no cursor has been saved yet.
type Store interface {
	Load(ctx context.Context) (model.Cursor, bool, error)
	Save(ctx context.Context, cur model.Cursor) error
}
