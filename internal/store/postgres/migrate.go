package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables and indexes if they do not exist.
// Statements are idempotent; concurrent callers should serialize via an
// advisory lock (see the leaderelection package).
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
