package engine

import (
	"context"
	"fmt"
	"time"

	"db-clone/internal/dialect"
	"db-clone/internal/schema"
)

// Host is the application around a copy. The engine only asks it for versions
// of written rows and whether a row exists in the live store.
type Host interface {
	CreateVersion(ctx context.Context, table *schema.Table, id int64) error
	ObjectExists(ctx context.Context, table *schema.Table, id int64) (bool, error)
}

// SQLHost keeps versions in a table of the destination:
//
//	CREATE TABLE <table> (obj_table VARCHAR(64), obj_id BIGINT, created_at BIGINT)
//
// and checks existence against the live source store.
type SQLHost struct {
	dst          dialect.Queryer
	live         dialect.Queryer
	d            dialect.Dialect
	versionTable string
	now          func() time.Time
}

var _ Host = (*SQLHost)(nil)

func NewSQLHost(dst, live dialect.Queryer, d dialect.Dialect, versionTable string) *SQLHost {
	return &SQLHost{dst: dst, live: live, d: d, versionTable: versionTable, now: time.Now}
}

func (h *SQLHost) CreateVersion(ctx context.Context, table *schema.Table, id int64) error {
	if h.versionTable == "" {
		return nil
	}
	query := h.d.InsertQuery(h.versionTable, []string{"obj_table", "obj_id", "created_at"})
	if _, err := h.dst.ExecContext(ctx, query, table.Name, id, h.now().Unix()); err != nil {
		return fmt.Errorf("failed to create version of %s %d: %w", table.Name, id, err)
	}
	return nil
}

func (h *SQLHost) ObjectExists(ctx context.Context, table *schema.Table, id int64) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", table.Name, table.IDColumn, h.d.Placeholder(0))
	var n int
	if err := h.live.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check %s %d: %w", table.Name, id, err)
	}
	return n > 0, nil
}
