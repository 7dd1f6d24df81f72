package sqlutil

import (
	"context"
	"database/sql"

	"github.com/mcdev12/timesync/go/internal/db"
)

// Run executes fn inside a *sql.Tx with the queries bound to it.
// If fn returns an error the tx rolls back, else it commits.
func Run(ctx context.Context, dbh *sql.DB, queries *db.Queries, fn func(q *db.Queries) error) error {
	tx, err := dbh.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
