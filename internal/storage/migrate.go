package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	logx "shelfbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate applies pending migrations. Databases created before the token
// column existed are upgraded in place by the Go migration at version 2.
func migrate(ctx context.Context, db *sql.DB, log logx.Logger) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys,
		goose.WithGoMigrations(
			goose.NewGoMigration(2, &goose.GoFunc{RunTx: addTaskToken}, nil),
		),
	)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		log.Info("migration applied",
			logx.Int64("version", r.Source.Version),
			logx.Duration("took", r.Duration),
		)
	}
	return nil
}

func addTaskToken(ctx context.Context, tx *sql.Tx) error {
	ok, err := hasColumn(ctx, tx, "tasks", "token")
	if err != nil || ok {
		return err
	}
	_, err = tx.ExecContext(ctx, `ALTER TABLE tasks ADD COLUMN token TEXT`)
	return err
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
