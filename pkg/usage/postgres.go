package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger table names. The table is interpolated into SQL, so only
// whitelisted names are accepted.
const (
	TableTranscriptionUsage = "transcription_usage"
	TableExportUsage        = "export_usage"
)

// PostgresLedger implements Ledger over one usage table.
type PostgresLedger struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresLedger creates a ledger bound to a whitelisted usage table.
func NewPostgresLedger(pool *pgxpool.Pool, table string) (*PostgresLedger, error) {
	switch table {
	case TableTranscriptionUsage, TableExportUsage:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLedgerTable, table)
	}
	return &PostgresLedger{pool: pool, table: table}, nil
}

func (l *PostgresLedger) Insert(ctx context.Context, entry Entry) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO `+l.table+` (id, user_id, quantity, created_at)
		VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.UserID, entry.Quantity, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s: %w", l.table, err)
	}
	return nil
}

func (l *PostgresLedger) SumRange(ctx context.Context, userID uuid.UUID, from time.Time, until *time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM ` + l.table + `
		WHERE user_id = $1 AND created_at >= $2`
	args := []any{userID, from}
	if until != nil {
		query += ` AND created_at < $3`
		args = append(args, *until)
	}

	var total int
	if err := l.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum %s: %w", l.table, err)
	}
	return total, nil
}

var (
	_ Ledger = (*PostgresLedger)(nil)
	_ Ledger = (*InMemLedger)(nil)
)
