package writer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// Postgres SQLSTATE classes that may succeed on retry.
var transientClasses = map[string]bool{
	"08": true, // connection exception
	"40": true, // transaction rollback (serialization, deadlock)
	"53": true, // insufficient resources
	"57": true, // operator intervention (admin shutdown, query canceled)
}

// classifyError wraps storage errors that may succeed on retry with model.ErrTransientWrite.
// Other errors are returned unchanged and fail the pair.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", model.ErrTransientWrite, err)
	}
	return err
}

// isStalePair reports a foreign key violation: the trading pair id the write used
// no longer exists.
func isStalePair(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isTransient(err error) bool {
	if errors.Is(err, model.ErrTransientWrite) {
		return false // already classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) >= 2 && transientClasses[pgErr.Code[:2]]
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
