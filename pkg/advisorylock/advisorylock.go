// Package advisorylock wraps PostgreSQL advisory locks for the two
// serialization needs of campaignctl: a session-scoped lock held for a
// worker's entire run (so only one instance of a singleton worker is ever
// active), and a transaction-scoped lock held only for the span of a DB
// transaction (so concurrent decision-engine passes don't race on the same
// contact). Adapted from the PGAdvisoryLock pattern in the teacher pack, but
// a session lock here is bound to a dedicated *sql.Conn rather than a shared
// *sql.DB pool: pg_try_advisory_lock/pg_advisory_unlock are scoped to the
// backend connection that issued them, and a pool can hand Acquire and
// Release to two different connections, leaking the lock until that second
// connection closes.
package advisorylock

import (
	"context"
	"database/sql"
	"hash/fnv"
)

func lockIDFor(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// SessionLock holds a PostgreSQL session-scoped advisory lock on a dedicated
// connection for the lifetime of the lock, releasing it explicitly on
// Release (or implicitly if the connection is closed/dropped).
type SessionLock struct {
	conn   *sql.Conn
	lockID int64
	key    string
}

// NewSessionLock checks out a dedicated connection from db and attempts to
// acquire a session-scoped advisory lock keyed by key. The returned
// SessionLock is nil with acquired=false if the lock is already held
// elsewhere; callers should treat that as "skip this tick", not an error.
func NewSessionLock(ctx context.Context, db *sql.DB, key string) (lock *SessionLock, acquired bool, err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	lockID := lockIDFor(key)
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	return &SessionLock{conn: conn, lockID: lockID, key: key}, true, nil
}

// Release unlocks the advisory lock and returns the underlying connection to
// the pool. Safe to call once; subsequent calls are no-ops.
func (l *SessionLock) Release(ctx context.Context) error {
	if l == nil || l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}

// TryTxLock attempts a transaction-scoped advisory lock (pg_try_advisory_xact_lock)
// keyed by key, inside the already-open transaction tx. The lock is released
// automatically on tx.Commit or tx.Rollback — there is no explicit unlock
// call. Returns acquired=false (no error) when another session already holds
// the lock for this key.
func TryTxLock(ctx context.Context, tx *sql.Tx, key string) (acquired bool, err error) {
	lockID := lockIDFor(key)
	var ok bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
