// Package store persists the user directory, the append-only turn
// history, and the delivery idempotency ledger in a single SQLite
// database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"timeclerk/internal/logging"
	"timeclerk/internal/types"
)

// ErrUserNotFound is returned when no directory entry matches an
// inbound (channel, address) pair.
var ErrUserNotFound = errors.New("no directory entry for sender")

// Store wraps the directory database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	logging.Store("Opening directory store at %s", path)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		tenant_id   TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		channel     TEXT NOT NULL,
		address     TEXT NOT NULL,
		credentials TEXT NOT NULL DEFAULT '',
		timezone    TEXT NOT NULL DEFAULT 'UTC',
		PRIMARY KEY (channel, address)
	);

	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		channel    TEXT NOT NULL,
		direction  TEXT NOT NULL,
		content    TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_scope ON turns(tenant_id, user_id, created_at);

	CREATE TABLE IF NOT EXISTS deliveries (
		request_id          TEXT PRIMARY KEY,
		channel             TEXT NOT NULL,
		destination         TEXT NOT NULL,
		external_message_id TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		created_at          TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertUser inserts or replaces a directory entry.
func (s *Store) UpsertUser(u types.User, channel types.Channel) error {
	_, err := s.db.Exec(`
		INSERT INTO users (tenant_id, user_id, channel, address, credentials, timezone)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, address) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			credentials = excluded.credentials,
			timezone = excluded.timezone`,
		u.TenantID, u.UserID, string(channel), u.Address, u.Credentials, u.Timezone)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// ResolveUser maps an inbound sender address on a channel to a
// directory entry. An unknown sender is a hard failure; orchestration
// must not start without a tenant scope.
func (s *Store) ResolveUser(channel types.Channel, address string) (types.User, error) {
	var u types.User
	err := s.db.QueryRow(`
		SELECT tenant_id, user_id, address, credentials, timezone
		FROM users WHERE channel = ? AND address = ?`,
		string(channel), address).
		Scan(&u.TenantID, &u.UserID, &u.Address, &u.Credentials, &u.Timezone)
	if err == sql.ErrNoRows {
		return types.User{}, fmt.Errorf("%w: channel=%s address=%s", ErrUserNotFound, channel, address)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to resolve user: %w", err)
	}
	return u, nil
}

// AppendTurn writes one history row. Rows are never updated or deleted.
func (s *Store) AppendTurn(rec types.TurnRecord) error {
	meta := "{}"
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal turn metadata: %w", err)
		}
		meta = string(b)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (tenant_id, user_id, channel, direction, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TenantID, rec.UserID, string(rec.Channel), string(rec.Direction), rec.Content, meta, ts)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit prior inbound/outbound pairs for the
// scoped user, newest last, shaped for the conversation window.
func (s *Store) RecentTurns(tenantID, userID string, limit int) ([]types.Turn, error) {
	if limit <= 0 {
		limit = types.HistoryWindow
	}
	rows, err := s.db.Query(`
		SELECT direction, content, created_at
		FROM turns
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY id DESC LIMIT ?`,
		tenantID, userID, limit*2)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	type row struct {
		direction string
		content   string
		at        time.Time
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.direction, &r.content, &r.at); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come back newest first. Walk oldest to newest and pair each
	// inbound with the outbound that follows it.
	var turns []types.Turn
	var pending *types.Turn
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		switch types.Direction(r.direction) {
		case types.DirectionInbound:
			if pending != nil {
				turns = append(turns, *pending)
			}
			pending = &types.Turn{UserText: r.content, Timestamp: r.at}
		case types.DirectionOutbound:
			if pending != nil {
				pending.ResponseText = r.content
				turns = append(turns, *pending)
				pending = nil
			}
		}
	}
	if pending != nil {
		turns = append(turns, *pending)
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// ClaimDelivery records intent to deliver for a request id. It returns
// false when the request was already claimed, which makes retried
// orchestrations a no-op at the delivery step.
func (s *Store) ClaimDelivery(requestID string, channel types.Channel, destination string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO deliveries (request_id, channel, destination, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)
		ON CONFLICT(request_id) DO NOTHING`,
		requestID, string(channel), destination, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseDelivery drops an unfulfilled claim so a redelivery of the
// same request id can retry the send.
func (s *Store) ReleaseDelivery(requestID string) error {
	_, err := s.db.Exec(`DELETE FROM deliveries WHERE request_id = ? AND status = 'pending'`, requestID)
	if err != nil {
		return fmt.Errorf("failed to release delivery claim: %w", err)
	}
	return nil
}

// MarkDelivered records the gateway outcome for a claimed request.
func (s *Store) MarkDelivered(requestID string, receipt types.DeliveryReceipt) error {
	_, err := s.db.Exec(`
		UPDATE deliveries SET external_message_id = ?, status = ?
		WHERE request_id = ?`,
		receipt.ExternalMessageID, receipt.Status, requestID)
	if err != nil {
		return fmt.Errorf("failed to mark delivery: %w", err)
	}
	return nil
}

// Delivery returns the recorded receipt for a request id, if any.
func (s *Store) Delivery(requestID string) (types.DeliveryReceipt, bool, error) {
	var r types.DeliveryReceipt
	err := s.db.QueryRow(`
		SELECT external_message_id, status FROM deliveries WHERE request_id = ?`,
		requestID).Scan(&r.ExternalMessageID, &r.Status)
	if err == sql.ErrNoRows {
		return types.DeliveryReceipt{}, false, nil
	}
	if err != nil {
		return types.DeliveryReceipt{}, false, fmt.Errorf("failed to query delivery: %w", err)
	}
	return r, true, nil
}
