package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// CredentialRecord is one user's stored credential. Data is opaque to the
// store: a token JSON document for oauth2, a feed URL for ics.
type CredentialRecord struct {
	UserID    string
	Kind      string
	Data      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PutCredential inserts or replaces the user's credential.
func (s *Store) PutCredential(ctx context.Context, userID, kind, data string, now time.Time) error {
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO credentials (user_id, kind, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			kind = excluded.kind,
			data = excluded.data,
			updated_at = excluded.updated_at
	`), userID, kind, data, ts, ts)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// Credential returns the user's credential or ErrNotFound.
func (s *Store) Credential(ctx context.Context, userID string) (CredentialRecord, error) {
	rec := CredentialRecord{UserID: userID}
	var created, updated string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT kind, data, created_at, updated_at FROM credentials WHERE user_id = ?
	`), userID).Scan(&rec.Kind, &rec.Data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRecord{}, fmt.Errorf("credential for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("query credential: %w", err)
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return CredentialRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return CredentialRecord{}, err
	}
	return rec, nil
}

// DeleteCredential removes the user's credential. Missing rows are not an error.
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM credentials WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// CredentialUsers lists every user with a stored credential, sorted.
func (s *Store) CredentialUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM credentials ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query credential users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan credential user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential users: %w", err)
	}
	return users, nil
}

// SaveAuthState records a pending OAuth state nonce for a user.
func (s *Store) SaveAuthState(ctx context.Context, state, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO auth_states (state, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (state) DO UPDATE SET user_id = excluded.user_id, created_at = excluded.created_at
	`), state, userID, formatTime(now))
	if err != nil {
		return fmt.Errorf("save auth state: %w", err)
	}
	return nil
}

// ConsumeAuthState returns the user bound to state and deletes the nonce.
// Returns ErrNotFound for unknown or already used states.
func (s *Store) ConsumeAuthState(ctx context.Context, state string) (string, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("consume auth state: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var userID, created string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT user_id, created_at FROM auth_states WHERE state = ?`), state).Scan(&userID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, fmt.Errorf("auth state: %w", ErrNotFound)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("consume auth state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM auth_states WHERE state = ?`), state); err != nil {
		return "", time.Time{}, fmt.Errorf("consume auth state: delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", time.Time{}, fmt.Errorf("consume auth state: commit: %w", err)
	}

	createdAt, err := parseTime(created)
	if err != nil {
		return "", time.Time{}, err
	}
	return userID, createdAt, nil
}

// PurgeAuthStates deletes nonces created before cutoff.
func (s *Store) PurgeAuthStates(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM auth_states WHERE created_at < ?`), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge auth states: %w", err)
	}
	return res.RowsAffected()
}
