// Package store provides durable storage for meetwatch reconciliation state.
//
// Tables:
//   - tracked_events: one row per (user, event); presence means discovered
//   - sent_reminders: reminder emission keys (user, event, lead minutes)
//   - user_settings: per-user preferences, created lazily
//   - user_state: the per-user first-run marker
//   - meeting_stats: observational per-meeting records
//   - credentials, auth_states: owned by the credential package
//
// # Backends
//
// Open selects SQLite (github.com/mattn/go-sqlite3) for file paths and
// ":memory:", and PostgreSQL (github.com/lib/pq) for postgres:// URLs. The
// schema and every query are written in the subset both understand; ?
// placeholders are rebound to $n for PostgreSQL.
//
// # Isolation
//
// Every per-user query is partitioned by user_id. A reconciliation's
// StateDelta is applied in one transaction, so a failed write never leaves
// partial transition state.
//
// # Time
//
// Instants are stored as fixed-width UTC text, so string comparison in SQL
// matches chronological order.
package store
