// Package model provides the shared types for meetwatch.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal, so it stays the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Every persisted type is keyed by an explicit UserID, never by ambient state
//   - All instants are timezone-aware time.Time values; the store keeps them in UTC
//   - All JSON tags use snake_case
package model
