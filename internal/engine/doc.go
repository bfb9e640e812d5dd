// Package engine runs the poll, reconcile and dispatch pipeline.
//
// A cycle enumerates users with a usable credential and, for each user in
// turn:
//
//  1. fetches events in [now, now+lookahead) from the calendar source
//  2. normalizes them, dropping meetings without a join link
//  3. reads the user's snapshot and settings
//  4. reconciles, producing a notification batch and a state delta
//  5. applies the delta in one transaction
//  6. dispatches the batch in order
//
// A fetch failure stops the user's cycle before step 3, so nothing is
// notified or mutated. A store failure in step 5 drops the batch. Delivery
// failures are logged and never roll state back.
//
// Errors are isolated per user: one user's failure never aborts the cycle.
// After all users, expired rows and stale OAuth states are garbage collected.
//
// Reconciliations for the same user are serialized through a per-user lock
// shared by the scheduler and ForceCheck.
package engine
