// Package campaign implements the campaign state machine actions: create,
// edit, queue, cancel, duplicate, resend-to-failures and delete.
//
// Status changes outside dispatch go through this package. Dispatch itself
// lives in internal/dispatch, which owns the queued -> sending -> sent|failed
// edges. Repository implementations live in repository/postgres/.
package campaign
