package dispatch

import "errors"

var (
	// ErrInvalidStatus is returned when the campaign is not queued or
	// sending. Nothing is mutated.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrNoPendingRecipients is returned when a dispatchable campaign has
	// no pending recipients and no prior progress. The campaign is marked
	// failed.
	ErrNoPendingRecipients = errors.New("campaign has no pending recipients")

	// ErrDispatchInProgress is returned when another dispatch holds the
	// campaign's lease.
	ErrDispatchInProgress = errors.New("dispatch already in progress")

	// ErrLeaseLost is returned when the campaign's lease could not be
	// extended between chunks. Sending stops; unsent rows stay pending.
	ErrLeaseLost = errors.New("dispatch lease lost")

	// ErrCampaignNotFound is returned by stores for unknown campaign ids.
	ErrCampaignNotFound = errors.New("campaign not found")
)
