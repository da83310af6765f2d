package ledger

import "context"

type Repository interface {
	// Append rejects batches that do not net to zero per event.
	Append(ctx context.Context, entries []Entry) error
	ListByContract(ctx context.Context, contractID string) ([]Entry, error)
}
