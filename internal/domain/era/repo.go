package era

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrResultNotFound = errors.New("posting result not found")

// PostingResultRepository persists posting audit records. Results are
// append-only; a repost inserts a new record instead of updating.
type PostingResultRepository interface {
	Insert(ctx context.Context, r *PostingResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*PostingResult, error)
	// GetByERAFile returns every posting run for a file, oldest first.
	GetByERAFile(ctx context.Context, fileID uuid.UUID) ([]*PostingResult, error)
	// FindByControlNumbers returns prior runs for the same interchange and
	// transaction control numbers, which is how a re-uploaded duplicate of
	// an already posted remittance is detected.
	FindByControlNumbers(ctx context.Context, interchangeCN, transactionCN string) ([]*PostingResult, error)
}
