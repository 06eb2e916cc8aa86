package era

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/remit/remit/internal/platform/erafiles"
)

var (
	// ErrDuplicateFile reports an upload whose bytes are already stored.
	ErrDuplicateFile = errors.New("identical remittance file already uploaded")
	// ErrNotParsed reports a posting attempt on a file that failed parsing.
	ErrNotParsed = errors.New("file has not been parsed successfully")
)

// Service orchestrates the remittance lifecycle: upload, parse, post,
// inspect. Raw bytes stay in the file store; parses are recomputed from them
// on demand so there is no second copy of the data to drift.
type Service struct {
	files   erafiles.Store
	results PostingResultRepository
	poster  *Poster
	log     zerolog.Logger
}

func NewService(files erafiles.Store, results PostingResultRepository, poster *Poster, log zerolog.Logger) *Service {
	return &Service{
		files:   files,
		results: results,
		poster:  poster,
		log:     log.With().Str("component", "era").Logger(),
	}
}

// Upload stores a remittance file and runs an initial parse to set its
// status. A byte-identical prior upload is rejected with ErrDuplicateFile
// and the existing record, so the caller can point the user at it.
func (s *Service) Upload(ctx context.Context, fileName, uploadedBy string, data []byte) (*erafiles.FileRecord, *ParseResult, error) {
	if existing, err := s.files.FindByHash(ctx, erafiles.HashBytes(data)); err == nil {
		return existing, nil, ErrDuplicateFile
	} else if !errors.Is(err, erafiles.ErrFileNotFound) {
		return nil, nil, err
	}

	rec, err := s.files.Save(ctx, fileName, uploadedBy, data)
	if err != nil {
		return nil, nil, err
	}

	res := ParseBytes(data)
	status := erafiles.StatusParsed
	if !res.Success {
		status = erafiles.StatusParseFailed
	}
	if err := s.files.UpdateStatus(ctx, rec.ID, status); err != nil {
		return nil, nil, err
	}
	rec.Status = status

	s.log.Info().
		Str("file_id", rec.ID.String()).
		Str("file_name", fileName).
		Bool("parsed", res.Success).
		Int("warnings", len(res.Warnings)).
		Msg("remittance file uploaded")
	return rec, res, nil
}

// Parse re-runs the pipeline over the stored bytes.
func (s *Service) Parse(ctx context.Context, id uuid.UUID) (*ParseResult, error) {
	data, err := s.files.Data(ctx, id)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data), nil
}

// Get returns the file record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*erafiles.FileRecord, error) {
	return s.files.Get(ctx, id)
}

// List pages through stored files, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*erafiles.FileRecord, int, error) {
	return s.files.List(ctx, status, limit, offset)
}

// Post applies the remittance to the claim ledger and records the run. A
// file whose control numbers were posted before is processed again, but
// claims settled by the earlier run come back as already_posted and the new
// result is flagged as a repost.
func (s *Service) Post(ctx context.Context, id uuid.UUID, postedBy string) (*PostingResult, error) {
	rec, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.files.Data(ctx, id)
	if err != nil {
		return nil, err
	}
	res := ParseBytes(data)
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrNotParsed, res.Errors[0])
	}
	f := res.Data

	prior, err := s.results.FindByControlNumbers(ctx, f.InterchangeControlNumber, f.TransactionControlNumber)
	if err != nil {
		return nil, err
	}
	alreadyPosted := make(map[string]bool)
	for _, pr := range prior {
		for _, cr := range pr.Results {
			if cr.Status == PostStatusPosted {
				alreadyPosted[cr.PatientControlNumber] = true
			}
		}
	}

	claimResults := s.poster.Post(ctx, f, rec.ID, postedBy, alreadyPosted)

	pr := &PostingResult{
		ID:                       uuid.New(),
		ERAFileID:                rec.ID,
		InterchangeControlNumber: f.InterchangeControlNumber,
		TransactionControlNumber: f.TransactionControlNumber,
		TotalClaims:              len(claimResults),
		Repost:                   len(prior) > 0,
		PostedBy:                 postedBy,
		Results:                  claimResults,
	}
	for _, cr := range claimResults {
		switch cr.Status {
		case PostStatusPosted:
			pr.SuccessfulPosts++
		case PostStatusFailed:
			pr.FailedPosts++
		}
	}

	if err := s.results.Insert(ctx, pr); err != nil {
		return nil, err
	}
	if err := s.files.UpdateStatus(ctx, rec.ID, erafiles.StatusPosted); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("file_id", rec.ID.String()).
		Str("check_number", f.CheckNumber).
		Int("posted", pr.SuccessfulPosts).
		Int("failed", pr.FailedPosts).
		Bool("repost", pr.Repost).
		Msg("remittance posted")
	return pr, nil
}

// Results returns every posting run recorded for the file, oldest first.
func (s *Service) Results(ctx context.Context, id uuid.UUID) ([]*PostingResult, error) {
	if _, err := s.files.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.results.GetByERAFile(ctx, id)
}
