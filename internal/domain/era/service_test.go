package era

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/remit/remit/internal/domain/claims"
	"github.com/remit/remit/internal/platform/erafiles"
)

func newTestService(t *testing.T, claimsRepo *mockClaimsRepo) (*Service, *mockResultsRepo) {
	t.Helper()
	claimSvc := claims.NewService(claimsRepo, zerolog.Nop())
	matcher := NewMatcher(claimsRepo, 7)
	poster := NewPoster(matcher, claimSvc, zerolog.Nop(), 2)
	results := &mockResultsRepo{}
	return NewService(erafiles.NewMemoryStore(), results, poster, zerolog.Nop()), results
}

func TestUpload_ParsesAndSetsStatus(t *testing.T) {
	svc, _ := newTestService(t, newMockClaimsRepo())

	rec, res, err := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(standardBody()...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != erafiles.StatusParsed {
		t.Errorf("status = %s, want %s", rec.Status, erafiles.StatusParsed)
	}
	if !res.Success || res.Data.CheckNumber != "EFT8870021" {
		t.Errorf("parse result = %+v", res)
	}
}

func TestUpload_ParseFailureKeepsFile(t *testing.T) {
	svc, _ := newTestService(t, newMockClaimsRepo())

	raw := []byte(strings.Replace(string(buildERA(standardBody()...)), "IEA*1*000000905", "IEA*1*999", 1))
	rec, res, err := svc.Upload(context.Background(), "bad.835", "uploader", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != erafiles.StatusParseFailed {
		t.Errorf("status = %s, want %s", rec.Status, erafiles.StatusParseFailed)
	}
	if res.Success || len(res.Errors) == 0 {
		t.Errorf("expected recorded parse errors, got %+v", res)
	}

	got, err := svc.Get(context.Background(), rec.ID)
	if err != nil || got.FileName != "bad.835" {
		t.Errorf("file record should survive a failed parse: %v %+v", err, got)
	}
}

func TestUpload_DuplicateRejected(t *testing.T) {
	svc, _ := newTestService(t, newMockClaimsRepo())
	raw := buildERA(standardBody()...)

	first, _, err := svc.Upload(context.Background(), "remit.835", "uploader", raw)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	existing, _, err := svc.Upload(context.Background(), "renamed.835", "uploader", raw)
	if !errors.Is(err, ErrDuplicateFile) {
		t.Fatalf("err = %v, want ErrDuplicateFile", err)
	}
	if existing == nil || existing.ID != first.ID {
		t.Error("duplicate upload should return the original record")
	}
}

func TestPost_AppliesPayments(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	c1 := claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	c2 := claimsRepo.seed("CLM101", "MEM456", 700, date(2024, 1, 3))
	svc, _ := newTestService(t, claimsRepo)

	rec, _, err := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(standardBody()...))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if pr.TotalClaims != 2 || pr.SuccessfulPosts != 2 || pr.FailedPosts != 0 {
		t.Fatalf("result = %+v", pr)
	}
	if pr.Repost {
		t.Error("first posting must not be flagged repost")
	}
	if pr.Results[0].PatientControlNumber != "CLM100" || pr.Results[1].PatientControlNumber != "CLM101" {
		t.Error("results must stay in file order")
	}

	got1, _ := claimsRepo.GetByID(context.Background(), c1.ID)
	if got1.Status != claims.StatusPartiallyPaid || got1.PaidAmount != 600 {
		t.Errorf("claim 1 = %s paid %.2f", got1.Status, got1.PaidAmount)
	}
	got2, _ := claimsRepo.GetByID(context.Background(), c2.ID)
	if got2.Status != claims.StatusPaid || got2.PaidAmount != 700 {
		t.Errorf("claim 2 = %s paid %.2f", got2.Status, got2.PaidAmount)
	}

	entries, _ := claimsRepo.ListLedgerByClaim(context.Background(), c1.ID)
	if len(entries) != 1 || entries[0].CheckNumber != "EFT8870021" {
		t.Errorf("ledger = %+v", entries)
	}
	if len(entries[0].ReasonCodes) != 2 {
		t.Errorf("reason codes = %v", entries[0].ReasonCodes)
	}

	file, _ := svc.Get(context.Background(), rec.ID)
	if file.Status != erafiles.StatusPosted {
		t.Errorf("file status = %s, want %s", file.Status, erafiles.StatusPosted)
	}
}

func TestPost_FailuresAreIsolated(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	// CLM101 has no matching claim record.
	svc, _ := newTestService(t, claimsRepo)

	rec, _, _ := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(standardBody()...))
	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if pr.SuccessfulPosts != 1 || pr.FailedPosts != 1 {
		t.Fatalf("result = %+v", pr)
	}
	failed := pr.Results[1]
	if failed.Status != PostStatusFailed || failed.Reason != ReasonNotFound {
		t.Errorf("failed claim = %+v", failed)
	}
}

func TestPost_RepostIsIdempotent(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	c1 := claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	claimsRepo.seed("CLM101", "MEM456", 700, date(2024, 1, 3))
	svc, results := newTestService(t, claimsRepo)

	rec, _, _ := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(standardBody()...))
	if _, err := svc.Post(context.Background(), rec.ID, "poster"); err != nil {
		t.Fatalf("first post: %v", err)
	}
	second, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("second post: %v", err)
	}

	if !second.Repost {
		t.Error("second run must be flagged repost")
	}
	if second.SuccessfulPosts != 0 {
		t.Errorf("second run posted %d claims, want 0", second.SuccessfulPosts)
	}
	for _, cr := range second.Results {
		if cr.Status != PostStatusAlreadyPosted {
			t.Errorf("claim %s status = %s, want already_posted", cr.PatientControlNumber, cr.Status)
		}
	}

	// The ledger gained nothing from the repost.
	entries, _ := claimsRepo.ListLedgerByClaim(context.Background(), c1.ID)
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}
	// Both runs are retained as audit records.
	if len(results.results) != 2 {
		t.Errorf("stored results = %d, want 2", len(results.results))
	}
}

func TestPost_UnparsedFileRefused(t *testing.T) {
	svc, _ := newTestService(t, newMockClaimsRepo())
	raw := []byte(strings.Replace(string(buildERA(standardBody()...)), "IEA*1*000000905", "IEA*1*999", 1))
	rec, _, _ := svc.Upload(context.Background(), "bad.835", "uploader", raw)

	if _, err := svc.Post(context.Background(), rec.ID, "poster"); !errors.Is(err, ErrNotParsed) {
		t.Fatalf("err = %v, want ErrNotParsed", err)
	}
}

func TestPost_UnusableClaimFails(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	claimsRepo.seed("CLM101", "MEM456", 700, date(2024, 1, 3))
	svc, _ := newTestService(t, claimsRepo)

	body := standardBody()
	for i, s := range body {
		if strings.HasPrefix(s, "CLP*CLM101") {
			body[i] = "CLP*CLM101*1*700*SEVEN**12*ICN0002*11"
		}
	}
	rec, _, _ := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(body...))
	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if pr.Results[1].Reason != ReasonUnusable {
		t.Errorf("reason = %s, want %s", pr.Results[1].Reason, ReasonUnusable)
	}
	if pr.SuccessfulPosts != 1 {
		t.Errorf("healthy claim must still post, got %d", pr.SuccessfulPosts)
	}
}

func TestPost_ReversalRefused(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	claimsRepo.seed("CLM101", "MEM456", 700, date(2024, 1, 3))
	svc, _ := newTestService(t, claimsRepo)

	body := standardBody()
	for i, s := range body {
		if strings.HasPrefix(s, "CLP*CLM101") {
			body[i] = strings.Replace(s, "*1*", "*22*", 1)
		}
	}
	rec, _, _ := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(body...))
	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if pr.Results[1].Reason != ReasonReversalUnsupported {
		t.Errorf("reason = %s, want %s", pr.Results[1].Reason, ReasonReversalUnsupported)
	}
}

func TestPost_RetriesVersionConflictOnce(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	c1 := claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	claimsRepo.seed("CLM101", "MEM456", 700, date(2024, 1, 3))
	claimsRepo.failApplyOnce[c1.ID] = claims.ErrVersionConflict
	svc, _ := newTestService(t, claimsRepo)

	rec, _, _ := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(standardBody()...))
	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if pr.SuccessfulPosts != 2 {
		t.Fatalf("posted = %d, want 2 after retry; results %+v", pr.SuccessfulPosts, pr.Results)
	}
}

func TestPost_DeniedClaimPostsDenial(t *testing.T) {
	claimsRepo := newMockClaimsRepo()
	c := claimsRepo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	claimsRepo.seed("CLM101", "MEM456", 700, date(2024, 1, 3))
	svc, _ := newTestService(t, claimsRepo)

	body := standardBody()
	for i, s := range body {
		if strings.HasPrefix(s, "CLP*CLM100") {
			body[i] = "CLP*CLM100*4*800*0*800*12*ICN0001*11"
		}
		if s == "SVC*HC:90837*800*600**1" {
			body[i] = "SVC*HC:90837*800*0**1"
		}
	}
	rec, _, _ := svc.Upload(context.Background(), "remit.835", "uploader", buildERA(body...))
	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if pr.Results[0].Status != PostStatusPosted || pr.Results[0].ClaimStatus != claims.StatusDenied {
		t.Errorf("denied claim result = %+v", pr.Results[0])
	}

	entries, _ := claimsRepo.ListLedgerByClaim(context.Background(), c.ID)
	if len(entries) != 1 || entries[0].EntryType != claims.EntryDenial {
		t.Errorf("ledger = %+v", entries)
	}
}

func TestPost_EmptyClaimsFile(t *testing.T) {
	svc, _ := newTestService(t, newMockClaimsRepo())

	body := []string{
		"ST*835*0001",
		"BPR*I*0*C*ACH*CCP*01*999999992*DA*123456*1512345678**01*999988880*DA*98765*20240120",
		"TRN*1*EFT0000001*1512345678",
		"DTM*405*20240118",
		"N1*PR*ACME HEALTH PLAN*XV*66666",
		"N1*PE*GOOD THERAPY LLC*XX*1234567890",
		"SE*7*0001",
	}
	rec, res, err := svc.Upload(context.Background(), "empty.835", "uploader", buildERA(body...))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Errors)
	}
	if len(res.Data.Claims) != 0 {
		t.Fatalf("expected 0 claims, got %d", len(res.Data.Claims))
	}

	pr, err := svc.Post(context.Background(), rec.ID, "poster")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if pr.TotalClaims != 0 || pr.SuccessfulPosts != 0 || pr.FailedPosts != 0 {
		t.Errorf("expected zero counts, got %+v", pr)
	}
}
