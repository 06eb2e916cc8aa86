package era

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/remit/remit/internal/domain/claims"
)

// buildERA assembles a complete interchange from body segments, supplying
// the fixed-width ISA header and surrounding envelope.
func buildERA(bodySegments ...string) []byte {
	segs := []string{
		"ISA*00*          *00*          *ZZ*PAYERID        *ZZ*PROVIDERID     *240115*1200*^*00501*000000905*0*P*:",
		"GS*HP*PAYERID*PROVIDERID*20240115*1200*1*X*005010X221A1",
	}
	segs = append(segs, bodySegments...)
	segs = append(segs,
		"GE*1*1",
		"IEA*1*000000905",
	)
	return []byte(strings.Join(segs, "~\n") + "~\n")
}

func standardBody() []string {
	return []string{
		"ST*835*0001",
		"BPR*I*1300*C*ACH*CCP*01*999999992*DA*123456*1512345678**01*999988880*DA*98765*20240120",
		"TRN*1*EFT8870021*1512345678",
		"DTM*405*20240118",
		"N1*PR*ACME HEALTH PLAN*XV*66666",
		"N3*PO BOX 12000",
		"N4*SPRINGFIELD*IL*62701",
		"N1*PE*GOOD THERAPY LLC*XX*1234567890",
		"LX*1",
		"CLP*CLM100*1*800*600*50*12*ICN0001*11",
		"NM1*QC*1*DOE*JANE****MI*MEM123",
		"DTM*232*20240102",
		"AMT*AU*650",
		"SVC*HC:90837*800*600**1",
		"DTM*472*20240102",
		"CAS*CO*45*150",
		"CAS*PR*2*50",
		"CLP*CLM101*1*700*700**12*ICN0002*11",
		"NM1*QC*1*ROE*RICHARD****MI*MEM456",
		"SVC*HC:90834*700*700**1",
		"DTM*472*20240103",
		"SE*22*0001",
	}
}

func mustParseBytes(t *testing.T, raw []byte) *ERAFile {
	t.Helper()
	res := ParseBytes(raw)
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Errors)
	}
	return res.Data
}

// mockClaimsRepo is an in-memory claims.Repository for posting tests.
type mockClaimsRepo struct {
	mu      sync.Mutex
	claims  map[uuid.UUID]*claims.Claim
	byCN    map[string]*claims.Claim
	ledgers map[uuid.UUID][]*claims.LedgerEntry

	failApplyOnce map[uuid.UUID]error
}

func newMockClaimsRepo() *mockClaimsRepo {
	return &mockClaimsRepo{
		claims:        make(map[uuid.UUID]*claims.Claim),
		byCN:          make(map[string]*claims.Claim),
		ledgers:       make(map[uuid.UUID][]*claims.LedgerEntry),
		failApplyOnce: make(map[uuid.UUID]error),
	}
}

func (m *mockClaimsRepo) seed(cn, memberID string, billed float64, serviceDate time.Time) *claims.Claim {
	c := &claims.Claim{
		ID:            uuid.New(),
		ControlNumber: cn,
		PatientID:     uuid.New(),
		MemberID:      memberID,
		BilledAmount:  billed,
		ServiceDate:   &serviceDate,
		Status:        claims.StatusSubmitted,
		VersionID:     1,
	}
	m.mu.Lock()
	m.claims[c.ID] = c
	if cn != "" {
		m.byCN[cn] = c
	}
	m.mu.Unlock()
	return c
}

func (m *mockClaimsRepo) Create(ctx context.Context, c *claims.Claim) error {
	m.seed(c.ControlNumber, c.MemberID, c.BilledAmount, time.Now())
	return nil
}

func (m *mockClaimsRepo) GetByID(ctx context.Context, id uuid.UUID) (*claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, claims.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimsRepo) GetByControlNumber(ctx context.Context, cn string) (*claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byCN[cn]
	if !ok {
		return nil, claims.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimsRepo) FindCandidates(ctx context.Context, memberID string, serviceDate time.Time, billed float64, windowDays int) ([]*claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*claims.Claim
	window := time.Duration(windowDays) * 24 * time.Hour
	for _, c := range m.claims {
		if c.MemberID != memberID || c.ServiceDate == nil {
			continue
		}
		if c.BilledAmount < billed-0.005 || c.BilledAmount > billed+0.005 {
			continue
		}
		diff := c.ServiceDate.Sub(serviceDate)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockClaimsRepo) ApplyPayment(ctx context.Context, c *claims.Claim, entry *claims.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failApplyOnce[c.ID]; ok {
		delete(m.failApplyOnce, c.ID)
		return err
	}
	stored, ok := m.claims[c.ID]
	if !ok {
		return claims.ErrNotFound
	}
	if stored.VersionID != c.VersionID {
		return claims.ErrVersionConflict
	}
	cp := *c
	cp.VersionID++
	m.claims[c.ID] = &cp
	if cp.ControlNumber != "" {
		m.byCN[cp.ControlNumber] = &cp
	}
	entry.ClaimID = c.ID
	m.ledgers[c.ID] = append(m.ledgers[c.ID], entry)
	c.VersionID++
	return nil
}

func (m *mockClaimsRepo) ListLedgerByClaim(ctx context.Context, claimID uuid.UUID) ([]*claims.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[claimID], nil
}

func (m *mockClaimsRepo) List(ctx context.Context, status string, limit, offset int) ([]*claims.Claim, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*claims.Claim
	for _, c := range m.claims {
		if status == "" || c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

// mockResultsRepo is an in-memory PostingResultRepository.
type mockResultsRepo struct {
	mu      sync.Mutex
	results []*PostingResult
}

func (m *mockResultsRepo) Insert(ctx context.Context, pr *PostingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	if pr.PostedAt.IsZero() {
		pr.PostedAt = time.Now().UTC()
	}
	m.results = append(m.results, pr)
	return nil
}

func (m *mockResultsRepo) GetByID(ctx context.Context, id uuid.UUID) (*PostingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pr := range m.results {
		if pr.ID == id {
			return pr, nil
		}
	}
	return nil, ErrResultNotFound
}

func (m *mockResultsRepo) GetByERAFile(ctx context.Context, fileID uuid.UUID) ([]*PostingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PostingResult
	for _, pr := range m.results {
		if pr.ERAFileID == fileID {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (m *mockResultsRepo) FindByControlNumbers(ctx context.Context, icn, tcn string) ([]*PostingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PostingResult
	for _, pr := range m.results {
		if pr.InterchangeControlNumber == icn && pr.TransactionControlNumber == tcn {
			out = append(out, pr)
		}
	}
	return out, nil
}
