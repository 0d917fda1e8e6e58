package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ledgerline/regsync/internal/registry/db"
	e "github.com/ledgerline/regsync/internal/registry/errors"
	"github.com/ledgerline/regsync/internal/registry/events"
	"github.com/ledgerline/regsync/internal/registry/extract"
	"github.com/ledgerline/regsync/internal/registry/metrics"
	"github.com/ledgerline/regsync/internal/registry/models"
)

// stubOracle returns a canned extraction.
type stubOracle struct {
	extraction *extract.Extraction
	err        error
}

func (o *stubOracle) Extract(_ context.Context, _ extract.Document) (*extract.Extraction, error) {
	return o.extraction, o.err
}

// mockProducer records emitted audit events.
type mockProducer struct {
	mu     sync.Mutex
	events []events.ReviewEvent
}

func (m *mockProducer) Produce(action events.ReviewAction, companyID uuid.UUID, actor, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events.ReviewEvent{
		Action: action, CompanyID: companyID, Actor: actor, Summary: summary,
	})
}

func setupService(t *testing.T) (*ReviewService, *db.Repository, *stubOracle, *mockProducer) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	repo, err := db.NewRepositoryWithDB(gdb)
	require.NoError(t, err)

	oracle := &stubOracle{}
	producer := &mockProducer{}
	svc := NewReviewService(repo, oracle, producer, metrics.New(prometheus.NewRegistry()), zaptest.NewLogger(t))
	return svc, repo, oracle, producer
}

func seedCompany(t *testing.T, repo *db.Repository) *models.Company {
	company := &models.Company{
		ID:             uuid.New(),
		Name:           "Acme Holdings Pte. Ltd.",
		RegistrationNo: "201912345K",
		EntityType:     models.PrivateLimited,
		Status:         models.StatusLive,
		PaidUpCapital:  decimal.RequireFromString("100000"),
		Version:        1,
		LastModifiedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.CreateCompany(context.Background(), company))
	return company
}

func seedOfficer(t *testing.T, repo *db.Repository, companyID uuid.UUID, name, role, address string) *models.Officer {
	appointed := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	officer := &models.Officer{
		ID: uuid.New(), CompanyID: companyID,
		Name: name, Role: role, Address: address,
		AppointedOn: &appointed, IsCurrent: true,
	}
	require.NoError(t, repo.CreateOfficer(context.Background(), officer))
	return officer
}

func extractionWith(data map[string]any) *extract.Extraction {
	return &extract.Extraction{Data: data, Usage: extract.TokenUsage{PromptTokens: 100, CompletionTokens: 20}}
}

func TestPreviewIdentifierMismatch(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	company := seedCompany(t, repo)

	oracle.extraction = extractionWith(map[string]any{
		"registration_no": "209999999X",
	})

	_, err := svc.Preview(context.Background(), company.ID, extract.Document{}, "reviewer")
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestPreviewCompanyNotFound(t *testing.T) {
	svc, _, oracle, _ := setupService(t)
	oracle.extraction = extractionWith(map[string]any{})

	_, err := svc.Preview(context.Background(), uuid.New(), extract.Document{}, "reviewer")
	assert.ErrorIs(t, err, e.ErrNotFound)
}

// Scenario: stored officer "JOHN TAN", extracted "John Tan" with a new
// address. The pair matches, the sub-diff is the address only, and the
// apply updates the address while preserving currency and appointment.
func TestPreviewAndApplyMatchedAddressUpdate(t *testing.T) {
	svc, repo, oracle, producer := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	officer := seedOfficer(t, repo, company.ID, "JOHN TAN", "DIRECTOR", "1 Old Road")

	oracle.extraction = extractionWith(map[string]any{
		"registration_no": "201912345k",
		"officers": []any{
			map[string]any{"name": "John Tan", "role": "Director", "address": "88 New Street"},
		},
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{Content: []byte("img")}, "reviewer")
	require.NoError(t, err)
	assert.Empty(t, preview.ScalarDiff)
	require.Len(t, preview.Officers.Matched, 1)
	require.Len(t, preview.Officers.Matched[0].Changes, 1)
	assert.Equal(t, "address", preview.Officers.Matched[0].Changes[0].Field)
	assert.Empty(t, preview.Officers.UnmatchedExisting)

	result, err := svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
		Actor:       "reviewer",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.OfficersUpdated)
	assert.Equal(t, 0, result.OfficersAdded)
	assert.Equal(t, 0, result.OfficersCeased)
	assert.Equal(t, int64(2), result.NewVersion)
	assert.Nil(t, result.Warning)

	updated, err := repo.GetOfficer(ctx, officer.ID)
	require.NoError(t, err)
	assert.Equal(t, "88 New Street", updated.Address)
	assert.True(t, updated.IsCurrent)
	require.NotNil(t, updated.AppointedOn)
	assert.Equal(t, 2020, updated.AppointedOn.Year())
	// Identity fields untouched.
	assert.Equal(t, "JOHN TAN", updated.Name)

	producer.mu.Lock()
	defer producer.mu.Unlock()
	require.Len(t, producer.events, 1)
	assert.Equal(t, events.ExtractApplied, producer.events[0].Action)
	assert.Equal(t, "reviewer", producer.events[0].Actor)
	assert.Contains(t, producer.events[0].Summary, "1 updated")
}

// Scenario: two current officers, the extract lists only one. The
// missing officer needs an explicit disposition; CEASE marks it not
// current and leaves the other untouched.
func TestApplyRequiresDispositionForUnmatched(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	stays := seedOfficer(t, repo, company.ID, "John Tan", "DIRECTOR", "1 Road")
	leaves := seedOfficer(t, repo, company.ID, "Mary Lim", "DIRECTOR", "2 Road")

	oracle.extraction = extractionWith(map[string]any{
		"officers": []any{
			map[string]any{"name": "John Tan", "role": "DIRECTOR"},
		},
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)
	require.Len(t, preview.Officers.UnmatchedExisting, 1)
	assert.Equal(t, leaves.ID, preview.Officers.UnmatchedExisting[0].ID)

	// No disposition: validation error, nothing written.
	_, err = svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
	})
	assert.ErrorIs(t, err, e.ErrInvalidInput)

	still, err := repo.GetOfficer(ctx, leaves.ID)
	require.NoError(t, err)
	assert.True(t, still.IsCurrent)

	// Explicit CEASE: the row is closed out with a cessation date.
	result, err := svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
		OfficerActions: map[uuid.UUID]RosterAction{
			leaves.ID: ActionCease,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.OfficersCeased)

	ceased, err := repo.GetOfficer(ctx, leaves.ID)
	require.NoError(t, err)
	assert.False(t, ceased.IsCurrent)
	require.NotNil(t, ceased.CeasedOn)

	untouched, err := repo.GetOfficer(ctx, stays.ID)
	require.NoError(t, err)
	assert.True(t, untouched.IsCurrent)
	assert.Nil(t, untouched.CeasedOn)
}

func TestApplyKeepLeavesRowCurrent(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	officer := seedOfficer(t, repo, company.ID, "Mary Lim", "DIRECTOR", "2 Road")

	oracle.extraction = extractionWith(map[string]any{"officers": []any{}})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)
	require.Len(t, preview.Officers.UnmatchedExisting, 1)

	result, err := svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
		OfficerActions: map[uuid.UUID]RosterAction{
			officer.ID: ActionKeep,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.mutations())
	assert.Equal(t, preview.AsOfVersion, result.NewVersion, "no mutation, no version bump")

	still, err := repo.GetOfficer(ctx, officer.ID)
	require.NoError(t, err)
	assert.True(t, still.IsCurrent)
}

func TestApplyScalarFieldSelection(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)

	oracle.extraction = extractionWith(map[string]any{
		"name":   "Acme Holdings Private Limited",
		"status": "winding up",
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)
	require.Len(t, preview.ScalarDiff, 2)

	result, err := svc.Apply(ctx, &ApplyRequest{
		CompanyID:      company.ID,
		AsOfVersion:    preview.AsOfVersion,
		ApprovedFields: []string{"status"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FieldsUpdated)

	updated, err := repo.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompanyStatus("WINDING UP"), updated.Status)
	assert.Equal(t, "Acme Holdings Pte. Ltd.", updated.Name, "unapproved field left alone")
}

func TestApplyRejectsUnknownApprovedField(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	oracle.extraction = extractionWith(map[string]any{"name": "X"})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)

	_, err = svc.Apply(ctx, &ApplyRequest{
		CompanyID:      company.ID,
		AsOfVersion:    preview.AsOfVersion,
		ApprovedFields: []string{"no_such_field"},
	})
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

// Scenario: the record was edited between preview and apply. The apply
// still commits but carries a conflict warning.
func TestApplyConcurrentEditWarning(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)

	oracle.extraction = extractionWith(map[string]any{
		"status": "struck_off",
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)

	// Out-of-band edit during the review window.
	require.NoError(t, repo.UpdateCompanyFields(ctx, company.ID, map[string]any{
		"version":          int64(4),
		"last_modified_at": time.Now(),
	}))

	result, err := svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Warning)
	assert.Equal(t, preview.AsOfVersion, result.Warning.AsOfVersion)
	assert.Equal(t, int64(4), result.Warning.CurrentVersion)
	assert.Equal(t, 1, result.FieldsUpdated, "warning does not block the apply")
	assert.Equal(t, int64(5), result.NewVersion)
}

// Re-running an identical apply after a successful commit is a no-op.
func TestApplyIdempotence(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	gone := seedOfficer(t, repo, company.ID, "Mary Lim", "DIRECTOR", "2 Road")

	oracle.extraction = extractionWith(map[string]any{
		"paid_up_capital": "250000",
		"officers": []any{
			map[string]any{"name": "New Director", "role": "DIRECTOR"},
		},
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)

	req := &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
		OfficerActions: map[uuid.UUID]RosterAction{
			gone.ID: ActionCease,
		},
	}

	first, err := svc.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FieldsUpdated)
	assert.Equal(t, 1, first.OfficersAdded)
	assert.Equal(t, 1, first.OfficersCeased)
	assert.Equal(t, int64(2), first.NewVersion)

	second, err := svc.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.mutations(), "identical re-apply must be a no-op")
	assert.Equal(t, int64(2), second.NewVersion)
	require.NotNil(t, second.Warning, "version moved past the as-of token on the first apply")

	officers, err := repo.CurrentOfficers(ctx, company.ID)
	require.NoError(t, err)
	assert.Len(t, officers, 1, "the new director must not be inserted twice")
}

// After an apply, recomputing the preview against the new state yields
// an empty diff for everything that was applied.
func TestApplyConvergence(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	gone := seedOfficer(t, repo, company.ID, "Mary Lim", "DIRECTOR", "2 Road")
	seedOfficer(t, repo, company.ID, "JOHN TAN", "DIRECTOR", "1 Old Road")

	oracle.extraction = extractionWith(map[string]any{
		"paid_up_capital": "250000",
		"officers": []any{
			map[string]any{"name": "John Tan", "role": "DIRECTOR", "address": "88 New Street"},
			map[string]any{"name": "New Director", "role": "DIRECTOR"},
		},
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)

	_, err = svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
		OfficerActions: map[uuid.UUID]RosterAction{
			gone.ID: ActionCease,
		},
	})
	require.NoError(t, err)

	again, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)
	assert.Empty(t, again.ScalarDiff)
	assert.Empty(t, again.Officers.UnmatchedExisting, "ceased officer no longer surfaces")
	assert.Empty(t, again.Officers.NewCandidates, "inserted candidate now matches")
	for _, pair := range again.Officers.Matched {
		assert.Empty(t, pair.Changes)
	}
}

func TestApplyWithoutPreview(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	company := seedCompany(t, repo)

	_, err := svc.Apply(context.Background(), &ApplyRequest{CompanyID: company.ID, AsOfVersion: 1})
	assert.ErrorIs(t, err, e.ErrPreviewExpired)
}

func TestApplyExpiredPreview(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	oracle.extraction = extractionWith(map[string]any{})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)

	svc.previewTTL = -time.Second

	_, err = svc.Apply(ctx, &ApplyRequest{CompanyID: company.ID, AsOfVersion: preview.AsOfVersion})
	assert.ErrorIs(t, err, e.ErrPreviewExpired)
}

func TestApplyAsOfVersionMismatch(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)
	oracle.extraction = extractionWith(map[string]any{})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)

	_, err = svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion + 7,
	})
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestApplyShareholderChanges(t *testing.T) {
	svc, repo, oracle, _ := setupService(t)
	ctx := context.Background()
	company := seedCompany(t, repo)

	holder := &models.Shareholder{
		ID: uuid.New(), CompanyID: company.ID,
		Name: "Mei Lin Wong", ShareClass: "ORDINARY",
		Shares: 5000, PercentageHeld: decimal.RequireFromString("50"),
		IsCurrent: true,
	}
	require.NoError(t, repo.CreateShareholder(ctx, holder))

	oracle.extraction = extractionWith(map[string]any{
		"shareholders": []any{
			map[string]any{
				"name": "MEI LIN WONG", "share_class": "Ordinary",
				"shares": "10,000", "percentage_held": "100",
			},
		},
	})

	preview, err := svc.Preview(ctx, company.ID, extract.Document{}, "reviewer")
	require.NoError(t, err)
	require.Len(t, preview.Shareholders.Matched, 1)
	require.Len(t, preview.Shareholders.Matched[0].Changes, 2)

	result, err := svc.Apply(ctx, &ApplyRequest{
		CompanyID:   company.ID,
		AsOfVersion: preview.AsOfVersion,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ShareholdersUpdated)

	updated, err := repo.GetShareholder(ctx, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), updated.Shares)
	assert.True(t, updated.PercentageHeld.Equal(decimal.RequireFromString("100")))
	assert.True(t, updated.IsCurrent)
}
