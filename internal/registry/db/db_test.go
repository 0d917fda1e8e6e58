package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	e "github.com/ledgerline/regsync/internal/registry/errors"
	"github.com/ledgerline/regsync/internal/registry/models"
)

// SetupTestDB initializes an in-memory SQLite database for testing.
func SetupTestDB(t *testing.T) *Repository {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to open test database")

	repo, err := NewRepositoryWithDB(gdb)
	require.NoError(t, err, "failed to migrate test database")

	return repo
}

func TestCreateAndGetCompany(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	company := &models.Company{
		ID:             uuid.New(),
		Name:           "Test Company",
		RegistrationNo: "201912345K",
		PaidUpCapital:  decimal.RequireFromString("100000"),
		Version:        1,
	}

	require.NoError(t, repo.CreateCompany(ctx, company))

	retrieved, err := repo.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, company.Name, retrieved.Name)
	assert.Equal(t, int64(1), retrieved.Version)
	assert.True(t, retrieved.PaidUpCapital.Equal(decimal.RequireFromString("100000")))
}

func TestGetCompanyNotFound(t *testing.T) {
	repo := SetupTestDB(t)

	_, err := repo.GetCompany(context.Background(), uuid.New())
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestUpdateCompanyFields(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	company := &models.Company{ID: uuid.New(), Name: "Before", Version: 1}
	require.NoError(t, repo.CreateCompany(ctx, company))

	err := repo.UpdateCompanyFields(ctx, company.ID, map[string]any{
		"name":    "After",
		"version": int64(2),
	})
	require.NoError(t, err)

	updated, err := repo.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Name)
	assert.Equal(t, int64(2), updated.Version)
}

func TestUpdateCompanyFieldsNotFound(t *testing.T) {
	repo := SetupTestDB(t)

	err := repo.UpdateCompanyFields(context.Background(), uuid.New(), map[string]any{"name": "X"})
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestCurrentOfficersFiltersAndOrders(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	companyID := uuid.New()
	require.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: companyID, Name: "C"}))

	first := &models.Officer{ID: uuid.New(), CompanyID: companyID, Name: "John Tan", Role: "DIRECTOR", IsCurrent: true}
	ceased := &models.Officer{ID: uuid.New(), CompanyID: companyID, Name: "Mary Lim", Role: "DIRECTOR", IsCurrent: false}
	second := &models.Officer{ID: uuid.New(), CompanyID: companyID, Name: "Lee Hsien", Role: "SECRETARY", IsCurrent: true}

	require.NoError(t, repo.CreateOfficer(ctx, first))
	require.NoError(t, repo.CreateOfficer(ctx, ceased))
	require.NoError(t, repo.CreateOfficer(ctx, second))

	officers, err := repo.CurrentOfficers(ctx, companyID)
	require.NoError(t, err)
	require.Len(t, officers, 2)
	assert.Equal(t, "John Tan", officers[0].Name)
	assert.Equal(t, "Lee Hsien", officers[1].Name)
}

func TestUpdateOfficerFieldsCease(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	companyID := uuid.New()
	officer := &models.Officer{ID: uuid.New(), CompanyID: companyID, Name: "John Tan", Role: "DIRECTOR", IsCurrent: true}
	require.NoError(t, repo.CreateOfficer(ctx, officer))

	ceasedOn := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	err := repo.UpdateOfficerFields(ctx, officer.ID, map[string]any{
		"is_current": false,
		"ceased_on":  ceasedOn,
	})
	require.NoError(t, err)

	updated, err := repo.GetOfficer(ctx, officer.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsCurrent)
	require.NotNil(t, updated.CeasedOn)
	assert.Equal(t, ceasedOn.Year(), updated.CeasedOn.Year())

	officers, err := repo.CurrentOfficers(ctx, companyID)
	require.NoError(t, err)
	assert.Empty(t, officers)
}

func TestCurrentShareholders(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	companyID := uuid.New()
	shareholder := &models.Shareholder{
		ID: uuid.New(), CompanyID: companyID, Name: "Mei Lin Wong",
		ShareClass: "ORDINARY", Shares: 10000,
		PercentageHeld: decimal.RequireFromString("25.50"),
		IsCurrent:      true,
	}
	require.NoError(t, repo.CreateShareholder(ctx, shareholder))

	shareholders, err := repo.CurrentShareholders(ctx, companyID)
	require.NoError(t, err)
	require.Len(t, shareholders, 1)
	assert.True(t, shareholders[0].PercentageHeld.Equal(decimal.RequireFromString("25.5")))
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	companyID := uuid.New()
	require.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: companyID, Name: "Before"}))

	sentinel := assert.AnError
	err := repo.WithTransaction(ctx, func(tx *Repository) error {
		if err := tx.UpdateCompanyFields(ctx, companyID, map[string]any{"name": "After"}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	company, err := repo.GetCompany(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, "Before", company.Name, "rolled-back write must not be visible")
}

func TestGetCompanyForUpdate(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	companyID := uuid.New()
	require.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: companyID, Name: "C", Version: 3}))

	err := repo.WithTransaction(ctx, func(tx *Repository) error {
		company, err := tx.GetCompanyForUpdate(ctx, companyID)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(3), company.Version)
		return nil
	})
	require.NoError(t, err)
}
