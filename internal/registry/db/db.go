// Package db implements the gorm-backed repository for companies and
// their rosters. The apply path runs entirely inside WithTransaction
// with the company row locked, so concurrent applies against the same
// company serialize at the database.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	e "github.com/ledgerline/regsync/internal/registry/errors"
	"github.com/ledgerline/regsync/internal/registry/models"
)

type Repository struct {
	db *gorm.DB
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func NewRepository(cfg *Config) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Company{}, &models.Officer{}, &models.Shareholder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Repository{db: db}, nil
}

// NewRepositoryWithDB wraps an existing gorm handle. Production code
// uses NewRepository; tests pass an in-memory sqlite handle here.
func NewRepositoryWithDB(gdb *gorm.DB) (*Repository, error) {
	if err := gdb.AutoMigrate(&models.Company{}, &models.Officer{}, &models.Shareholder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Repository{db: gdb}, nil
}

func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	result := r.db.WithContext(ctx).First(&company, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &company, nil
}

// GetCompanyForUpdate loads the company with a row lock. Must run
// inside WithTransaction; the lock is held until commit.
func (r *Repository) GetCompanyForUpdate(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	result := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&company, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &company, nil
}

func (r *Repository) CreateCompany(ctx context.Context, company *models.Company) error {
	result := r.db.WithContext(ctx).Create(company)
	return result.Error
}

// UpdateCompanyFields applies the given column updates to the company
// row. Callers pass only approved, already-compared values.
func (r *Repository) UpdateCompanyFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.Company{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// CurrentOfficers returns the current officer roster in stable order.
func (r *Repository) CurrentOfficers(ctx context.Context, companyID uuid.UUID) ([]models.Officer, error) {
	var officers []models.Officer
	result := r.db.WithContext(ctx).
		Where("company_id = ? AND is_current = ?", companyID, true).
		Order("created_at, id").
		Find(&officers)
	return officers, result.Error
}

// CurrentShareholders returns the current shareholder roster in stable
// order.
func (r *Repository) CurrentShareholders(ctx context.Context, companyID uuid.UUID) ([]models.Shareholder, error) {
	var shareholders []models.Shareholder
	result := r.db.WithContext(ctx).
		Where("company_id = ? AND is_current = ?", companyID, true).
		Order("created_at, id").
		Find(&shareholders)
	return shareholders, result.Error
}

func (r *Repository) GetOfficer(ctx context.Context, id uuid.UUID) (*models.Officer, error) {
	var officer models.Officer
	result := r.db.WithContext(ctx).First(&officer, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &officer, nil
}

func (r *Repository) GetShareholder(ctx context.Context, id uuid.UUID) (*models.Shareholder, error) {
	var shareholder models.Shareholder
	result := r.db.WithContext(ctx).First(&shareholder, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &shareholder, nil
}

func (r *Repository) CreateOfficer(ctx context.Context, officer *models.Officer) error {
	return r.db.WithContext(ctx).Create(officer).Error
}

func (r *Repository) CreateShareholder(ctx context.Context, shareholder *models.Shareholder) error {
	return r.db.WithContext(ctx).Create(shareholder).Error
}

// UpdateOfficerFields applies column updates to one officer row.
func (r *Repository) UpdateOfficerFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.Officer{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// UpdateShareholderFields applies column updates to one shareholder row.
func (r *Repository) UpdateShareholderFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.Shareholder{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// WithTransaction runs fn against a transactional repository. Any
// error rolls the whole transaction back; nothing is partially
// written.
func (r *Repository) WithTransaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
