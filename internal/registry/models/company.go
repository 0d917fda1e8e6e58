// Package models defines the persisted domain entities: the
// authoritative Company record and its officer/shareholder rosters.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntityType represents the legal form of a company.
type EntityType string

const (
	PrivateLimited EntityType = "PRIVATE_LIMITED"
	PublicLimited  EntityType = "PUBLIC_LIMITED"
	LimitedPartner EntityType = "LIMITED_PARTNERSHIP"
	SoleProprietor EntityType = "SOLE_PROPRIETORSHIP"
)

// CompanyStatus represents the registration status on the registry.
type CompanyStatus string

const (
	StatusLive      CompanyStatus = "LIVE"
	StatusStruckOff CompanyStatus = "STRUCK_OFF"
	StatusWindingUp CompanyStatus = "WINDING_UP"
	StatusDissolved CompanyStatus = "DISSOLVED"
)

// Company is the authoritative company record. It is trusted until
// explicitly updated; the apply path is the only writer that bumps
// Version, so a stale Version reliably signals a concurrent edit.
type Company struct {
	// ID is the unique identifier for the company.
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`
	// Name is the registered company name.
	Name string `gorm:"size:255"`
	// RegistrationNo is the statutory registration number (UEN/CRN).
	RegistrationNo string `gorm:"size:32;uniqueIndex"`
	// EntityType is the legal form.
	EntityType EntityType `gorm:"size:32"`
	// Status is the registry status.
	Status CompanyStatus `gorm:"size:32"`
	// IncorporationDate is the date of incorporation, if known.
	IncorporationDate *time.Time
	// PaidUpCapital and IssuedCapital are monetary amounts at 2dp.
	PaidUpCapital decimal.Decimal `gorm:"type:numeric(18,2)"`
	IssuedCapital decimal.Decimal `gorm:"type:numeric(18,2)"`
	// FYEDay and FYEMonth define the financial-year-end.
	FYEDay   int `gorm:"column:fye_day"`
	FYEMonth int `gorm:"column:fye_month"`
	// TaxRegistrationNo is the tax authority registration, if any.
	TaxRegistrationNo string `gorm:"size:32"`
	// Version increases on every successful apply that mutates state.
	Version int64
	// LastModifiedAt is bumped together with Version.
	LastModifiedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Officers     []Officer     `gorm:"foreignKey:CompanyID"`
	Shareholders []Shareholder `gorm:"foreignKey:CompanyID"`
}

// Officer is a roster row for a company officer. Rows are never hard
// deleted: a ceased officer keeps its row with IsCurrent=false so the
// appointment history is retained.
type Officer struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CompanyID uuid.UUID `gorm:"type:uuid;index"`
	// ContactID links the row to a confirmed contact record, when the
	// identity behind the name has been established.
	ContactID   *uuid.UUID `gorm:"type:uuid"`
	Name        string     `gorm:"size:255"`
	Role        string     `gorm:"size:64"`
	Nationality string     `gorm:"size:64"`
	Address     string     `gorm:"size:512"`
	AppointedOn *time.Time
	CeasedOn    *time.Time
	IsCurrent   bool `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shareholder is a roster row for a shareholder of one share class.
// Same lifecycle as Officer: ceased rows are kept, flagged not current.
type Shareholder struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CompanyID   uuid.UUID  `gorm:"type:uuid;index"`
	ContactID   *uuid.UUID `gorm:"type:uuid"`
	Name        string     `gorm:"size:255"`
	ShareClass  string     `gorm:"size:64"`
	Nationality string     `gorm:"size:64"`
	Address     string     `gorm:"size:512"`
	Shares      int64
	// PercentageHeld is the holding percentage at 2dp.
	PercentageHeld decimal.Decimal `gorm:"type:numeric(5,2)"`
	CeasedOn       *time.Time
	IsCurrent      bool `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
