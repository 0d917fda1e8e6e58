package recon

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/regsync/internal/registry/extract"
	"github.com/ledgerline/regsync/internal/registry/models"
)

// Scalar field names, in the fixed order diffs are emitted. The order
// is part of the contract: identical inputs must yield byte-identical
// diff lists.
const (
	FieldName              = "name"
	FieldRegistrationNo    = "registration_no"
	FieldEntityType        = "entity_type"
	FieldStatus            = "status"
	FieldIncorporationDate = "incorporation_date"
	FieldPaidUpCapital     = "paid_up_capital"
	FieldIssuedCapital     = "issued_capital"
	FieldFYEDay            = "fye_day"
	FieldFYEMonth          = "fye_month"
	FieldTaxRegistrationNo = "tax_registration_no"
)

// ScalarFields is the emission order for company-level diffs.
var ScalarFields = []string{
	FieldName,
	FieldRegistrationNo,
	FieldEntityType,
	FieldStatus,
	FieldIncorporationDate,
	FieldPaidUpCapital,
	FieldIssuedCapital,
	FieldFYEDay,
	FieldFYEMonth,
	FieldTaxRegistrationNo,
}

// moneyPrecision is the rounding applied before comparing monetary and
// percentage values: 100000.00 and 100000 are the same amount.
const moneyPrecision = 2

// FieldDiff is one proposed change: the stored value and the extracted
// replacement, both rendered for display and audit.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// CompareCompany diffs the extracted scalars against the authoritative
// record. Absent extracted fields are skipped: the extraction not
// observing a field is never evidence of change. Output order follows
// ScalarFields.
func CompareCompany(current *models.Company, ext *extract.ExtractedCompany) []FieldDiff {
	var diffs []FieldDiff
	add := func(field, oldVal, newVal string) {
		diffs = append(diffs, FieldDiff{Field: field, Old: oldVal, New: newVal})
	}

	for _, field := range ScalarFields {
		switch field {
		case FieldName:
			if d, ok := diffString(current.Name, ext.Name); ok {
				add(field, d.Old, d.New)
			}
		case FieldRegistrationNo:
			if d, ok := diffCode(current.RegistrationNo, ext.RegistrationNo); ok {
				add(field, d.Old, d.New)
			}
		case FieldEntityType:
			if d, ok := diffCode(string(current.EntityType), ext.EntityType); ok {
				add(field, d.Old, d.New)
			}
		case FieldStatus:
			if d, ok := diffCode(string(current.Status), ext.Status); ok {
				add(field, d.Old, d.New)
			}
		case FieldIncorporationDate:
			if d, ok := diffDate(current.IncorporationDate, ext.IncorporationDate); ok {
				add(field, d.Old, d.New)
			}
		case FieldPaidUpCapital:
			if d, ok := diffMoney(current.PaidUpCapital, ext.PaidUpCapital); ok {
				add(field, d.Old, d.New)
			}
		case FieldIssuedCapital:
			if d, ok := diffMoney(current.IssuedCapital, ext.IssuedCapital); ok {
				add(field, d.Old, d.New)
			}
		case FieldFYEDay:
			if d, ok := diffInt(current.FYEDay, ext.FYEDay); ok {
				add(field, d.Old, d.New)
			}
		case FieldFYEMonth:
			if d, ok := diffInt(current.FYEMonth, ext.FYEMonth); ok {
				add(field, d.Old, d.New)
			}
		case FieldTaxRegistrationNo:
			if d, ok := diffCode(current.TaxRegistrationNo, ext.TaxRegistrationNo); ok {
				add(field, d.Old, d.New)
			}
		}
	}
	return diffs
}

// diffString compares case-sensitively after whitespace normalization.
func diffString(current string, ext *string) (FieldDiff, bool) {
	if ext == nil {
		return FieldDiff{}, false
	}
	oldNorm := strings.Join(strings.Fields(current), " ")
	newNorm := strings.Join(strings.Fields(*ext), " ")
	if oldNorm == newNorm {
		return FieldDiff{}, false
	}
	return FieldDiff{Old: current, New: *ext}, true
}

// diffCode compares case-insensitively; codes are stored and proposed
// upper-cased.
func diffCode(current string, ext *string) (FieldDiff, bool) {
	if ext == nil {
		return FieldDiff{}, false
	}
	oldNorm := codeKey(current)
	newNorm := codeKey(*ext)
	if oldNorm == newNorm {
		return FieldDiff{}, false
	}
	return FieldDiff{Old: current, New: newNorm}, true
}

// diffDate compares by calendar date only.
func diffDate(current *time.Time, ext *time.Time) (FieldDiff, bool) {
	if ext == nil {
		return FieldDiff{}, false
	}
	if current != nil && sameDate(*current, *ext) {
		return FieldDiff{}, false
	}
	oldVal := ""
	if current != nil {
		oldVal = current.Format("2006-01-02")
	}
	return FieldDiff{Old: oldVal, New: ext.Format("2006-01-02")}, true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// diffMoney compares after rounding to the field precision.
func diffMoney(current decimal.Decimal, ext *decimal.Decimal) (FieldDiff, bool) {
	if ext == nil {
		return FieldDiff{}, false
	}
	oldR := current.Round(moneyPrecision)
	newR := ext.Round(moneyPrecision)
	if oldR.Equal(newR) {
		return FieldDiff{}, false
	}
	return FieldDiff{Old: oldR.StringFixed(moneyPrecision), New: newR.StringFixed(moneyPrecision)}, true
}

func diffInt(current int, ext *int) (FieldDiff, bool) {
	if ext == nil {
		return FieldDiff{}, false
	}
	if current == *ext {
		return FieldDiff{}, false
	}
	return FieldDiff{Old: strconv.Itoa(current), New: strconv.Itoa(*ext)}, true
}
