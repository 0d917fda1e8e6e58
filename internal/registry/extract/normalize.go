package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	e "github.com/ledgerline/regsync/internal/registry/errors"
)

// ExtractedCompany is the canonical typed shape of one extraction.
// Every field is optional: nil means the oracle did not observe the
// field at all, a pointer to a zero value means it observed a blank.
type ExtractedCompany struct {
	Name              *string
	RegistrationNo    *string
	EntityType        *string
	Status            *string
	IncorporationDate *time.Time
	PaidUpCapital     *decimal.Decimal
	IssuedCapital     *decimal.Decimal
	FYEDay            *int
	FYEMonth          *int
	TaxRegistrationNo *string

	Officers     []ExtractedOfficer
	Shareholders []ExtractedShareholder

	Usage TokenUsage
}

// ExtractedOfficer is one normalized officer row from the document.
type ExtractedOfficer struct {
	Name        string
	Role        string
	Nationality *string
	Address     *string
	AppointedOn *time.Time
}

// ExtractedShareholder is one normalized shareholder row.
type ExtractedShareholder struct {
	Name           string
	ShareClass     string
	Nationality    *string
	Address        *string
	Shares         *int64
	PercentageHeld *decimal.Decimal
}

// Date layouts seen on scanned registry extracts.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2 January 2006",
	"02 Jan 2006",
	"2 Jan 2006",
}

// Normalize turns the raw oracle tree into an ExtractedCompany. It is a
// pure function: no field lookup ever fails the call, only a payload
// that is not an object at all does.
func Normalize(raw *Extraction) (*ExtractedCompany, error) {
	if raw == nil || raw.Data == nil {
		return nil, fmt.Errorf("%w: extraction payload is not an object", e.ErrInvalidInput)
	}
	data := raw.Data

	out := &ExtractedCompany{
		Name:              stringField(data, "name", "company_name"),
		RegistrationNo:    codeField(data, "registration_no", "registration_number", "uen"),
		EntityType:        codeField(data, "entity_type", "company_type"),
		Status:            codeField(data, "status"),
		IncorporationDate: dateField(data, "incorporation_date", "date_of_incorporation"),
		PaidUpCapital:     moneyField(data, "paid_up_capital"),
		IssuedCapital:     moneyField(data, "issued_capital", "issued_share_capital"),
		FYEDay:            intField(data, "fye_day"),
		FYEMonth:          intField(data, "fye_month"),
		TaxRegistrationNo: codeField(data, "tax_registration_no", "gst_registration_no"),
		Usage:             raw.Usage,
	}

	for _, item := range listField(data, "officers") {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(row, "name", "officer_name")
		role := codeField(row, "role", "position", "designation")
		if name == nil || *name == "" || role == nil || *role == "" {
			// A roster row without an identity cannot be reconciled.
			continue
		}
		out.Officers = append(out.Officers, ExtractedOfficer{
			Name:        *name,
			Role:        *role,
			Nationality: stringField(row, "nationality"),
			Address:     stringField(row, "address"),
			AppointedOn: dateField(row, "appointed_on", "appointment_date", "date_of_appointment"),
		})
	}

	for _, item := range listField(data, "shareholders") {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(row, "name", "shareholder_name")
		if name == nil || *name == "" {
			continue
		}
		class := codeField(row, "share_class", "class", "class_of_shares")
		if class == nil || *class == "" {
			ordinary := "ORDINARY"
			class = &ordinary
		}
		out.Shareholders = append(out.Shareholders, ExtractedShareholder{
			Name:           *name,
			ShareClass:     *class,
			Nationality:    stringField(row, "nationality"),
			Address:        stringField(row, "address"),
			Shares:         int64Field(row, "shares", "number_of_shares"),
			PercentageHeld: moneyField(row, "percentage_held", "percentage"),
		})
	}

	return out, nil
}

// collapseSpace trims and folds internal whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lookup(data map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// stringField returns the value with whitespace collapsed, preserving
// the absent/blank distinction.
func stringField(data map[string]any, keys ...string) *string {
	v, ok := lookup(data, keys...)
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprintf("%v", v)
	}
	s = collapseSpace(s)
	return &s
}

// codeField is stringField plus upper-casing, for registration numbers,
// statuses and other code-like values.
func codeField(data map[string]any, keys ...string) *string {
	s := stringField(data, keys...)
	if s == nil {
		return nil
	}
	u := strings.ToUpper(*s)
	return &u
}

func dateField(data map[string]any, keys ...string) *time.Time {
	s := stringField(data, keys...)
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func moneyField(data map[string]any, keys ...string) *decimal.Decimal {
	v, ok := lookup(data, keys...)
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		d := decimal.NewFromFloat(n)
		return &d
	case int:
		d := decimal.NewFromInt(int64(n))
		return &d
	case int64:
		d := decimal.NewFromInt(n)
		return &d
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return &d
		}
		return nil
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", "%", "", " ", "").Replace(n)
		if cleaned == "" {
			return nil
		}
		if d, err := decimal.NewFromString(cleaned); err == nil {
			return &d
		}
		return nil
	default:
		return nil
	}
}

func intField(data map[string]any, keys ...string) *int {
	n := int64Field(data, keys...)
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}

func int64Field(data map[string]any, keys ...string) *int64 {
	d := moneyField(data, keys...)
	if d == nil {
		return nil
	}
	n := d.IntPart()
	return &n
}

func listField(data map[string]any, key string) []any {
	v, ok := data[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}
