package recon

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/ledgerline/regsync/internal/registry/extract"
	"github.com/ledgerline/regsync/internal/registry/models"
)

// Sub-diff field names for matched roster pairs. Role/class and the
// matched name are identity fields and never appear here.
const (
	RosterFieldNationality = "nationality"
	RosterFieldAddress     = "address"
	RosterFieldAppointedOn = "appointed_on"
	RosterFieldShares      = "shares"
	RosterFieldPercentage  = "percentage_held"
)

// Aliases maps a normalized extracted name key to the contact the name
// was previously confirmed to reference. It lets "W.M. Tan" claim the
// row linked to Tan Wei Ming's contact even though the name keys
// differ.
type Aliases map[string]uuid.UUID

// OfficerPair is an existing officer matched to an extracted row, with
// the field-level sub-diff over its mutable attributes.
type OfficerPair struct {
	Existing  models.Officer
	Extracted extract.ExtractedOfficer
	Changes   []FieldDiff
}

// OfficerReconciliation is the three-way partition for the officer
// roster. Matched ∪ UnmatchedExisting covers every existing current
// row exactly once; Matched ∪ NewCandidates covers every extracted row
// exactly once.
type OfficerReconciliation struct {
	Matched           []OfficerPair
	NewCandidates     []extract.ExtractedOfficer
	UnmatchedExisting []models.Officer
}

// ShareholderPair mirrors OfficerPair for the shareholder roster.
type ShareholderPair struct {
	Existing  models.Shareholder
	Extracted extract.ExtractedShareholder
	Changes   []FieldDiff
}

// ShareholderReconciliation is the three-way partition for the
// shareholder roster.
type ShareholderReconciliation struct {
	Matched           []ShareholderPair
	NewCandidates     []extract.ExtractedShareholder
	UnmatchedExisting []models.Shareholder
}

// rosterIdentity is the matching identity of one existing row: the
// normalized role/class, the normalized name key and the optional
// linked contact.
type rosterIdentity struct {
	kind      string
	name      string
	contactID *uuid.UUID
}

// pairRows computes the stable one-to-one match between existing and
// extracted identities. Extracted rows claim existing rows in input
// order, so when two extracted rows both match one existing row the
// earliest-listed wins and the later one falls through to
// NewCandidates. Returns extracted index → existing index.
func pairRows(existing []rosterIdentity, extracted []rosterIdentity, aliases Aliases) map[int]int {
	pairs := make(map[int]int, len(extracted))
	claimed := make([]bool, len(existing))

	claim := func(i int, ok func(rosterIdentity) bool) bool {
		for j, ex := range existing {
			if claimed[j] || ex.kind != extracted[i].kind {
				continue
			}
			if ok(ex) {
				pairs[i] = j
				claimed[j] = true
				return true
			}
		}
		return false
	}

	for i := range extracted {
		// A previously confirmed contact reference outranks name
		// equality: the extract may spell the name differently.
		if cid, ok := aliases[extracted[i].name]; ok {
			if claim(i, func(ex rosterIdentity) bool {
				return ex.contactID != nil && *ex.contactID == cid
			}) {
				continue
			}
		}
		claim(i, func(ex rosterIdentity) bool {
			return ex.name == extracted[i].name
		})
	}
	return pairs
}

// ReconcileOfficers partitions the officer rosters. existing must hold
// only current rows; extracted rows come from one normalized
// extraction. Pure and deterministic: identical inputs give identical
// partitions in identical order.
func ReconcileOfficers(existing []models.Officer, extracted []extract.ExtractedOfficer, aliases Aliases) OfficerReconciliation {
	exIDs := make([]rosterIdentity, len(existing))
	for j, o := range existing {
		exIDs[j] = rosterIdentity{kind: codeKey(o.Role), name: NameKey(o.Name), contactID: o.ContactID}
	}
	newIDs := make([]rosterIdentity, len(extracted))
	for i, o := range extracted {
		newIDs[i] = rosterIdentity{kind: codeKey(o.Role), name: NameKey(o.Name)}
	}

	pairs := pairRows(exIDs, newIDs, aliases)

	var out OfficerReconciliation
	matchedExisting := make([]bool, len(existing))
	for i, row := range extracted {
		j, ok := pairs[i]
		if !ok {
			out.NewCandidates = append(out.NewCandidates, row)
			continue
		}
		matchedExisting[j] = true
		out.Matched = append(out.Matched, OfficerPair{
			Existing:  existing[j],
			Extracted: row,
			Changes:   OfficerChanges(existing[j], row),
		})
	}
	for j, row := range existing {
		if !matchedExisting[j] {
			out.UnmatchedExisting = append(out.UnmatchedExisting, row)
		}
	}
	return out
}

// OfficerChanges computes the sub-diff over mutable officer fields
// with the same absent-skipping, type-aware comparison as the scalar
// diff engine.
func OfficerChanges(existing models.Officer, row extract.ExtractedOfficer) []FieldDiff {
	var changes []FieldDiff
	if d, ok := diffString(existing.Nationality, row.Nationality); ok {
		d.Field = RosterFieldNationality
		changes = append(changes, d)
	}
	if d, ok := diffString(existing.Address, row.Address); ok {
		d.Field = RosterFieldAddress
		changes = append(changes, d)
	}
	if d, ok := diffDate(existing.AppointedOn, row.AppointedOn); ok {
		d.Field = RosterFieldAppointedOn
		changes = append(changes, d)
	}
	return changes
}

// ReconcileShareholders partitions the shareholder rosters, matching
// on share class + normalized name.
func ReconcileShareholders(existing []models.Shareholder, extracted []extract.ExtractedShareholder, aliases Aliases) ShareholderReconciliation {
	exIDs := make([]rosterIdentity, len(existing))
	for j, s := range existing {
		exIDs[j] = rosterIdentity{kind: codeKey(s.ShareClass), name: NameKey(s.Name), contactID: s.ContactID}
	}
	newIDs := make([]rosterIdentity, len(extracted))
	for i, s := range extracted {
		newIDs[i] = rosterIdentity{kind: codeKey(s.ShareClass), name: NameKey(s.Name)}
	}

	pairs := pairRows(exIDs, newIDs, aliases)

	var out ShareholderReconciliation
	matchedExisting := make([]bool, len(existing))
	for i, row := range extracted {
		j, ok := pairs[i]
		if !ok {
			out.NewCandidates = append(out.NewCandidates, row)
			continue
		}
		matchedExisting[j] = true
		out.Matched = append(out.Matched, ShareholderPair{
			Existing:  existing[j],
			Extracted: row,
			Changes:   ShareholderChanges(existing[j], row),
		})
	}
	for j, row := range existing {
		if !matchedExisting[j] {
			out.UnmatchedExisting = append(out.UnmatchedExisting, row)
		}
	}
	return out
}

func ShareholderChanges(existing models.Shareholder, row extract.ExtractedShareholder) []FieldDiff {
	var changes []FieldDiff
	if d, ok := diffString(existing.Nationality, row.Nationality); ok {
		d.Field = RosterFieldNationality
		changes = append(changes, d)
	}
	if d, ok := diffString(existing.Address, row.Address); ok {
		d.Field = RosterFieldAddress
		changes = append(changes, d)
	}
	if row.Shares != nil && existing.Shares != *row.Shares {
		changes = append(changes, FieldDiff{
			Field: RosterFieldShares,
			Old:   strconv.FormatInt(existing.Shares, 10),
			New:   strconv.FormatInt(*row.Shares, 10),
		})
	}
	if d, ok := diffMoney(existing.PercentageHeld, row.PercentageHeld); ok {
		d.Field = RosterFieldPercentage
		changes = append(changes, d)
	}
	return changes
}
