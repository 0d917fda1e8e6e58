// Package controller implements the review service: the two-phase
// preview/apply protocol that reconciles extracted registry data
// against the authoritative company record.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/regsync/internal/registry/db"
	e "github.com/ledgerline/regsync/internal/registry/errors"
	"github.com/ledgerline/regsync/internal/registry/events"
	"github.com/ledgerline/regsync/internal/registry/extract"
	"github.com/ledgerline/regsync/internal/registry/metrics"
	"github.com/ledgerline/regsync/internal/registry/models"
	"github.com/ledgerline/regsync/internal/registry/recon"
)

// DefaultPreviewTTL bounds how long a computed preview stays
// applicable. Previews are held in memory only; nothing is persisted.
const DefaultPreviewTTL = 30 * time.Minute

// RosterAction is the caller's disposition for one unmatched existing
// roster row.
type RosterAction string

const (
	// ActionKeep leaves the row current and untouched.
	ActionKeep RosterAction = "KEEP"
	// ActionCease marks the row not-current with a cessation date.
	ActionCease RosterAction = "CEASE"
	// ActionIgnore excludes the row from this apply entirely.
	ActionIgnore RosterAction = "IGNORE"
)

func validAction(a RosterAction) bool {
	return a == ActionKeep || a == ActionCease || a == ActionIgnore
}

// PreviewResult is the full diff/reconciliation computed against one
// version of the record. It is request-scoped and never persisted.
type PreviewResult struct {
	CompanyID    uuid.UUID                       `json:"company_id"`
	AsOfVersion  int64                           `json:"as_of_version"`
	ScalarDiff   []recon.FieldDiff               `json:"scalar_diff"`
	Officers     recon.OfficerReconciliation     `json:"officers"`
	Shareholders recon.ShareholderReconciliation `json:"shareholders"`
	Usage        extract.TokenUsage              `json:"usage"`
}

// ApplyRequest selects the subset of a preview to commit.
type ApplyRequest struct {
	CompanyID   uuid.UUID
	AsOfVersion int64
	// Actor is the authenticated caller identity, used for audit
	// attribution.
	Actor string
	// ApprovedFields limits which scalar diffs are applied. Empty
	// means all diffed fields.
	ApprovedFields []string
	// OfficerActions and ShareholderActions must cover every
	// unmatched existing row id from the preview.
	OfficerActions     map[uuid.UUID]RosterAction
	ShareholderActions map[uuid.UUID]RosterAction
	// CessationDate is applied to ceased rows; defaults to today.
	CessationDate *time.Time
}

// ApplyResult tallies every mutation the transaction committed.
type ApplyResult struct {
	FieldsUpdated       int                    `json:"fields_updated"`
	OfficersAdded       int                    `json:"officers_added"`
	OfficersUpdated     int                    `json:"officers_updated"`
	OfficersCeased      int                    `json:"officers_ceased"`
	ShareholdersAdded   int                    `json:"shareholders_added"`
	ShareholdersUpdated int                    `json:"shareholders_updated"`
	ShareholdersCeased  int                    `json:"shareholders_ceased"`
	NewVersion          int64                  `json:"new_version"`
	Warning             *recon.ConflictWarning `json:"warning,omitempty"`
}

func (r *ApplyResult) mutations() int {
	return r.FieldsUpdated +
		r.OfficersAdded + r.OfficersUpdated + r.OfficersCeased +
		r.ShareholdersAdded + r.ShareholdersUpdated + r.ShareholdersCeased
}

// Repository defines the storage interface the review service needs.
type Repository interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	CurrentOfficers(ctx context.Context, companyID uuid.UUID) ([]models.Officer, error)
	CurrentShareholders(ctx context.Context, companyID uuid.UUID) ([]models.Shareholder, error)
	WithTransaction(ctx context.Context, fn func(repo *db.Repository) error) error
	Close() error
}

// AuditProducer records human-readable change summaries.
type AuditProducer interface {
	Produce(action events.ReviewAction, companyID uuid.UUID, actor, summary string)
}

// previewSession holds one computed preview and the normalized
// extraction it was built from.
type previewSession struct {
	result    *PreviewResult
	extracted *extract.ExtractedCompany
	createdAt time.Time
}

// ReviewService orchestrates preview and apply. Previews are cached in
// memory per company; apply consumes the company's latest preview.
type ReviewService struct {
	repo     Repository
	oracle   extract.Oracle
	producer AuditProducer
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu         sync.Mutex
	previews   map[uuid.UUID]*previewSession
	previewTTL time.Duration
	now        func() time.Time
}

// NewReviewService constructs a ReviewService.
func NewReviewService(repo Repository, oracle extract.Oracle, producer AuditProducer, m *metrics.Metrics, logger *zap.Logger) *ReviewService {
	return &ReviewService{
		repo:       repo,
		oracle:     oracle,
		producer:   producer,
		metrics:    m,
		logger:     logger.Named("review_service"),
		previews:   make(map[uuid.UUID]*previewSession),
		previewTTL: DefaultPreviewTTL,
		now:        time.Now,
	}
}

// GetCompany retrieves a Company by ID, returning an error if not found.
func (s *ReviewService) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	company, err := s.repo.GetCompany(ctx, id)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return company, nil
}

// Preview extracts the document, normalizes it and computes the scalar
// diff plus both roster reconciliations against the current record.
// Read-only: abandoning a preview has no side effects.
func (s *ReviewService) Preview(ctx context.Context, companyID uuid.UUID, doc extract.Document, actor string) (*PreviewResult, error) {
	company, err := s.repo.GetCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load company: %w", err)
	}

	raw, err := s.oracle.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	extracted, err := extract.Normalize(raw)
	if err != nil {
		return nil, err
	}

	// The document must describe the target company. A mismatched
	// registration number means the wrong extract was uploaded.
	if extracted.RegistrationNo != nil && *extracted.RegistrationNo != "" &&
		normCode(company.RegistrationNo) != *extracted.RegistrationNo {
		return nil, fmt.Errorf("%w: extracted registration number %q does not match company %q",
			e.ErrInvalidInput, *extracted.RegistrationNo, company.RegistrationNo)
	}

	officers, err := s.repo.CurrentOfficers(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load officers: %w", err)
	}
	shareholders, err := s.repo.CurrentShareholders(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shareholders: %w", err)
	}

	result := &PreviewResult{
		CompanyID:    companyID,
		AsOfVersion:  company.Version,
		ScalarDiff:   recon.CompareCompany(company, extracted),
		Officers:     recon.ReconcileOfficers(officers, extracted.Officers, nil),
		Shareholders: recon.ReconcileShareholders(shareholders, extracted.Shareholders, nil),
		Usage:        extracted.Usage,
	}

	s.mu.Lock()
	s.previews[companyID] = &previewSession{
		result:    result,
		extracted: extracted,
		createdAt: s.now(),
	}
	s.mu.Unlock()

	s.metrics.PreviewsTotal.Inc()
	s.logger.Info("Preview computed",
		zap.String("company_id", companyID.String()),
		zap.String("actor", actor),
		zap.Int64("as_of_version", company.Version),
		zap.Int("scalar_diffs", len(result.ScalarDiff)),
		zap.Int("officer_unmatched", len(result.Officers.UnmatchedExisting)),
		zap.Int("shareholder_unmatched", len(result.Shareholders.UnmatchedExisting)),
	)
	return result, nil
}

// session returns the live preview for a company or ErrPreviewExpired.
func (s *ReviewService) session(companyID uuid.UUID) (*previewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.previews[companyID]
	if !ok {
		return nil, e.ErrPreviewExpired
	}
	if s.now().Sub(sess.createdAt) > s.previewTTL {
		delete(s.previews, companyID)
		return nil, e.ErrPreviewExpired
	}
	return sess, nil
}

// Apply commits the approved subset of the company's latest preview in
// one transaction. The reconciliation is recomputed against the locked
// rosters inside the transaction, which makes an identical re-apply a
// no-op: already-applied changes produce no diffs the second time.
func (s *ReviewService) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error) {
	sess, err := s.session(req.CompanyID)
	if err != nil {
		return nil, err
	}
	if req.AsOfVersion != sess.result.AsOfVersion {
		return nil, fmt.Errorf("%w: as-of version %d does not match preview version %d",
			e.ErrInvalidInput, req.AsOfVersion, sess.result.AsOfVersion)
	}
	approved, err := approvedFieldSet(req.ApprovedFields)
	if err != nil {
		return nil, err
	}
	if err := validateActionCoverage(sess.result, req); err != nil {
		return nil, err
	}

	cessation := s.now().UTC().Truncate(24 * time.Hour)
	if req.CessationDate != nil {
		cessation = *req.CessationDate
	}

	result := &ApplyResult{}
	txErr := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		company, err := tx.GetCompanyForUpdate(ctx, req.CompanyID)
		if err != nil {
			return err
		}
		result.Warning = recon.CheckVersion(req.AsOfVersion, company.Version, company.LastModifiedAt)

		companyUpdates := map[string]any{}
		for _, d := range recon.CompareCompany(company, sess.extracted) {
			if len(approved) > 0 && !approved[d.Field] {
				continue
			}
			col, val := scalarUpdate(d.Field, sess.extracted)
			companyUpdates[col] = val
		}
		result.FieldsUpdated = len(companyUpdates)

		if err := s.applyOfficers(ctx, tx, company.ID, sess, req, cessation, result); err != nil {
			return err
		}
		if err := s.applyShareholders(ctx, tx, company.ID, sess, req, cessation, result); err != nil {
			return err
		}

		if result.mutations() > 0 {
			companyUpdates["version"] = company.Version + 1
			companyUpdates["last_modified_at"] = s.now().UTC()
			result.NewVersion = company.Version + 1
		} else {
			result.NewVersion = company.Version
		}
		if len(companyUpdates) > 0 {
			if err := tx.UpdateCompanyFields(ctx, company.ID, companyUpdates); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.metrics.AppliesTotal.WithLabelValues("error").Inc()
		if errors.Is(txErr, e.ErrNotFound) || errors.Is(txErr, e.ErrInvalidInput) {
			return nil, txErr
		}
		return nil, fmt.Errorf("%w: %v", e.ErrStorage, txErr)
	}

	if result.Warning != nil {
		s.metrics.ConflictWarningsTotal.Inc()
	}
	s.metrics.AppliesTotal.WithLabelValues("ok").Inc()

	summary := renderSummary(result)
	s.producer.Produce(events.ExtractApplied, req.CompanyID, req.Actor, summary)
	s.logger.Info("Apply committed",
		zap.String("company_id", req.CompanyID.String()),
		zap.String("actor", req.Actor),
		zap.Int64("new_version", result.NewVersion),
		zap.String("summary", summary),
	)
	return result, nil
}

// applyOfficers re-reconciles the officer roster against the locked
// rows and applies sub-diffs, insertions and explicit cessations.
func (s *ReviewService) applyOfficers(ctx context.Context, tx *db.Repository, companyID uuid.UUID, sess *previewSession, req *ApplyRequest, cessation time.Time, result *ApplyResult) error {
	officers, err := tx.CurrentOfficers(ctx, companyID)
	if err != nil {
		return err
	}
	rec := recon.ReconcileOfficers(officers, sess.extracted.Officers, nil)

	for _, pair := range rec.Matched {
		updates := officerRowUpdates(pair)
		if len(updates) == 0 {
			continue
		}
		if err := tx.UpdateOfficerFields(ctx, pair.Existing.ID, updates); err != nil {
			return err
		}
		result.OfficersUpdated++
	}
	for _, cand := range rec.NewCandidates {
		officer := models.Officer{
			ID:          uuid.New(),
			CompanyID:   companyID,
			Name:        cand.Name,
			Role:        cand.Role,
			AppointedOn: cand.AppointedOn,
			IsCurrent:   true,
		}
		if cand.Nationality != nil {
			officer.Nationality = *cand.Nationality
		}
		if cand.Address != nil {
			officer.Address = *cand.Address
		}
		if err := tx.CreateOfficer(ctx, &officer); err != nil {
			return err
		}
		result.OfficersAdded++
	}
	for _, row := range rec.UnmatchedExisting {
		// Only an explicit CEASE touches the row. A row without a
		// disposition here appeared after the preview; it stays
		// current.
		if req.OfficerActions[row.ID] != ActionCease {
			continue
		}
		updates := map[string]any{"is_current": false, "ceased_on": cessation}
		if err := tx.UpdateOfficerFields(ctx, row.ID, updates); err != nil {
			return err
		}
		result.OfficersCeased++
	}
	return nil
}

func (s *ReviewService) applyShareholders(ctx context.Context, tx *db.Repository, companyID uuid.UUID, sess *previewSession, req *ApplyRequest, cessation time.Time, result *ApplyResult) error {
	shareholders, err := tx.CurrentShareholders(ctx, companyID)
	if err != nil {
		return err
	}
	rec := recon.ReconcileShareholders(shareholders, sess.extracted.Shareholders, nil)

	for _, pair := range rec.Matched {
		updates := shareholderRowUpdates(pair)
		if len(updates) == 0 {
			continue
		}
		if err := tx.UpdateShareholderFields(ctx, pair.Existing.ID, updates); err != nil {
			return err
		}
		result.ShareholdersUpdated++
	}
	for _, cand := range rec.NewCandidates {
		shareholder := models.Shareholder{
			ID:         uuid.New(),
			CompanyID:  companyID,
			Name:       cand.Name,
			ShareClass: cand.ShareClass,
			IsCurrent:  true,
		}
		if cand.Nationality != nil {
			shareholder.Nationality = *cand.Nationality
		}
		if cand.Address != nil {
			shareholder.Address = *cand.Address
		}
		if cand.Shares != nil {
			shareholder.Shares = *cand.Shares
		}
		if cand.PercentageHeld != nil {
			shareholder.PercentageHeld = cand.PercentageHeld.Round(2)
		}
		if err := tx.CreateShareholder(ctx, &shareholder); err != nil {
			return err
		}
		result.ShareholdersAdded++
	}
	for _, row := range rec.UnmatchedExisting {
		if req.ShareholderActions[row.ID] != ActionCease {
			continue
		}
		updates := map[string]any{"is_current": false, "ceased_on": cessation}
		if err := tx.UpdateShareholderFields(ctx, row.ID, updates); err != nil {
			return err
		}
		result.ShareholdersCeased++
	}
	return nil
}

// validateActionCoverage rejects an apply that leaves any previewed
// unmatched row without an explicit disposition. Ambiguity must be
// resolved by the caller, never defaulted.
func validateActionCoverage(preview *PreviewResult, req *ApplyRequest) error {
	for _, row := range preview.Officers.UnmatchedExisting {
		action, ok := req.OfficerActions[row.ID]
		if !ok {
			return fmt.Errorf("%w: no action for unmatched officer %s (%s)", e.ErrInvalidInput, row.ID, row.Name)
		}
		if !validAction(action) {
			return fmt.Errorf("%w: invalid action %q for officer %s", e.ErrInvalidInput, action, row.ID)
		}
	}
	for _, row := range preview.Shareholders.UnmatchedExisting {
		action, ok := req.ShareholderActions[row.ID]
		if !ok {
			return fmt.Errorf("%w: no action for unmatched shareholder %s (%s)", e.ErrInvalidInput, row.ID, row.Name)
		}
		if !validAction(action) {
			return fmt.Errorf("%w: invalid action %q for shareholder %s", e.ErrInvalidInput, action, row.ID)
		}
	}
	return nil
}

// approvedFieldSet validates and indexes the approved field names.
func approvedFieldSet(fields []string) (map[string]bool, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	known := make(map[string]bool, len(recon.ScalarFields))
	for _, f := range recon.ScalarFields {
		known[f] = true
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !known[f] {
			return nil, fmt.Errorf("%w: unknown field %q", e.ErrInvalidInput, f)
		}
		set[f] = true
	}
	return set, nil
}

// scalarUpdate maps a diffed field to its column and typed value from
// the normalized extraction.
func scalarUpdate(field string, ext *extract.ExtractedCompany) (string, any) {
	switch field {
	case recon.FieldName:
		return "name", *ext.Name
	case recon.FieldRegistrationNo:
		return "registration_no", *ext.RegistrationNo
	case recon.FieldEntityType:
		return "entity_type", *ext.EntityType
	case recon.FieldStatus:
		return "status", *ext.Status
	case recon.FieldIncorporationDate:
		return "incorporation_date", *ext.IncorporationDate
	case recon.FieldPaidUpCapital:
		return "paid_up_capital", ext.PaidUpCapital.Round(2)
	case recon.FieldIssuedCapital:
		return "issued_capital", ext.IssuedCapital.Round(2)
	case recon.FieldFYEDay:
		return "fye_day", *ext.FYEDay
	case recon.FieldFYEMonth:
		return "fye_month", *ext.FYEMonth
	case recon.FieldTaxRegistrationNo:
		return "tax_registration_no", *ext.TaxRegistrationNo
	default:
		return field, nil
	}
}

// officerRowUpdates turns a matched pair's sub-diff into column
// updates from the extracted row.
func officerRowUpdates(pair recon.OfficerPair) map[string]any {
	updates := map[string]any{}
	for _, d := range pair.Changes {
		switch d.Field {
		case recon.RosterFieldNationality:
			updates["nationality"] = *pair.Extracted.Nationality
		case recon.RosterFieldAddress:
			updates["address"] = *pair.Extracted.Address
		case recon.RosterFieldAppointedOn:
			updates["appointed_on"] = *pair.Extracted.AppointedOn
		}
	}
	return updates
}

func shareholderRowUpdates(pair recon.ShareholderPair) map[string]any {
	updates := map[string]any{}
	for _, d := range pair.Changes {
		switch d.Field {
		case recon.RosterFieldNationality:
			updates["nationality"] = *pair.Extracted.Nationality
		case recon.RosterFieldAddress:
			updates["address"] = *pair.Extracted.Address
		case recon.RosterFieldShares:
			updates["shares"] = *pair.Extracted.Shares
		case recon.RosterFieldPercentage:
			updates["percentage_held"] = pair.Extracted.PercentageHeld.Round(2)
		}
	}
	return updates
}

// renderSummary builds the human-readable audit line for one apply.
func renderSummary(r *ApplyResult) string {
	parts := []string{}
	if r.FieldsUpdated > 0 {
		parts = append(parts, fmt.Sprintf("%d field(s) updated", r.FieldsUpdated))
	}
	if r.OfficersAdded+r.OfficersUpdated+r.OfficersCeased > 0 {
		parts = append(parts, fmt.Sprintf("officers: %d added, %d updated, %d ceased",
			r.OfficersAdded, r.OfficersUpdated, r.OfficersCeased))
	}
	if r.ShareholdersAdded+r.ShareholdersUpdated+r.ShareholdersCeased > 0 {
		parts = append(parts, fmt.Sprintf("shareholders: %d added, %d updated, %d ceased",
			r.ShareholdersAdded, r.ShareholdersUpdated, r.ShareholdersCeased))
	}
	if len(parts) == 0 {
		parts = append(parts, "no changes")
	}
	if r.Warning != nil {
		parts = append(parts, "concurrent modification detected")
	}
	return strings.Join(parts, "; ") + fmt.Sprintf(" (version %d)", r.NewVersion)
}

func normCode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
