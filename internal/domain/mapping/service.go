package mapping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/domain/terminology"
	"github.com/termmap/termmap/internal/platform/apperror"
	"github.com/termmap/termmap/internal/platform/auth"
	"github.com/termmap/termmap/internal/platform/fhir"
)

// candidatePoolSize caps how many pre-filtered targets the suggestion engine
// scores per source code. The pool is filled by a term-overlap query ordered
// by title, so on a vocabulary where more than this many entries share a term
// with the source display, a better-scoring candidate past the cutoff is never
// scored. Raise the cap before tuning scores if suggestion recall matters more
// than per-request latency.
const candidatePoolSize = 100

// DefaultSuggestLimit is used when a caller does not bound a suggestion query.
const DefaultSuggestLimit = 5

// Service implements mapping creation, suggestion, validation, and the FHIR
// translation surface.
type Service struct {
	repo    Repository
	sources SourceLookup
	targets TargetLookup
	audit   AuditRecorder
	tx      TxRunner
	logger  zerolog.Logger
}

func NewService(repo Repository, sources SourceLookup, targets TargetLookup, audit AuditRecorder, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		sources: sources,
		targets: targets,
		audit:   audit,
		tx:      tx,
		logger:  logger.With().Str("component", "mapping").Logger(),
	}
}

// inTx runs fn inside a transaction when a runner is configured.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

func (s *Service) record(ctx context.Context, action, resourceID string, before, after interface{}) {
	if s.audit == nil {
		return
	}
	actor := auth.UserIDFromContext(ctx)
	if actor == "" {
		actor = "system"
	}
	s.audit.Record(ctx, actor, action, "mapping", resourceID, before, after)
}

// -- Creation --

// Create persists a new mapping after the ordered precondition checks: input
// shape, active source, active target (by entity ID or ICD code alias), and
// pair uniqueness. The bool result reports whether a new mapping was created;
// with OnDuplicate=Skip an existing mapping is returned with false.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Mapping, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}
	source, err := s.sources.GetActiveByCode(ctx, in.SourceCode)
	if err != nil {
		return nil, false, err
	}
	target, err := s.targets.GetActiveByAnyCode(ctx, in.TargetCode)
	if err != nil {
		return nil, false, err
	}

	confidence := ComputeConfidence(source.Display, target.Title)
	if in.Confidence != nil {
		confidence = *in.Confidence
	}
	mappingType := in.MappingType
	if mappingType == "" {
		mappingType = ClassifyMappingType(source.Display, target.Title)
	}

	var m *Mapping
	var created bool
	err = s.inTx(ctx, func(ctx context.Context) error {
		if existing, err := s.repo.GetActiveByPair(ctx, source.Code, target.EntityID); err == nil {
			if in.OnDuplicate == DuplicateSkip {
				m = existing
				return nil
			}
			return apperror.Conflict("active mapping %s -> %s already exists", source.Code, target.EntityID)
		} else if !errors.As(err, new(*apperror.NotFoundError)) {
			return err
		}

		m = &Mapping{
			SourceCode:     source.Code,
			TargetEntityID: target.EntityID,
			MappingType:    mappingType,
			Confidence:     confidence,
			Notes:          in.Notes,
		}
		created = true
		return s.repo.Create(ctx, m)
	})
	if err != nil {
		var conflict *apperror.ConflictError
		// A concurrent create can win the race between the pair check and the
		// insert; the transaction has rolled back, so re-read outside it and
		// honor the duplicate policy for that case too.
		if errors.As(err, &conflict) && in.OnDuplicate == DuplicateSkip {
			if existing, lookupErr := s.repo.GetActiveByPair(ctx, source.Code, target.EntityID); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	if created {
		s.record(ctx, "create", m.ID.String(), nil, m)
	}
	return m, created, nil
}

// -- CRUD --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Mapping, int, error) {
	if filter.MappingType != "" && !ValidMappingType(filter.MappingType) {
		return nil, 0, apperror.Invalid("mapping_type", "unsupported value %q", filter.MappingType)
	}
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Mapping, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, apperror.NotFound("mapping", id.String())
	}
	before := *m
	if in.MappingType != "" {
		m.MappingType = in.MappingType
	}
	if in.Confidence != nil {
		m.Confidence = *in.Confidence
	}
	if in.Notes != nil {
		m.Notes = *in.Notes
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	s.record(ctx, "update", m.ID.String(), &before, m)
	return m, nil
}

// Deactivate soft-deletes a mapping. Mappings are never physically removed.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !m.IsActive {
		return apperror.NotFound("mapping", id.String())
	}
	before := *m
	m.IsActive = false
	if err := s.repo.Update(ctx, m); err != nil {
		return err
	}
	s.record(ctx, "deactivate", m.ID.String(), &before, m)
	return nil
}

// Verify stamps the mapping with the acting curator and the current time.
// Verify stamps the mapping with the authenticated reviewer and re-checks it,
// so the caller sees any confidence drift alongside the verified record.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*Mapping, *ValidationResult, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !m.IsActive {
		return nil, nil, apperror.NotFound("mapping", id.String())
	}
	actor := auth.UserIDFromContext(ctx)
	if actor == "" {
		return nil, nil, apperror.Invalid("actor", "verification requires an authenticated user")
	}
	before := *m
	now := time.Now()
	m.VerifiedBy = &actor
	m.VerifiedAt = &now
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, nil, err
	}
	s.record(ctx, "verify", m.ID.String(), &before, m)
	result, err := s.check(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	return m, result, nil
}

// -- Suggestion engine --

// Suggest ranks candidate ICD-11 targets for a NAMASTE code. Candidates are
// pre-filtered to active entries whose title or synonyms contain any display
// token longer than two characters, then scored and sorted by score
// descending with display-name ascending as the tie-break.
func (s *Service) Suggest(ctx context.Context, sourceCode string, limit int) ([]MappingSuggestion, error) {
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	source, err := s.sources.GetActiveByCode(ctx, sourceCode)
	if err != nil {
		return nil, err
	}
	terms := suggestTerms(source.Display)
	if len(terms) == 0 {
		return []MappingSuggestion{}, nil
	}
	candidates, err := s.targets.SearchByTerms(ctx, terms, "", candidatePoolSize)
	if err != nil {
		return nil, err
	}

	suggestions := make([]MappingSuggestion, 0, len(candidates))
	for _, cand := range candidates {
		suggestions = append(suggestions, MappingSuggestion{
			TargetEntityID: cand.EntityID,
			TargetCode:     cand.ICDCode,
			TargetDisplay:  cand.Title,
			Confidence:     Score(source.Display, cand.Title),
			MappingType:    ClassifyMappingType(source.Display, cand.Title),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].TargetDisplay < suggestions[j].TargetDisplay
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// AutoMap exhaustively compares every active NAMASTE code against every
// active traditional-medicine ICD-11 entity and creates an equivalent mapping
// for each source whose best candidate scores at or above the threshold.
// The full scan is deliberate: both vocabularies are expected to stay in the
// hundreds-to-low-thousands range, and pruning the comparison could change
// match outcomes.
func (s *Service) AutoMap(ctx context.Context, threshold float64) (*AutoMapStats, error) {
	if threshold < 0 || threshold > 1 {
		return nil, apperror.Invalid("threshold", "must be between 0 and 1")
	}
	sourceEntries, err := s.sources.ListActive(ctx, "")
	if err != nil {
		return nil, err
	}
	targetEntries, err := s.targets.ListActive(ctx, terminology.ModuleTM2)
	if err != nil {
		return nil, err
	}

	stats := &AutoMapStats{}
	for _, source := range sourceEntries {
		stats.Processed++

		var best *terminology.ICD11Code
		var bestScore float64
		for _, target := range targetEntries {
			score := Score(source.Display, target.Title)
			if best == nil || score > bestScore ||
				(score == bestScore && target.Title < best.Title) {
				best, bestScore = target, score
			}
		}
		if best == nil || bestScore < threshold {
			stats.Skipped++
			continue
		}

		confidence := bestScore
		_, created, err := s.Create(ctx, CreateInput{
			SourceCode:  source.Code,
			TargetCode:  best.EntityID,
			MappingType: TypeEquivalent,
			Confidence:  &confidence,
			Notes:       fmt.Sprintf("Auto-generated mapping (score: %.2f)", bestScore),
			OnDuplicate: DuplicateSkip,
		})
		if err != nil {
			stats.Errors++
			stats.Details = append(stats.Details, fmt.Sprintf("%s: %v", source.Code, err))
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Skipped++
		}
	}
	s.logger.Info().
		Int("processed", stats.Processed).
		Int("created", stats.Created).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Float64("threshold", threshold).
		Msg("automatic mapping run finished")
	return stats, nil
}

// -- Validator --

// ValidateAll re-checks every active mapping: missing or inactive reference
// codes make a mapping invalid, and confidence drift beyond the threshold is
// reported for review. Reporting only; nothing is deactivated.
func (s *Service) ValidateAll(ctx context.Context) (*ValidationReport, error) {
	mappings, err := s.repo.ListAllActive(ctx)
	if err != nil {
		return nil, err
	}
	report := &ValidationReport{Issues: []ValidationIssue{}}
	for _, m := range mappings {
		result, err := s.check(ctx, m)
		if err != nil {
			return nil, err
		}
		if result.IsValid {
			report.Valid++
		} else {
			report.Invalid++
		}
		report.Issues = append(report.Issues, result.Issues...)
	}
	return report, nil
}

// Validate is the single-mapping form of ValidateAll.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) (*ValidationResult, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, m)
}

func (s *Service) check(ctx context.Context, m *Mapping) (*ValidationResult, error) {
	result := &ValidationResult{IsValid: true, Confidence: m.Confidence, Issues: []ValidationIssue{}}
	issue := func(severity, message string) {
		result.Issues = append(result.Issues, ValidationIssue{
			MappingID:      m.ID,
			SourceCode:     m.SourceCode,
			TargetEntityID: m.TargetEntityID,
			Severity:       severity,
			Message:        message,
		})
	}

	source, err := s.sources.GetActiveByCode(ctx, m.SourceCode)
	if err != nil {
		if errors.As(err, new(*apperror.NotFoundError)) {
			result.IsValid = false
			issue("error", "source code is missing or inactive")
		} else {
			return nil, err
		}
	}
	target, err := s.targets.GetActiveByEntityID(ctx, m.TargetEntityID)
	if err != nil {
		if errors.As(err, new(*apperror.NotFoundError)) {
			result.IsValid = false
			issue("error", "target entity is missing or inactive")
		} else {
			return nil, err
		}
	}
	if source != nil && target != nil {
		recomputed := ComputeConfidence(source.Display, target.Title)
		result.Confidence = recomputed
		if math.Abs(m.Confidence-recomputed) > DriftThreshold {
			issue("warning", fmt.Sprintf(
				"stored confidence %.2f drifted from recomputed %.2f, needs review",
				m.Confidence, recomputed))
		}
	}
	return result, nil
}

// -- FHIR projection --

// Translate implements $translate in both directions. A code with no active
// mappings yields an empty match list with result=false; only an unresolvable
// code is an error.
func (s *Service) Translate(ctx context.Context, system, code string) (*fhir.Parameters, error) {
	kind, err := fhir.ResolveSystem(system)
	if err != nil {
		return nil, err
	}

	var matches []fhir.Parameter
	switch kind {
	case fhir.KindNAMASTE:
		if _, err := s.sources.GetActiveByCode(ctx, code); err != nil {
			return nil, err
		}
		mappings, err := s.repo.ListActiveBySource(ctx, code)
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			target, err := s.targets.GetActiveByEntityID(ctx, m.TargetEntityID)
			if err != nil {
				if errors.As(err, new(*apperror.NotFoundError)) {
					s.logger.Warn().Str("mapping_id", m.ID.String()).
						Str("target", m.TargetEntityID).Msg("translate skipping mapping with inactive target")
					continue
				}
				return nil, err
			}
			matches = append(matches, matchParam(m, fhir.Coding{
				System:  fhir.SystemICD11,
				Code:    target.EntityID,
				Display: target.Title,
			}))
		}

	case fhir.KindICD11:
		target, err := s.targets.GetActiveByAnyCode(ctx, code)
		if err != nil {
			return nil, err
		}
		mappings, err := s.repo.ListActiveByTarget(ctx, target.EntityID)
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			source, err := s.sources.GetActiveByCode(ctx, m.SourceCode)
			if err != nil {
				if errors.As(err, new(*apperror.NotFoundError)) {
					s.logger.Warn().Str("mapping_id", m.ID.String()).
						Str("source", m.SourceCode).Msg("translate skipping mapping with inactive source")
					continue
				}
				return nil, err
			}
			matches = append(matches, matchParam(m, fhir.Coding{
				System:  fhir.SystemNAMASTE,
				Code:    source.Code,
				Display: source.Display,
			}))
		}
	}

	params := []fhir.Parameter{fhir.BoolParam("result", len(matches) > 0)}
	params = append(params, matches...)
	return fhir.NewParameters(params...), nil
}

func matchParam(m *Mapping, concept fhir.Coding) fhir.Parameter {
	confidence := m.Confidence
	return fhir.Parameter{
		Name: "match",
		Part: []fhir.Parameter{
			fhir.CodeParam("equivalence", string(m.MappingType)),
			fhir.CodingParam("concept", concept),
			{Name: "confidence", ValueDecimal: &confidence},
		},
	}
}

// ConceptMap projects all active mappings as one FHIR ConceptMap, grouped by
// the source code's traditional system.
func (s *Service) ConceptMap(ctx context.Context) (map[string]interface{}, error) {
	mappings, err := s.repo.ListAllActive(ctx)
	if err != nil {
		return nil, err
	}

	type element struct {
		code    string
		display string
		targets []map[string]interface{}
	}
	groups := map[terminology.SystemType]map[string]*element{}

	for _, m := range mappings {
		source, err := s.sources.GetActiveByCode(ctx, m.SourceCode)
		if err != nil {
			if errors.As(err, new(*apperror.NotFoundError)) {
				continue
			}
			return nil, err
		}
		target, err := s.targets.GetActiveByEntityID(ctx, m.TargetEntityID)
		if err != nil {
			if errors.As(err, new(*apperror.NotFoundError)) {
				continue
			}
			return nil, err
		}

		if groups[source.SystemType] == nil {
			groups[source.SystemType] = map[string]*element{}
		}
		el := groups[source.SystemType][source.Code]
		if el == nil {
			el = &element{code: source.Code, display: source.Display}
			groups[source.SystemType][source.Code] = el
		}
		entry := map[string]interface{}{
			"code":        target.EntityID,
			"display":     target.Title,
			"equivalence": string(m.MappingType),
		}
		if m.Notes != "" {
			entry["comment"] = m.Notes
		}
		el.targets = append(el.targets, entry)
	}

	systemTypes := make([]string, 0, len(groups))
	for st := range groups {
		systemTypes = append(systemTypes, string(st))
	}
	sort.Strings(systemTypes)

	groupList := make([]map[string]interface{}, 0, len(groups))
	for _, st := range systemTypes {
		elements := groups[terminology.SystemType(st)]
		codes := make([]string, 0, len(elements))
		for code := range elements {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		elementList := make([]map[string]interface{}, 0, len(elements))
		for _, code := range codes {
			el := elements[code]
			elementList = append(elementList, map[string]interface{}{
				"code":    el.code,
				"display": el.display,
				"target":  el.targets,
			})
		}
		groupList = append(groupList, map[string]interface{}{
			"source":  fhir.SystemNAMASTE + "/" + st,
			"target":  fhir.SystemICD11,
			"element": elementList,
		})
	}

	return map[string]interface{}{
		"resourceType": "ConceptMap",
		"id":           "namaste-icd11",
		"url":          fhir.SystemNAMASTE + "/ConceptMap/namaste-icd11",
		"name":         "NAMASTE-ICD11",
		"status":       "active",
		"sourceUri":    fhir.SystemNAMASTE,
		"targetUri":    fhir.SystemICD11,
		"group":        groupList,
	}, nil
}
