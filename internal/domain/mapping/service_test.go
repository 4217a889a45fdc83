package mapping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/domain/terminology"
	"github.com/termmap/termmap/internal/platform/apperror"
	"github.com/termmap/termmap/internal/platform/auth"
	"github.com/termmap/termmap/internal/platform/fhir"
)

// -- Mock mapping repository --

type mockRepo struct {
	mappings map[uuid.UUID]*Mapping
}

func newMockRepo() *mockRepo {
	return &mockRepo{mappings: make(map[uuid.UUID]*Mapping)}
}

func (m *mockRepo) Create(_ context.Context, mp *Mapping) error {
	for _, existing := range m.mappings {
		if existing.IsActive && existing.SourceCode == mp.SourceCode && existing.TargetEntityID == mp.TargetEntityID {
			return apperror.Conflict("active mapping %s -> %s already exists", mp.SourceCode, mp.TargetEntityID)
		}
	}
	mp.ID = uuid.New()
	mp.IsActive = true
	mp.CreatedAt = time.Now()
	mp.UpdatedAt = time.Now()
	m.mappings[mp.ID] = mp
	return nil
}

func (m *mockRepo) Update(_ context.Context, mp *Mapping) error {
	if _, ok := m.mappings[mp.ID]; !ok {
		return apperror.NotFound("mapping", mp.ID.String())
	}
	m.mappings[mp.ID] = mp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Mapping, error) {
	mp, ok := m.mappings[id]
	if !ok {
		return nil, apperror.NotFound("mapping", id.String())
	}
	return mp, nil
}

func (m *mockRepo) GetActiveByPair(_ context.Context, sourceCode, targetEntityID string) (*Mapping, error) {
	for _, mp := range m.mappings {
		if mp.IsActive && mp.SourceCode == sourceCode && mp.TargetEntityID == targetEntityID {
			return mp, nil
		}
	}
	return nil, apperror.NotFound("mapping", sourceCode+" -> "+targetEntityID)
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Mapping, int, error) {
	var result []*Mapping
	for _, mp := range m.mappings {
		if !mp.IsActive {
			continue
		}
		if filter.SourceCode != "" && mp.SourceCode != filter.SourceCode {
			continue
		}
		if filter.TargetEntityID != "" && mp.TargetEntityID != filter.TargetEntityID {
			continue
		}
		if filter.MappingType != "" && mp.MappingType != filter.MappingType {
			continue
		}
		if filter.VerifiedOnly && !mp.Verified() {
			continue
		}
		result = append(result, mp)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListActiveBySource(_ context.Context, sourceCode string) ([]*Mapping, error) {
	var result []*Mapping
	for _, mp := range m.mappings {
		if mp.IsActive && mp.SourceCode == sourceCode {
			result = append(result, mp)
		}
	}
	return result, nil
}

func (m *mockRepo) ListActiveByTarget(_ context.Context, targetEntityID string) ([]*Mapping, error) {
	var result []*Mapping
	for _, mp := range m.mappings {
		if mp.IsActive && mp.TargetEntityID == targetEntityID {
			result = append(result, mp)
		}
	}
	return result, nil
}

func (m *mockRepo) ListAllActive(_ context.Context) ([]*Mapping, error) {
	var result []*Mapping
	for _, mp := range m.mappings {
		if mp.IsActive {
			result = append(result, mp)
		}
	}
	return result, nil
}

// -- Mock vocabulary lookups --

type mockSources struct {
	codes map[string]*terminology.NamasteCode
}

func newMockSources() *mockSources {
	return &mockSources{codes: make(map[string]*terminology.NamasteCode)}
}

func (m *mockSources) add(code, display string) *terminology.NamasteCode {
	n := &terminology.NamasteCode{
		ID:         uuid.New(),
		Code:       code,
		Display:    display,
		SystemType: terminology.SystemAyurveda,
		Status:     terminology.StatusActive,
	}
	m.codes[code] = n
	return n
}

func (m *mockSources) GetActiveByCode(_ context.Context, code string) (*terminology.NamasteCode, error) {
	n, ok := m.codes[code]
	if !ok || n.Status != terminology.StatusActive {
		return nil, apperror.NotFound("NAMASTE code", code)
	}
	return n, nil
}

func (m *mockSources) ListActive(_ context.Context, systemType terminology.SystemType) ([]*terminology.NamasteCode, error) {
	var result []*terminology.NamasteCode
	for _, n := range m.codes {
		if n.Status != terminology.StatusActive {
			continue
		}
		if systemType != "" && n.SystemType != systemType {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

type mockTargets struct {
	codes map[string]*terminology.ICD11Code
}

func newMockTargets() *mockTargets {
	return &mockTargets{codes: make(map[string]*terminology.ICD11Code)}
}

func (m *mockTargets) add(entityID, icdCode, title string) *terminology.ICD11Code {
	c := &terminology.ICD11Code{
		ID:       uuid.New(),
		EntityID: entityID,
		ICDCode:  icdCode,
		Title:    title,
		Module:   terminology.ModuleTM2,
		Status:   terminology.StatusActive,
	}
	m.codes[entityID] = c
	return c
}

func (m *mockTargets) GetActiveByEntityID(_ context.Context, entityID string) (*terminology.ICD11Code, error) {
	c, ok := m.codes[entityID]
	if !ok || c.Status != terminology.StatusActive {
		return nil, apperror.NotFound("ICD-11 code", entityID)
	}
	return c, nil
}

func (m *mockTargets) GetActiveByAnyCode(_ context.Context, code string) (*terminology.ICD11Code, error) {
	if c, ok := m.codes[code]; ok && c.Status == terminology.StatusActive {
		return c, nil
	}
	for _, c := range m.codes {
		if c.Status == terminology.StatusActive && c.ICDCode == code {
			return c, nil
		}
	}
	return nil, apperror.NotFound("ICD-11 code", code)
}

func (m *mockTargets) ListActive(_ context.Context, module terminology.Module) ([]*terminology.ICD11Code, error) {
	var result []*terminology.ICD11Code
	for _, c := range m.codes {
		if c.Status != terminology.StatusActive {
			continue
		}
		if module != "" && c.Module != module {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (m *mockTargets) SearchByTerms(_ context.Context, terms []string, module terminology.Module, limit int) ([]*terminology.ICD11Code, error) {
	var result []*terminology.ICD11Code
	for _, c := range m.codes {
		if c.Status != terminology.StatusActive {
			continue
		}
		if module != "" && c.Module != module {
			continue
		}
		for _, term := range terms {
			if containsFold(c.Title, term) {
				result = append(result, c)
				break
			}
		}
	}
	return result, nil
}

func containsFold(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) &&
		stringsContainsLower(haystack, needle)
}

func stringsContainsLower(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	lower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + 32
		}
		return r
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if lower(h[i+j]) != lower(n[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// -- Mock audit recorder --

type auditEntry struct {
	actor, action, resourceType, resourceID string
}

type mockAudit struct {
	entries []auditEntry
}

func (m *mockAudit) Record(_ context.Context, actor, action, resourceType, resourceID string, before, after interface{}) {
	m.entries = append(m.entries, auditEntry{actor, action, resourceType, resourceID})
}

// -- Helpers --

// mockTx counts transaction scopes and runs each function directly.
type mockTx struct {
	runs int
}

func (m *mockTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.runs++
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockSources, *mockTargets, *mockAudit) {
	repo := newMockRepo()
	sources := newMockSources()
	targets := newMockTargets()
	audit := &mockAudit{}
	svc := NewService(repo, sources, targets, audit, &mockTx{}, zerolog.Nop())
	return svc, repo, sources, targets, audit
}

func actorCtx(userID string) context.Context {
	ctx := context.WithValue(context.Background(), auth.UserIDKey, userID)
	return context.WithValue(ctx, auth.UserRolesKey, []string{"curator"})
}

// -- Creation tests --

func TestCreateDefaultsConfidenceAndType(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")

	m, created, err := svc.Create(context.Background(), CreateInput{
		SourceCode: "NAM001",
		TargetCode: "1435254666",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	if m.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0 for identical displays, got %v", m.Confidence)
	}
	if m.MappingType != TypeEquivalent {
		t.Errorf("expected equivalent mapping type, got %v", m.MappingType)
	}
}

func TestCreateExplicitConfidenceWins(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")

	confidence := 0.42
	m, _, err := svc.Create(context.Background(), CreateInput{
		SourceCode: "NAM001",
		TargetCode: "1435254666",
		Confidence: &confidence,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Confidence != 0.42 {
		t.Errorf("explicit confidence should win, got %v", m.Confidence)
	}
}

func TestCreateResolvesTargetByICDCodeAlias(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Disorders of vata dosha")

	m, _, err := svc.Create(context.Background(), CreateInput{
		SourceCode: "NAM001",
		TargetCode: "TM26.0",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.TargetEntityID != "1435254666" {
		t.Errorf("mapping should store the resolved entity id, got %s", m.TargetEntityID)
	}
}

func TestCreatePreconditionOrder(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	targets.add("1435254666", "TM26.0", "Disorders of vata dosha")

	// Source missing: the source check fails first.
	_, _, err := svc.Create(context.Background(), CreateInput{
		SourceCode: "MISSING",
		TargetCode: "1435254666",
	})
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) || nf.Resource != "NAMASTE code" {
		t.Fatalf("expected NAMASTE not-found first, got %v", err)
	}

	// Target missing.
	sources.add("NAM001", "Vata Prakopa")
	_, _, err = svc.Create(context.Background(), CreateInput{
		SourceCode: "NAM001",
		TargetCode: "MISSING",
	})
	if !errors.As(err, &nf) || nf.Resource != "ICD-11 code" {
		t.Fatalf("expected ICD-11 not-found, got %v", err)
	}
}

func TestCreateDuplicatePolicy(t *testing.T) {
	svc, repo, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")

	in := CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"}

	first, created, err := svc.Create(context.Background(), in)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	// Reject policy (interactive default) conflicts.
	in.OnDuplicate = DuplicateReject
	_, _, err = svc.Create(context.Background(), in)
	var conflict *apperror.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict with reject policy, got %v", err)
	}

	// Skip policy (batch) returns the existing mapping without creating.
	in.OnDuplicate = DuplicateSkip
	second, created, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("skip create: %v", err)
	}
	if created {
		t.Error("skip policy must not create a second mapping")
	}
	if second.ID != first.ID {
		t.Error("skip policy should return the existing mapping")
	}
	if len(repo.mappings) != 1 {
		t.Errorf("expected exactly 1 persisted mapping, got %d", len(repo.mappings))
	}
}

func TestCreateRecordsAuditEvent(t *testing.T) {
	svc, _, sources, targets, audit := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")

	_, _, err := svc.Create(actorCtx("dr.sharma"), CreateInput{
		SourceCode: "NAM001",
		TargetCode: "1435254666",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.actor != "dr.sharma" || entry.action != "create" || entry.resourceType != "mapping" {
		t.Errorf("unexpected audit entry %+v", entry)
	}
}

func TestCreateRunsInTransaction(t *testing.T) {
	repo := newMockRepo()
	sources := newMockSources()
	targets := newMockTargets()
	tx := &mockTx{}
	svc := NewService(repo, sources, targets, nil, tx, zerolog.Nop())
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")

	if _, _, err := svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.runs != 1 {
		t.Errorf("expected create to run inside one transaction, got %d", tx.runs)
	}

	// A nil runner is allowed; the check-and-insert runs on the caller's context.
	bare := NewService(newMockRepo(), sources, targets, nil, nil, zerolog.Nop())
	if _, _, err := bare.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"}); err != nil {
		t.Fatalf("create without tx runner: %v", err)
	}
}

// -- Verify / deactivate --

func TestVerifyStampsActor(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")
	m, _, _ := svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"})

	verified, result, err := svc.Verify(actorCtx("dr.sharma"), m.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.Verified() || *verified.VerifiedBy != "dr.sharma" {
		t.Errorf("expected verification stamp, got %+v", verified)
	}
	if result == nil || !result.IsValid {
		t.Errorf("expected clean validation result alongside verification, got %+v", result)
	}

	_, _, err = svc.Verify(context.Background(), m.ID)
	var invalid *apperror.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected validation error without actor, got %v", err)
	}
}

func TestDeactivateIsSoftDelete(t *testing.T) {
	svc, repo, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")
	m, _, _ := svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"})

	if err := svc.Deactivate(context.Background(), m.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	stored := repo.mappings[m.ID]
	if stored == nil {
		t.Fatal("mapping must not be physically removed")
	}
	if stored.IsActive {
		t.Error("mapping should be inactive")
	}

	// A second deactivate reports not found.
	err := svc.Deactivate(context.Background(), m.ID)
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found on repeated deactivate, got %v", err)
	}
}

// -- Suggestion engine --

func TestSuggestRankedAndLimited(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1", "", "Vata Prakopa")                  // exact, 1.0
	targets.add("2", "", "Vata")                          // prefix, 0.9
	targets.add("3", "", "Chronic Vata Prakopa Disorder") // substring, 0.7
	targets.add("4", "", "Vata imbalance with complications")
	targets.add("5", "", "Prakopa of unknown origin")
	targets.add("6", "", "Severe vata aggravation")

	suggestions, err := svc.Suggest(context.Background(), "NAM001", 5)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(suggestions) > 5 {
		t.Fatalf("suggest must honor the limit, got %d", len(suggestions))
	}
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i].Confidence > suggestions[i-1].Confidence {
			t.Fatalf("suggestions not sorted by score: %v", suggestions)
		}
	}
	if suggestions[0].TargetEntityID != "1" || suggestions[0].Confidence != 1.0 {
		t.Errorf("expected exact match ranked first, got %+v", suggestions[0])
	}
}

func TestSuggestUnknownSource(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Suggest(context.Background(), "MISSING", 5)
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// -- AutoMap --

func TestAutoMapThreshold(t *testing.T) {
	svc, repo, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	sources.add("NAM002", "Pitta Vriddhi")
	targets.add("1435254666", "TM26.0", "Vata Prakopa") // exact match for NAM001
	targets.add("999", "TM27.0", "Pitta")               // prefix for NAM002, score 0.9

	stats, err := svc.AutoMap(context.Background(), 0.95)
	if err != nil {
		t.Fatalf("automap: %v", err)
	}
	if stats.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", stats.Processed)
	}
	// Only the exact match clears a 0.95 threshold; the 0.9 prefix match for
	// NAM002 must not produce a mapping.
	if stats.Created != 1 {
		t.Errorf("expected 1 created, got %d", stats.Created)
	}
	if stats.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", stats.Skipped)
	}
	if len(repo.mappings) != 1 {
		t.Fatalf("expected 1 persisted mapping, got %d", len(repo.mappings))
	}
	for _, m := range repo.mappings {
		if m.SourceCode != "NAM001" || m.MappingType != TypeEquivalent || m.Confidence != 1.0 {
			t.Errorf("unexpected automap result %+v", m)
		}
		if m.Notes == "" {
			t.Error("automap should record a note with the score")
		}
	}
}

func TestAutoMapIdempotent(t *testing.T) {
	svc, repo, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")

	if _, err := svc.AutoMap(context.Background(), 0.8); err != nil {
		t.Fatalf("first automap: %v", err)
	}
	stats, err := svc.AutoMap(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("second automap: %v", err)
	}
	if stats.Created != 0 || stats.Skipped != 1 {
		t.Errorf("second run should skip the existing mapping, got %+v", stats)
	}
	if len(repo.mappings) != 1 {
		t.Errorf("expected exactly 1 mapping after both runs, got %d", len(repo.mappings))
	}
}

func TestAutoMapRestrictsToTraditionalModule(t *testing.T) {
	svc, repo, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	bio := targets.add("555", "5A11", "Vata Prakopa")
	bio.Module = terminology.ModuleBiomedicine

	stats, err := svc.AutoMap(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("automap: %v", err)
	}
	if stats.Created != 0 || len(repo.mappings) != 0 {
		t.Errorf("biomedicine entities must not be automap candidates, got %+v", stats)
	}
}

func TestAutoMapRejectsBadThreshold(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.AutoMap(context.Background(), 1.5)
	var invalid *apperror.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// -- Validator --

func TestValidateAllFlagsInactiveTarget(t *testing.T) {
	svc, repo, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	target := targets.add("1435254666", "TM26.0", "Vata Prakopa")
	m, _, _ := svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"})

	target.Status = terminology.StatusInactive

	report, err := svc.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("validate all: %v", err)
	}
	if report.Invalid != 1 || report.Valid != 0 {
		t.Errorf("expected 1 invalid mapping, got %+v", report)
	}
	if len(report.Issues) != 1 || report.Issues[0].Severity != "error" {
		t.Errorf("expected one error issue, got %+v", report.Issues)
	}
	// Validation is advisory: the mapping stays active.
	if !repo.mappings[m.ID].IsActive {
		t.Error("validator must not deactivate mappings")
	}
}

func TestValidateAllFlagsConfidenceDrift(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")
	confidence := 0.5 // stored far below the recomputed 1.0
	svc.Create(context.Background(), CreateInput{
		SourceCode: "NAM001",
		TargetCode: "1435254666",
		Confidence: &confidence,
	})

	report, err := svc.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("validate all: %v", err)
	}
	if report.Valid != 1 || report.Invalid != 0 {
		t.Errorf("drift alone must not invalidate, got %+v", report)
	}
	if len(report.Issues) != 1 || report.Issues[0].Severity != "warning" {
		t.Errorf("expected one drift warning, got %+v", report.Issues)
	}
}

func TestValidateSingleMapping(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Vata Prakopa")
	m, _, _ := svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"})

	result, err := svc.Validate(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.IsValid || len(result.Issues) != 0 {
		t.Errorf("expected clean result, got %+v", result)
	}
	if result.Confidence != 1.0 {
		t.Errorf("expected recomputed confidence 1.0, got %v", result.Confidence)
	}
}

// -- Translate --

func TestTranslateForward(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Disorders of vata dosha")
	svc.Create(context.Background(), CreateInput{
		SourceCode:  "NAM001",
		TargetCode:  "1435254666",
		MappingType: TypeNarrower,
	})

	params, err := svc.Translate(context.Background(), fhir.SystemNAMASTE, "NAM001")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	result := params.FindParameter("result")
	if result == nil || result.ValueBoolean == nil || !*result.ValueBoolean {
		t.Fatalf("expected result=true, got %+v", result)
	}
	match := params.FindParameter("match")
	if match == nil {
		t.Fatal("expected a match parameter")
	}
	var equivalence, conceptCode string
	for _, part := range match.Part {
		switch part.Name {
		case "equivalence":
			equivalence = part.ValueCode
		case "concept":
			conceptCode = part.ValueCoding.Code
			if part.ValueCoding.System != fhir.SystemICD11 {
				t.Errorf("concept system should be ICD-11, got %s", part.ValueCoding.System)
			}
		}
	}
	if equivalence != "narrower" {
		t.Errorf("equivalence should carry the mapping type verbatim, got %q", equivalence)
	}
	if conceptCode != "1435254666" {
		t.Errorf("unexpected concept code %s", conceptCode)
	}
}

func TestTranslateReverse(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")
	targets.add("1435254666", "TM26.0", "Disorders of vata dosha")
	svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666"})

	params, err := svc.Translate(context.Background(), fhir.SystemICD11, "TM26.0")
	if err != nil {
		t.Fatalf("reverse translate: %v", err)
	}
	match := params.FindParameter("match")
	if match == nil {
		t.Fatal("expected a match parameter")
	}
	for _, part := range match.Part {
		if part.Name == "concept" && part.ValueCoding.Code != "NAM001" {
			t.Errorf("reverse translate should surface the NAMASTE code, got %s", part.ValueCoding.Code)
		}
	}
}

func TestTranslateNoMappingsIsEmptyNotError(t *testing.T) {
	svc, _, sources, _, _ := newTestService()
	sources.add("NAM001", "Vata Prakopa")

	params, err := svc.Translate(context.Background(), fhir.SystemNAMASTE, "NAM001")
	if err != nil {
		t.Fatalf("translate with zero mappings must not error: %v", err)
	}
	result := params.FindParameter("result")
	if result == nil || result.ValueBoolean == nil || *result.ValueBoolean {
		t.Errorf("expected result=false, got %+v", result)
	}
	if params.FindParameter("match") != nil {
		t.Error("expected no match parameters")
	}
}

func TestTranslateUnknownCode(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Translate(context.Background(), fhir.SystemNAMASTE, "MISSING")
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTranslateUnsupportedSystem(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Translate(context.Background(), "http://snomed.info/sct", "123")
	var invalid *apperror.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// -- ConceptMap --

func TestConceptMapGroupsBySystemType(t *testing.T) {
	svc, _, sources, targets, _ := newTestService()
	ayur := sources.add("NAM001", "Vata Prakopa")
	ayur.SystemType = terminology.SystemAyurveda
	siddha := sources.add("SID001", "Azhal Keel Vayu")
	siddha.SystemType = terminology.SystemSiddha
	targets.add("1435254666", "TM26.0", "Disorders of vata dosha")
	targets.add("888", "TM40.1", "Joint disorder")

	svc.Create(context.Background(), CreateInput{SourceCode: "NAM001", TargetCode: "1435254666", MappingType: TypeEquivalent, Notes: "reviewed"})
	svc.Create(context.Background(), CreateInput{SourceCode: "SID001", TargetCode: "888"})

	cm, err := svc.ConceptMap(context.Background())
	if err != nil {
		t.Fatalf("concept map: %v", err)
	}
	if cm["resourceType"] != "ConceptMap" {
		t.Errorf("expected ConceptMap, got %v", cm["resourceType"])
	}
	groups := cm["group"].([]map[string]interface{})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups (ayurveda, siddha), got %d", len(groups))
	}
	// Groups sort by system type: ayurveda first.
	first := groups[0]
	if first["source"] != fhir.SystemNAMASTE+"/ayurveda" {
		t.Errorf("unexpected group source %v", first["source"])
	}
	elements := first["element"].([]map[string]interface{})
	if len(elements) != 1 || elements[0]["code"] != "NAM001" {
		t.Fatalf("unexpected elements %v", elements)
	}
	targetsOut := elements[0]["target"].([]map[string]interface{})
	if targetsOut[0]["equivalence"] != "equivalent" || targetsOut[0]["comment"] != "reviewed" {
		t.Errorf("unexpected target entry %v", targetsOut[0])
	}

	// The siddha mapping left its type to the display heuristic: the source
	// display has more words than the target, so it classifies as narrower.
	second := groups[1]
	siddhaElements := second["element"].([]map[string]interface{})
	siddhaTargets := siddhaElements[0]["target"].([]map[string]interface{})
	if siddhaTargets[0]["equivalence"] != "narrower" {
		t.Errorf("expected inferred equivalence narrower, got %v", siddhaTargets[0]["equivalence"])
	}
}
