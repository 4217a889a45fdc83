package terminology

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/platform/apperror"
	"github.com/termmap/termmap/internal/platform/fhir"
	"github.com/termmap/termmap/internal/platform/who"
)

// Service implements the vocabulary operations for both code systems.
type Service struct {
	namaste NamasteRepository
	icd11   ICD11Repository
	who     *who.Client
	logger  zerolog.Logger
}

func NewService(namaste NamasteRepository, icd11 ICD11Repository, whoClient *who.Client, logger zerolog.Logger) *Service {
	return &Service{
		namaste: namaste,
		icd11:   icd11,
		who:     whoClient,
		logger:  logger.With().Str("component", "terminology").Logger(),
	}
}

// maxTreeDepth caps hierarchy walks so a corrupted parent chain cannot
// loop forever even past the visited-set guard.
const maxTreeDepth = 64

// =========== NAMASTE operations ===========

func (s *Service) CreateNamaste(ctx context.Context, code *NamasteCode) (*NamasteCode, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}
	if existing, err := s.namaste.GetActiveByCode(ctx, code.Code); err == nil && existing != nil {
		return nil, apperror.Conflict("NAMASTE code %q already exists", code.Code)
	} else if err != nil && !errors.As(err, new(*apperror.NotFoundError)) {
		return nil, err
	}
	if code.ParentCode != nil {
		if _, err := s.namaste.GetActiveByCode(ctx, *code.ParentCode); err != nil {
			return nil, err
		}
	}
	if err := s.namaste.Create(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

func (s *Service) UpdateNamaste(ctx context.Context, code string, update *NamasteCode) (*NamasteCode, error) {
	existing, err := s.namaste.GetActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	update.ID = existing.ID
	update.Code = existing.Code
	if update.Status == "" {
		update.Status = existing.Status
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if update.ParentCode != nil {
		if _, err := s.namaste.GetActiveByCode(ctx, *update.ParentCode); err != nil {
			return nil, err
		}
	}
	if err := s.namaste.Update(ctx, update); err != nil {
		return nil, err
	}
	return update, nil
}

func (s *Service) DeactivateNamaste(ctx context.Context, code string) error {
	existing, err := s.namaste.GetActiveByCode(ctx, code)
	if err != nil {
		return err
	}
	existing.Status = StatusInactive
	return s.namaste.Update(ctx, existing)
}

func (s *Service) GetNamaste(ctx context.Context, code string) (*NamasteCode, error) {
	return s.namaste.GetActiveByCode(ctx, code)
}

func (s *Service) SearchNamaste(ctx context.Context, query string, systemType SystemType, limit, offset int) ([]*NamasteCode, int, error) {
	if systemType != "" && !ValidSystemType(systemType) {
		return nil, 0, apperror.Invalid("system_type", "unknown system type %q", systemType)
	}
	return s.namaste.Search(ctx, query, systemType, limit, offset)
}

func (s *Service) NamasteChildren(ctx context.Context, code string) ([]*NamasteCode, error) {
	if _, err := s.namaste.GetActiveByCode(ctx, code); err != nil {
		return nil, err
	}
	return s.namaste.ListChildren(ctx, code)
}

// NamasteAncestors walks the parent chain from the given code to the root,
// nearest ancestor first. Cycles in the stored hierarchy terminate the walk.
func (s *Service) NamasteAncestors(ctx context.Context, code string) ([]*NamasteCode, error) {
	current, err := s.namaste.GetActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{current.Code: true}
	var ancestors []*NamasteCode
	for depth := 0; current.ParentCode != nil && depth < maxTreeDepth; depth++ {
		parent := *current.ParentCode
		if visited[parent] {
			s.logger.Warn().Str("code", code).Str("parent", parent).Msg("hierarchy cycle detected")
			break
		}
		visited[parent] = true
		next, err := s.namaste.GetActiveByCode(ctx, parent)
		if err != nil {
			if errors.As(err, new(*apperror.NotFoundError)) {
				break
			}
			return nil, err
		}
		ancestors = append(ancestors, next)
		current = next
	}
	return ancestors, nil
}

// NamasteDescendants returns the full subtree below the given code via
// breadth-first traversal.
func (s *Service) NamasteDescendants(ctx context.Context, code string) ([]*NamasteCode, error) {
	if _, err := s.namaste.GetActiveByCode(ctx, code); err != nil {
		return nil, err
	}
	visited := map[string]bool{code: true}
	queue := []string{code}
	var descendants []*NamasteCode
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := s.namaste.ListChildren(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.Code] {
				continue
			}
			visited[child.Code] = true
			descendants = append(descendants, child)
			queue = append(queue, child.Code)
		}
	}
	return descendants, nil
}

// =========== ICD-11 operations ===========

func (s *Service) CreateICD11(ctx context.Context, code *ICD11Code) (*ICD11Code, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}
	if existing, err := s.icd11.GetActiveByEntityID(ctx, code.EntityID); err == nil && existing != nil {
		return nil, apperror.Conflict("ICD-11 entity %q already exists", code.EntityID)
	} else if err != nil && !errors.As(err, new(*apperror.NotFoundError)) {
		return nil, err
	}
	if code.ParentID != nil {
		if _, err := s.icd11.GetActiveByEntityID(ctx, *code.ParentID); err != nil {
			return nil, err
		}
	}
	if err := s.icd11.Create(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

func (s *Service) UpdateICD11(ctx context.Context, entityID string, update *ICD11Code) (*ICD11Code, error) {
	existing, err := s.icd11.GetActiveByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	update.ID = existing.ID
	update.EntityID = existing.EntityID
	if update.Status == "" {
		update.Status = existing.Status
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if update.ParentID != nil {
		if _, err := s.icd11.GetActiveByEntityID(ctx, *update.ParentID); err != nil {
			return nil, err
		}
	}
	if err := s.icd11.Update(ctx, update); err != nil {
		return nil, err
	}
	return update, nil
}

func (s *Service) DeactivateICD11(ctx context.Context, entityID string) error {
	existing, err := s.icd11.GetActiveByEntityID(ctx, entityID)
	if err != nil {
		return err
	}
	existing.Status = StatusInactive
	return s.icd11.Update(ctx, existing)
}

// GetICD11 resolves by WHO entity ID first, then by the ICD classification
// code alias.
func (s *Service) GetICD11(ctx context.Context, code string) (*ICD11Code, error) {
	return s.icd11.GetActiveByAnyCode(ctx, code)
}

func (s *Service) SearchICD11(ctx context.Context, query string, module Module, limit, offset int) ([]*ICD11Code, int, error) {
	if module != "" && !ValidModule(module) {
		return nil, 0, apperror.Invalid("module", "unknown module %q", module)
	}
	return s.icd11.Search(ctx, query, module, limit, offset)
}

func (s *Service) ICD11Children(ctx context.Context, entityID string) ([]*ICD11Code, error) {
	if _, err := s.icd11.GetActiveByEntityID(ctx, entityID); err != nil {
		return nil, err
	}
	return s.icd11.ListChildren(ctx, entityID)
}

func (s *Service) ICD11Ancestors(ctx context.Context, entityID string) ([]*ICD11Code, error) {
	current, err := s.icd11.GetActiveByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{current.EntityID: true}
	var ancestors []*ICD11Code
	for depth := 0; current.ParentID != nil && depth < maxTreeDepth; depth++ {
		parent := *current.ParentID
		if visited[parent] {
			s.logger.Warn().Str("entity_id", entityID).Str("parent", parent).Msg("hierarchy cycle detected")
			break
		}
		visited[parent] = true
		next, err := s.icd11.GetActiveByEntityID(ctx, parent)
		if err != nil {
			if errors.As(err, new(*apperror.NotFoundError)) {
				break
			}
			return nil, err
		}
		ancestors = append(ancestors, next)
		current = next
	}
	return ancestors, nil
}

func (s *Service) ICD11Descendants(ctx context.Context, entityID string) ([]*ICD11Code, error) {
	if _, err := s.icd11.GetActiveByEntityID(ctx, entityID); err != nil {
		return nil, err
	}
	visited := map[string]bool{entityID: true}
	queue := []string{entityID}
	var descendants []*ICD11Code
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := s.icd11.ListChildren(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.EntityID] {
				continue
			}
			visited[child.EntityID] = true
			descendants = append(descendants, child)
			queue = append(queue, child.EntityID)
		}
	}
	return descendants, nil
}

// EnrichICD11 refreshes a stored ICD-11 entity from the WHO API, filling in
// the classification code and definition where the local record lacks them.
func (s *Service) EnrichICD11(ctx context.Context, entityID string) (*ICD11Code, error) {
	if s.who == nil || !s.who.Enabled() {
		return nil, apperror.Invalid("who", "WHO ICD API is not configured")
	}
	existing, err := s.icd11.GetActiveByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	entity, err := s.who.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	changed := false
	if existing.ICDCode == "" && entity.ICDCode != "" {
		existing.ICDCode = entity.ICDCode
		changed = true
	}
	if existing.Definition == "" && entity.Definition != "" {
		existing.Definition = entity.Definition
		changed = true
	}
	if changed {
		if err := s.icd11.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info().Str("entity_id", entityID).Msg("enriched ICD-11 entity from WHO API")
	}
	return existing, nil
}

// =========== FHIR projections ===========

// NamasteCodeSystem projects the active NAMASTE vocabulary as a FHIR
// CodeSystem resource, optionally filtered to one traditional system.
func (s *Service) NamasteCodeSystem(ctx context.Context, systemType SystemType) (map[string]interface{}, error) {
	if systemType != "" && !ValidSystemType(systemType) {
		return nil, apperror.Invalid("system_type", "unknown system type %q", systemType)
	}
	codes, err := s.namaste.ListActive(ctx, systemType)
	if err != nil {
		return nil, err
	}
	concepts := make([]map[string]interface{}, 0, len(codes))
	for _, c := range codes {
		concepts = append(concepts, c.ToFHIRConcept())
	}
	return CodeSystem("namaste", fhir.SystemNAMASTE, "NAMASTE", concepts), nil
}

// ICD11CodeSystem projects the local ICD-11 subset as a FHIR CodeSystem
// resource, optionally filtered to one module.
func (s *Service) ICD11CodeSystem(ctx context.Context, module Module) (map[string]interface{}, error) {
	if module != "" && !ValidModule(module) {
		return nil, apperror.Invalid("module", "unknown module %q", module)
	}
	codes, err := s.icd11.ListActive(ctx, module)
	if err != nil {
		return nil, err
	}
	concepts := make([]map[string]interface{}, 0, len(codes))
	for _, c := range codes {
		concepts = append(concepts, c.ToFHIRConcept())
	}
	return CodeSystem("icd11", fhir.SystemICD11, "ICD-11", concepts), nil
}

// Lookup implements the FHIR $lookup operation against either code system.
func (s *Service) Lookup(ctx context.Context, system, code string) (*fhir.Parameters, error) {
	kind, err := fhir.ResolveSystem(system)
	if err != nil {
		return nil, err
	}
	switch kind {
	case fhir.KindNAMASTE:
		n, err := s.namaste.GetActiveByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		params := []fhir.Parameter{
			fhir.StringParam("name", "NAMASTE"),
			fhir.StringParam("display", n.Display),
			propertyParam("system-type", string(n.SystemType)),
		}
		if n.Definition != "" {
			params = append(params, fhir.StringParam("definition", n.Definition))
		}
		for _, syn := range n.Synonyms {
			params = append(params, designationParam(syn))
		}
		return fhir.NewParameters(params...), nil

	case fhir.KindICD11:
		c, err := s.icd11.GetActiveByAnyCode(ctx, code)
		if err != nil {
			return nil, err
		}
		definition := c.Definition
		if definition == "" && s.who != nil && s.who.Enabled() {
			if entity, werr := s.who.GetEntity(ctx, c.EntityID); werr == nil {
				definition = entity.Definition
			} else {
				s.logger.Warn().Err(werr).Str("entity_id", c.EntityID).Msg("WHO lookup fallback failed")
			}
		}
		params := []fhir.Parameter{
			fhir.StringParam("name", "ICD-11"),
			fhir.StringParam("display", c.Title),
			propertyParam("module", string(c.Module)),
		}
		if c.ICDCode != "" {
			params = append(params, propertyParam("icd-code", c.ICDCode))
		}
		if definition != "" {
			params = append(params, fhir.StringParam("definition", definition))
		}
		for _, syn := range c.Synonyms {
			params = append(params, designationParam(syn))
		}
		return fhir.NewParameters(params...), nil
	}
	return nil, apperror.Invalid("system", "unsupported system %q", system)
}

func propertyParam(code, value string) fhir.Parameter {
	return fhir.Parameter{
		Name: "property",
		Part: []fhir.Parameter{
			fhir.CodeParam("code", code),
			fhir.StringParam("value", value),
		},
	}
}

func designationParam(value string) fhir.Parameter {
	return fhir.Parameter{
		Name: "designation",
		Part: []fhir.Parameter{
			fhir.StringParam("value", value),
		},
	}
}

func (s *Service) searchResults(namaste []*NamasteCode, icd11 []*ICD11Code) []SearchResult {
	results := make([]SearchResult, 0, len(namaste)+len(icd11))
	for _, n := range namaste {
		results = append(results, namasteSearchResult(n))
	}
	for _, c := range icd11 {
		results = append(results, icd11SearchResult(c))
	}
	return results
}

// SearchAll queries both vocabularies and returns a combined, flattened
// result list for the cross-system search endpoint.
func (s *Service) SearchAll(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	namaste, _, err := s.namaste.Search(ctx, query, "", limit, 0)
	if err != nil {
		return nil, err
	}
	icd11, _, err := s.icd11.Search(ctx, query, "", limit, 0)
	if err != nil {
		return nil, fmt.Errorf("icd11 search: %w", err)
	}
	return s.searchResults(namaste, icd11), nil
}
