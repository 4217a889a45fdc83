package terminology

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/termmap/termmap/internal/platform/apperror"
	"github.com/termmap/termmap/internal/platform/auth"
	"github.com/termmap/termmap/internal/platform/fhir"
	"github.com/termmap/termmap/pkg/pagination"
)

// Handler provides REST and FHIR endpoints for the two vocabularies.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	read := api.Group("/terminology")
	read.GET("/search", h.SearchAll)
	read.GET("/namaste", h.SearchNamaste)
	read.GET("/namaste/:code", h.GetNamaste)
	read.GET("/namaste/:code/children", h.NamasteChildren)
	read.GET("/namaste/:code/ancestors", h.NamasteAncestors)
	read.GET("/namaste/:code/descendants", h.NamasteDescendants)
	read.GET("/icd11", h.SearchICD11)
	read.GET("/icd11/:code", h.GetICD11)
	read.GET("/icd11/:code/children", h.ICD11Children)
	read.GET("/icd11/:code/ancestors", h.ICD11Ancestors)
	read.GET("/icd11/:code/descendants", h.ICD11Descendants)

	write := api.Group("/terminology", auth.RequireRole("curator"))
	write.POST("/namaste", h.CreateNamaste)
	write.PUT("/namaste/:code", h.UpdateNamaste)
	write.DELETE("/namaste/:code", h.DeactivateNamaste)
	write.POST("/icd11", h.CreateICD11)
	write.PUT("/icd11/:code", h.UpdateICD11)
	write.DELETE("/icd11/:code", h.DeactivateICD11)
	write.POST("/icd11/:code/enrich", h.EnrichICD11)

	fhirGroup.GET("/CodeSystem/namaste", h.NamasteCodeSystemFHIR)
	fhirGroup.GET("/CodeSystem/icd11", h.ICD11CodeSystemFHIR)
	fhirGroup.GET("/CodeSystem/$lookup", h.LookupFHIR)
	fhirGroup.POST("/CodeSystem/$lookup", h.LookupFHIRPost)
}

// httpError translates domain errors into echo HTTP errors for the REST
// endpoints.
func httpError(err error) error {
	var nf *apperror.NotFoundError
	var cf *apperror.ConflictError
	var vd *apperror.ValidationError
	var up *apperror.UpstreamError
	switch {
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &cf):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &vd):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &up):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// fhirError writes a FHIR OperationOutcome for errors on the /fhir endpoints.
func fhirError(c echo.Context, err error) error {
	var nf *apperror.NotFoundError
	var vd *apperror.ValidationError
	switch {
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(nf.Resource, nf.ID))
	case errors.As(err, &vd):
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome(vd.Field, vd.Message))
	}
	return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
}

// -- NAMASTE REST endpoints --

func (h *Handler) CreateNamaste(c echo.Context) error {
	var code NamasteCode
	if err := c.Bind(&code); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.CreateNamaste(c.Request().Context(), &code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetNamaste(c echo.Context) error {
	code, err := h.svc.GetNamaste(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) UpdateNamaste(c echo.Context) error {
	var update NamasteCode
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateNamaste(c.Request().Context(), c.Param("code"), &update)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeactivateNamaste(c echo.Context) error {
	if err := h.svc.DeactivateNamaste(c.Request().Context(), c.Param("code")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SearchNamaste(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchNamaste(c.Request().Context(), query,
		SystemType(c.QueryParam("system_type")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) NamasteChildren(c echo.Context) error {
	children, err := h.svc.NamasteChildren(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, children)
}

func (h *Handler) NamasteAncestors(c echo.Context) error {
	ancestors, err := h.svc.NamasteAncestors(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ancestors)
}

func (h *Handler) NamasteDescendants(c echo.Context) error {
	descendants, err := h.svc.NamasteDescendants(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, descendants)
}

// -- ICD-11 REST endpoints --

func (h *Handler) CreateICD11(c echo.Context) error {
	var code ICD11Code
	if err := c.Bind(&code); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.CreateICD11(c.Request().Context(), &code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetICD11(c echo.Context) error {
	code, err := h.svc.GetICD11(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) UpdateICD11(c echo.Context) error {
	var update ICD11Code
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateICD11(c.Request().Context(), c.Param("code"), &update)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeactivateICD11(c echo.Context) error {
	if err := h.svc.DeactivateICD11(c.Request().Context(), c.Param("code")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EnrichICD11(c echo.Context) error {
	enriched, err := h.svc.EnrichICD11(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enriched)
}

func (h *Handler) SearchICD11(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchICD11(c.Request().Context(), query,
		Module(c.QueryParam("module")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ICD11Children(c echo.Context) error {
	children, err := h.svc.ICD11Children(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, children)
}

func (h *Handler) ICD11Ancestors(c echo.Context) error {
	ancestors, err := h.svc.ICD11Ancestors(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ancestors)
}

func (h *Handler) ICD11Descendants(c echo.Context) error {
	descendants, err := h.svc.ICD11Descendants(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, descendants)
}

// -- Cross-system search --

func (h *Handler) SearchAll(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	pg := pagination.FromContext(c)
	results, err := h.svc.SearchAll(c.Request().Context(), query, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

// -- FHIR endpoints --

func (h *Handler) NamasteCodeSystemFHIR(c echo.Context) error {
	cs, err := h.svc.NamasteCodeSystem(c.Request().Context(), SystemType(c.QueryParam("system_type")))
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ICD11CodeSystemFHIR(c echo.Context) error {
	cs, err := h.svc.ICD11CodeSystem(c.Request().Context(), Module(c.QueryParam("module")))
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, cs)
}

// LookupFHIR handles GET /fhir/CodeSystem/$lookup?system=...&code=...
func (h *Handler) LookupFHIR(c echo.Context) error {
	system := c.QueryParam("system")
	code := c.QueryParam("code")
	if system == "" || code == "" {
		return c.JSON(http.StatusBadRequest,
			fhir.ErrorOutcome("'system' and 'code' parameters are required"))
	}
	result, err := h.svc.Lookup(c.Request().Context(), system, code)
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// LookupFHIRPost handles POST /fhir/CodeSystem/$lookup with a Parameters body.
func (h *Handler) LookupFHIRPost(c echo.Context) error {
	var params fhir.Parameters
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid Parameters resource"))
	}
	var system, code string
	if p := params.FindParameter("system"); p != nil {
		system = p.ValueURI
		if system == "" {
			system = p.ValueString
		}
	}
	if p := params.FindParameter("code"); p != nil {
		code = p.ValueCode
		if code == "" {
			code = p.ValueString
		}
	}
	if system == "" || code == "" {
		return c.JSON(http.StatusBadRequest,
			fhir.ErrorOutcome("'system' and 'code' parameters are required"))
	}
	result, err := h.svc.Lookup(c.Request().Context(), system, code)
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
