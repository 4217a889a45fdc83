package mapping

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/termmap/termmap/internal/platform/apperror"
	"github.com/termmap/termmap/internal/platform/auth"
	"github.com/termmap/termmap/internal/platform/fhir"
	"github.com/termmap/termmap/pkg/pagination"
)

// Handler provides REST and FHIR endpoints for code mappings.
type Handler struct {
	svc              *Service
	autoMapThreshold float64
}

func NewHandler(svc *Service, autoMapThreshold float64) *Handler {
	return &Handler{svc: svc, autoMapThreshold: autoMapThreshold}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	read := api.Group("/mappings")
	read.GET("", h.List)
	read.GET("/:id", h.Get)
	read.GET("/:id/validate", h.ValidateOne)
	read.GET("/suggest/:code", h.Suggest)

	write := api.Group("/mappings", auth.RequireRole("curator"))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Deactivate)
	write.POST("/:id/verify", h.Verify)
	write.POST("/validate", h.ValidateAll)
	write.POST("/automap", h.AutoMap)
	write.POST("/import", h.ImportCSV)

	fhirGroup.GET("/ConceptMap/namaste-icd11", h.ConceptMapFHIR)
	fhirGroup.GET("/ConceptMap/$translate", h.TranslateGET)
	fhirGroup.POST("/ConceptMap/$translate", h.TranslatePOST)
}

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

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- REST endpoints --

// Create handles POST /api/v1/mappings. Interactive creates reject duplicate
// pairs unless the caller explicitly asks for skip semantics.
func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.OnDuplicate == "" {
		in.OnDuplicate = DuplicateReject
	}
	m, created, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	if !created {
		return c.JSON(http.StatusOK, m)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{
		SourceCode:     c.QueryParam("source_code"),
		TargetEntityID: c.QueryParam("target_entity_id"),
		MappingType:    MappingType(c.QueryParam("mapping_type")),
		VerifiedOnly:   c.QueryParam("verified") == "true",
	}
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, result, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"mapping":    m,
		"validation": result,
	})
}

func (h *Handler) Suggest(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	suggestions, err := h.svc.Suggest(c.Request().Context(), c.Param("code"), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, suggestions)
}

func (h *Handler) AutoMap(c echo.Context) error {
	threshold := h.autoMapThreshold
	var body struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := c.Bind(&body); err == nil && body.Threshold != nil {
		threshold = *body.Threshold
	}
	stats, err := h.svc.AutoMap(c.Request().Context(), threshold)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ValidateAll(c echo.Context) error {
	report, err := h.svc.ValidateAll(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ValidateOne(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	result, err := h.svc.Validate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ImportCSV handles POST /api/v1/mappings/import with a text/csv body.
// ImportCSV accepts the mapping CSV either as a multipart upload under the
// "file" field or as the raw request body.
func (h *Handler) ImportCSV(c echo.Context) error {
	var src io.Reader = c.Request().Body
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return httpError(apperror.Invalid("file", "cannot read upload: %v", err))
		}
		defer f.Close()
		src = f
	}
	report, err := h.svc.ImportCSV(c.Request().Context(), src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// -- FHIR endpoints --

func (h *Handler) ConceptMapFHIR(c echo.Context) error {
	cm, err := h.svc.ConceptMap(c.Request().Context())
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, cm)
}

// TranslateGET handles GET /fhir/ConceptMap/$translate?system=...&code=...
func (h *Handler) TranslateGET(c echo.Context) error {
	system := c.QueryParam("system")
	code := c.QueryParam("code")
	if system == "" || code == "" {
		return c.JSON(http.StatusBadRequest,
			fhir.ErrorOutcome("'system' and 'code' parameters are required"))
	}
	result, err := h.svc.Translate(c.Request().Context(), system, code)
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// TranslatePOST handles POST /fhir/ConceptMap/$translate with a Parameters
// body.
func (h *Handler) TranslatePOST(c echo.Context) error {
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
	result, err := h.svc.Translate(c.Request().Context(), system, code)
	if err != nil {
		return fhirError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
