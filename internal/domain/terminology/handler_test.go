package terminology

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/termmap/termmap/internal/platform/auth"
	"github.com/termmap/termmap/internal/platform/fhir"
)

func newTestServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc, _, _ := newTestService()
	e := echo.New()
	h := NewHandler(svc)
	h.RegisterRoutes(e.Group("/api/v1"), e.Group("/fhir"))
	return e, svc
}

func doRequest(e *echo.Echo, method, path string, body string, roles ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if len(roles) > 0 {
		ctx := context.WithValue(req.Context(), auth.UserIDKey, "test-user")
		ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSearchNamasteEndpoint(t *testing.T) {
	e, svc := newTestServer(t)
	seedNamaste(t, svc, "NAM001", "Vata Prakopa", nil)

	rec := doRequest(e, http.MethodGet, "/api/v1/terminology/namaste?q=vata", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected total 1, got %d", resp.Total)
	}
}

func TestSearchNamasteRequiresQuery(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/terminology/namaste", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetNamasteNotFound(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/terminology/namaste/MISSING", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateNamasteRequiresCurator(t *testing.T) {
	e, _ := newTestServer(t)
	body := `{"code":"NAM001","display":"Vata Prakopa","system_type":"ayurveda"}`

	rec := doRequest(e, http.MethodPost, "/api/v1/terminology/namaste", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without role, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPost, "/api/v1/terminology/namaste", body, "curator")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with curator role, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateNamasteDuplicateReturns409(t *testing.T) {
	e, svc := newTestServer(t)
	seedNamaste(t, svc, "NAM001", "Vata Prakopa", nil)

	body := `{"code":"NAM001","display":"Duplicate","system_type":"ayurveda"}`
	rec := doRequest(e, http.MethodPost, "/api/v1/terminology/namaste", body, "curator")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeactivateNamasteEndpoint(t *testing.T) {
	e, svc := newTestServer(t)
	seedNamaste(t, svc, "NAM001", "Vata Prakopa", nil)

	rec := doRequest(e, http.MethodDelete, "/api/v1/terminology/namaste/NAM001", "", "curator")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodGet, "/api/v1/terminology/namaste/NAM001", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after deactivation, got %d", rec.Code)
	}
}

func TestGetICD11ByAliasEndpoint(t *testing.T) {
	e, svc := newTestServer(t)
	seedICD11(t, svc, "1435254666", "TM26.0", "Disorders of vata dosha", nil)

	rec := doRequest(e, http.MethodGet, "/api/v1/terminology/icd11/TM26.0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var code ICD11Code
	if err := json.Unmarshal(rec.Body.Bytes(), &code); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if code.EntityID != "1435254666" {
		t.Errorf("unexpected entity id %s", code.EntityID)
	}
}

func TestNamasteCodeSystemEndpoint(t *testing.T) {
	e, svc := newTestServer(t)
	seedNamaste(t, svc, "NAM001", "Vata Prakopa", nil)

	rec := doRequest(e, http.MethodGet, "/fhir/CodeSystem/namaste", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cs map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &cs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cs["resourceType"] != "CodeSystem" {
		t.Errorf("expected CodeSystem, got %v", cs["resourceType"])
	}
	if cs["count"].(float64) != 1 {
		t.Errorf("expected count 1, got %v", cs["count"])
	}
}

func TestLookupEndpointGET(t *testing.T) {
	e, svc := newTestServer(t)
	seedNamaste(t, svc, "NAM001", "Vata Prakopa", nil)

	rec := doRequest(e, http.MethodGet,
		"/fhir/CodeSystem/$lookup?system="+fhir.SystemNAMASTE+"&code=NAM001", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var params fhir.Parameters
	if err := json.Unmarshal(rec.Body.Bytes(), &params); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d := params.FindParameter("display"); d == nil || d.ValueString != "Vata Prakopa" {
		t.Errorf("unexpected display parameter %+v", d)
	}
}

func TestLookupEndpointMissingParams(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/fhir/CodeSystem/$lookup?code=NAM001", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.ResourceType != "OperationOutcome" {
		t.Errorf("expected OperationOutcome body, got %s", outcome.ResourceType)
	}
}

func TestLookupEndpointPOST(t *testing.T) {
	e, svc := newTestServer(t)
	seedICD11(t, svc, "1435254666", "TM26.0", "Disorders of vata dosha", nil)

	body := `{"resourceType":"Parameters","parameter":[` +
		`{"name":"system","valueUri":"` + fhir.SystemICD11 + `"},` +
		`{"name":"code","valueCode":"1435254666"}]}`
	rec := doRequest(e, http.MethodPost, "/fhir/CodeSystem/$lookup", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLookupEndpointUnsupportedSystem(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet,
		"/fhir/CodeSystem/$lookup?system=http://snomed.info/sct&code=123", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported system, got %d", rec.Code)
	}
}
