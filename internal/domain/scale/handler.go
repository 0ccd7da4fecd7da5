package scale

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentis/mentis/internal/platform/auth"
	"github.com/mentis/mentis/internal/platform/fhir"
	"github.com/mentis/mentis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	// Read and scoring endpoints – all clinical staff
	readGroup := api.Group("", auth.RequireRole("admin", "psychologist", "physician", "nurse", "assistant"))
	readGroup.GET("/scales", h.ListScales)
	readGroup.GET("/scales/:id", h.GetScale)
	readGroup.GET("/scales/:id/metrics", h.GetScaleMetrics)
	readGroup.GET("/scales/:id/interpretation", h.GetInterpretation)
	readGroup.POST("/scales/:id/score", h.ScoreScale)
	readGroup.POST("/scales/:id/validate", h.ValidateScale)

	// Catalog management – admin, psychologist
	writeGroup := api.Group("", auth.RequireRole("admin", "psychologist"))
	writeGroup.POST("/scales", h.CreateScale)
	writeGroup.PUT("/scales/:id", h.UpdateScale)
	writeGroup.DELETE("/scales/:id", h.DeactivateScale)

	// FHIR endpoints
	fhirRead := fhirGroup.Group("", auth.RequireRole("admin", "psychologist", "physician", "nurse", "assistant"))
	fhirRead.GET("/Questionnaire", h.SearchScalesFHIR)
	fhirRead.GET("/Questionnaire/:id", h.GetScaleFHIR)

	fhirWrite := fhirGroup.Group("", auth.RequireRole("admin", "psychologist"))
	fhirWrite.POST("/Questionnaire", h.CreateScaleFHIR)
}

// -- Catalog Handlers --

func (h *Handler) CreateScale(c echo.Context) error {
	var sc Scale
	if err := c.Bind(&sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateScale(c.Request().Context(), &sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) GetScale(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sc, err := h.svc.GetScale(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "scale not found")
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) ListScales(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := fhir.ExtractSearchParams(c)
	if len(params) > 0 {
		items, total, err := h.svc.SearchScales(c.Request().Context(), params, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	items, total, err := h.svc.ListScales(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateScale(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var sc Scale
	if err := c.Bind(&sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sc.ID = id
	if err := h.svc.UpdateScale(c.Request().Context(), &sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) DeactivateScale(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateScale(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Scoring Handlers --

type scoreRequest struct {
	Responses map[int]interface{} `json:"responses"`
}

func (h *Handler) ScoreScale(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req scoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	summary, err := h.svc.Score(c.Request().Context(), id, req.Responses)
	if err != nil {
		return definitionError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ValidateScale(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req scoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.Validate(c.Request().Context(), id, req.Responses)
	if err != nil {
		return definitionError(err)
	}
	return c.JSON(http.StatusOK, report)
}

type interpretationResponse struct {
	Score          float64             `json:"score"`
	Subscale       string              `json:"subscale,omitempty"`
	Matched        bool                `json:"matched"`
	Interpretation *InterpretationRule `json:"interpretation,omitempty"`
}

func (h *Handler) GetInterpretation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	score, err := strconv.ParseFloat(c.QueryParam("score"), 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "score is required")
	}
	subscale := c.QueryParam("subscale")
	rule, err := h.svc.Interpret(c.Request().Context(), id, score, subscale)
	if err != nil {
		return definitionError(err)
	}
	return c.JSON(http.StatusOK, interpretationResponse{
		Score:          score,
		Subscale:       subscale,
		Matched:        rule != nil,
		Interpretation: rule,
	})
}

func (h *Handler) GetScaleMetrics(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var age *int
	if v := c.QueryParam("age"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid age")
		}
		age = &n
	}
	metrics, err := h.svc.Metrics(c.Request().Context(), id, age, c.QueryParam("population"))
	if err != nil {
		return definitionError(err)
	}
	return c.JSON(http.StatusOK, metrics)
}

// definitionError distinguishes a broken stored definition from a missing
// scale when resolving a definition for scoring.
func definitionError(err error) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusNotFound, "scale not found")
}

// -- FHIR Endpoints --

func (h *Handler) SearchScalesFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	if v := c.QueryParam("name"); v != "" {
		params["abbreviation"] = v
	}
	if v := c.QueryParam("title"); v != "" {
		params["name"] = v
	}
	items, total, err := h.svc.SearchScales(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	resources := make([]interface{}, len(items))
	for i, item := range items {
		resources[i] = item.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewPagedSearchBundle(resources, total, "/fhir/Questionnaire", pg))
}

func (h *Handler) GetScaleFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	}
	sc, err := h.svc.GetScale(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	}
	return c.JSON(http.StatusOK, sc.ToFHIR())
}

func (h *Handler) CreateScaleFHIR(c echo.Context) error {
	var q QuestionnaireResource
	if err := c.Bind(&q); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	sc, err := ScaleFromFHIR(&q)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if err := h.svc.CreateScale(c.Request().Context(), sc); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	c.Response().Header().Set("Location", "/fhir/Questionnaire/"+sc.ID.String())
	return c.JSON(http.StatusCreated, sc.ToFHIR())
}
