package assessment

import (
	"errors"
	"net/http"

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
	// Read endpoints – all clinical staff
	readGroup := api.Group("", auth.RequireRole("admin", "psychologist", "physician", "nurse", "assistant"))
	readGroup.GET("/assessments", h.ListAssessments)
	readGroup.GET("/assessments/:id", h.GetAssessment)

	// Assignment and response capture – prescribing staff
	writeGroup := api.Group("", auth.RequireRole("admin", "psychologist", "physician"))
	writeGroup.POST("/assessments", h.CreateAssessment)
	writeGroup.PUT("/assessments/:id", h.UpdateAssessment)
	writeGroup.DELETE("/assessments/:id", h.DeleteAssessment)
	writeGroup.POST("/assessments/:id/responses", h.SaveResponses)
	writeGroup.POST("/assessments/:id/submit", h.SubmitAssessment)

	// Sign-off – admin, psychologist
	reviewGroup := api.Group("", auth.RequireRole("admin", "psychologist"))
	reviewGroup.POST("/assessments/:id/review", h.ReviewAssessment)

	// FHIR endpoints
	fhirRead := fhirGroup.Group("", auth.RequireRole("admin", "psychologist", "physician", "nurse", "assistant"))
	fhirRead.GET("/QuestionnaireResponse", h.SearchAssessmentsFHIR)
	fhirRead.GET("/QuestionnaireResponse/:id", h.GetAssessmentFHIR)
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	var a Assessment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a.AssignedBy == nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			a.AssignedBy = &uid
		}
	}
	if err := h.svc.CreateAssessment(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAssessment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAssessment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "assessment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssessments(c echo.Context) error {
	pg := pagination.FromContext(c)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListAssessmentsByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	if scaleID := c.QueryParam("scale_id"); scaleID != "" {
		sid, err := uuid.Parse(scaleID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid scale_id")
		}
		items, total, err := h.svc.ListAssessmentsByScale(c.Request().Context(), sid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	if status := c.QueryParam("status"); status != "" {
		items, total, err := h.svc.SearchAssessments(c.Request().Context(), map[string]string{"status": status}, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	items, total, err := h.svc.ListAssessments(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAssessment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a Assessment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	if err := h.svc.UpdateAssessment(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAssessment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAssessment(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type responsesRequest struct {
	Responses map[int]interface{} `json:"responses"`
}

func (h *Handler) SaveResponses(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req responsesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.SaveResponses(c.Request().Context(), id, req.Responses)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SubmitAssessment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req responsesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Submit(c.Request().Context(), id, req.Responses)
	if err != nil {
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			return c.JSON(http.StatusUnprocessableEntity, subErr.Report)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

type reviewRequest struct {
	Note string `json:"note"`
}

func (h *Handler) ReviewAssessment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reviewerID, _ := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	a, err := h.svc.Review(c.Request().Context(), id, req.Note, reviewerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

// -- FHIR Endpoints --

func (h *Handler) SearchAssessmentsFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	if v := c.QueryParam("patient"); v != "" {
		params["patient"] = v
	}
	if v := c.QueryParam("questionnaire"); v != "" {
		params["scale"] = v
	}
	if v := c.QueryParam("authored"); v != "" {
		params["authored"] = v
	}
	if v := c.QueryParam("status"); v != "" {
		// QuestionnaireResponse statuses use hyphens
		if v == "in-progress" {
			v = StatusInProgress
		}
		params["status"] = v
	}
	items, total, err := h.svc.SearchAssessments(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	resources := make([]interface{}, len(items))
	for i, item := range items {
		resources[i] = item.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewPagedSearchBundle(resources, total, "/fhir/QuestionnaireResponse", pg))
}

func (h *Handler) GetAssessmentFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	a, err := h.svc.GetAssessment(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	return c.JSON(http.StatusOK, a.ToFHIR())
}
