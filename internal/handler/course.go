package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/store"
)

type CourseHandler struct {
	store       *store.CourseStore
	enrollments *store.EnrollmentStore
	logger      *slog.Logger
}

func NewCourseHandler(s *store.CourseStore, enrollments *store.EnrollmentStore, logger *slog.Logger) *CourseHandler {
	return &CourseHandler{store: s, enrollments: enrollments, logger: logger}
}

func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.List(r.Context(), false)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if courses == nil {
		courses = []model.Course{}
	}
	writeJSON(w, http.StatusOK, courses)
}

func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if c == nil || !c.Published {
		writeError(w, http.StatusNotFound, "not_found", "course not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AdminGet returns any course, published or not, with its enrollment count.
func (h *CourseHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "not_found", "course not found")
		return
	}
	n, err := h.enrollments.CountForCourse(r.Context(), c.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*model.Course
		EnrollmentCount int `json:"enrollment_count"`
	}{c, n})
}

func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Published   bool            `json:"published"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "title is required")
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, http.StatusBadRequest, "validation_error", "price must be greater than zero")
		return
	}

	c, err := h.store.Create(r.Context(), req.Title, req.Description, req.Price.Round(2), req.Published)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
