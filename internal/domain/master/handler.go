package master

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medterm/masterdata/internal/platform/auth"
	"github.com/medterm/masterdata/internal/platform/db"
	"github.com/medterm/masterdata/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/masters")

	read := g.Group("", auth.RequireAuthenticated())
	read.GET("/:type", h.List)
	read.GET("/:type/export", h.Export)
	read.GET("/:type/resolve", h.Resolve)
	read.GET("/:type/items/:id", h.Get)
	read.GET("/:type/categories", h.ListCategories)

	write := g.Group("", auth.RequireRole(auth.RoleEditor))
	write.POST("/:type", h.CreateOrTouch)
	write.PATCH("/:type/items/:id", h.Update)
	write.DELETE("/:type/items/:id", h.Remove)
	write.POST("/:type/items/:id/explanations", h.AddExplanation)
	write.PATCH("/:type/items/:id/explanations/:eid", h.UpdateExplanation)
	write.DELETE("/:type/items/:id/explanations/:eid", h.DeleteExplanation)
	write.POST("/:type/categories", h.MutateCategories)

	admin := g.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/legacy/migrate", h.MigrateLegacy)

	th := api.Group("/thesaurus")
	th.GET("", h.ListThesaurus, auth.RequireAuthenticated())
	th.POST("", h.UpsertThesaurus, auth.RequireRole(auth.RoleEditor))
}

type errorResponse struct {
	Error   string   `json:"error"`
	Field   string   `json:"field,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// respondError maps domain errors to HTTP responses.
func respondError(c echo.Context, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field, Allowed: ve.Allowed})
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathType(c echo.Context) (Type, error) {
	return ParseType(c.Param("type"))
}

// itemRef reads :id, which may also be an escaped legacy key.
func itemRef(c echo.Context) Ref {
	id := c.Param("id")
	if u, err := url.PathUnescape(id); err == nil {
		id = u
	}
	return Ref{ID: id}
}

func orgOf(c echo.Context) string {
	return db.OrgFromContext(c.Request().Context())
}

func (h *Handler) List(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	status, err := ParseStatus(c.QueryParam("status"))
	if err != nil {
		return respondError(c, err)
	}
	similar, _ := strconv.ParseBool(c.QueryParam("similar"))
	recs, err := h.svc.List(c.Request().Context(), t, ListOptions{
		ListFilter: ListFilter{
			Status:         status,
			Category:       strings.TrimSpace(c.QueryParam("category")),
			OrganizationID: orgOf(c),
		},
		IncludeSimilar: similar,
	})
	if err != nil {
		return respondError(c, err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(recs, pg), len(recs), pg.Limit, pg.Offset))
}

type createResponse struct {
	Item    *Record `json:"item"`
	Created bool    `json:"created"`
}

func (h *Handler) CreateOrTouch(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	var in Contribution
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.Type = t
	if in.OrganizationID == "" {
		in.OrganizationID = orgOf(c)
	}
	rec, created, err := h.svc.CreateOrTouch(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, createResponse{Item: rec, Created: created})
}

func (h *Handler) Get(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	rec, err := h.svc.Get(c.Request().Context(), t, itemRef(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Resolve(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	ref := Ref{
		LegacyKey: c.QueryParam("key"),
		Category:  c.QueryParam("category"),
		Name:      c.QueryParam("name"),
	}
	rec, err := h.svc.Get(c.Request().Context(), t, ref)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

type updateResponse struct {
	Item     *Record `json:"item"`
	Degraded bool    `json:"degraded"`
}

func (h *Handler) Update(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, res, err := h.svc.Update(c.Request().Context(), t, itemRef(c), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, updateResponse{Item: rec, Degraded: res.Degraded})
}

func (h *Handler) Remove(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.svc.Remove(c.Request().Context(), t, itemRef(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type explanationResponse struct {
	Explanation *Explanation `json:"explanation"`
	Merged      bool         `json:"merged"`
}

func (h *Handler) AddExplanation(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	var in ExplanationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exp, merged, err := h.svc.AddExplanation(c.Request().Context(), t, itemRef(c), in)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	return c.JSON(status, explanationResponse{Explanation: exp, Merged: merged})
}

func (h *Handler) UpdateExplanation(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	var p ExplanationPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exp, err := h.svc.UpdateExplanation(c.Request().Context(), t, itemRef(c), c.Param("eid"), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, explanationResponse{Explanation: exp})
}

func (h *Handler) DeleteExplanation(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.svc.DeleteExplanation(c.Request().Context(), t, itemRef(c), c.Param("eid")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

func (h *Handler) ListCategories(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	names, err := h.svc.ListCategories(c.Request().Context(), t, orgOf(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, categoriesResponse{Categories: names})
}

type categoryMutation struct {
	Op      CategoryOp `json:"op"`
	Name    string     `json:"name"`
	NewName string     `json:"newName"`
}

func (h *Handler) MutateCategories(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	var in categoryMutation
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	names, err := h.svc.MutateCategories(c.Request().Context(), t, orgOf(c), in.Op, in.Name, in.NewName)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, categoriesResponse{Categories: names})
}

type thesaurusResponse struct {
	Items []*ThesaurusEntry `json:"items"`
}

func (h *Handler) ListThesaurus(c echo.Context) error {
	items, err := h.svc.ListThesaurus(c.Request().Context(), ThesaurusFilter{
		Normalized: c.QueryParam("normalized"),
		Term:       c.QueryParam("term"),
		Context:    c.QueryParam("context"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, thesaurusResponse{Items: items})
}

func (h *Handler) UpsertThesaurus(c echo.Context) error {
	var in ThesaurusInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.UpsertThesaurus(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Export(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return respondError(c, err)
	}
	format, err := ParseExportFormat(c.QueryParam("format"))
	if err != nil {
		return respondError(c, err)
	}
	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), t, orgOf(c), format, &buf); err != nil {
		return respondError(c, err)
	}
	if format == ExportCSV {
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="master-`+string(t)+`.csv"`)
	}
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}

type migrateRequest struct {
	Types       []Type `json:"types"`
	DryRun      *bool  `json:"dryRun"`
	SampleLimit int    `json:"sampleLimit"`
	BatchSize   int    `json:"batchSize"`
}

// MigrateLegacy runs the legacy sweep. Dry-run is the default.
func (h *Handler) MigrateLegacy(c echo.Context) error {
	var in migrateRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	opts := CleanupOptions{DryRun: true, SampleLimit: in.SampleLimit, BatchSize: in.BatchSize}
	if in.DryRun != nil {
		opts.DryRun = *in.DryRun
	}
	sum, err := h.svc.MigrateLegacy(c.Request().Context(), in.Types, opts)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}
