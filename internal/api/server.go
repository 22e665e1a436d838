package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"listing-desk/internal/apperr"
	"listing-desk/internal/draft"
	"listing-desk/internal/middleware"
	"listing-desk/internal/model"
	"listing-desk/internal/queue"
	"listing-desk/internal/reformat"
	"listing-desk/internal/scheduler"
	"listing-desk/internal/storage"

	"github.com/gin-gonic/gin"
)

// Drafts 草稿编排。
type Drafts interface {
	ValidateStep(ctx context.Context, step int, req draft.Request, origin string) (*model.ListingApplication, error)
	Save(ctx context.Context, req draft.Request) (*model.ListingApplication, error)
	Show(ctx context.Context, reference string, userID *uint) (*model.ListingApplication, error)
	List(ctx context.Context, userID *uint, f draft.Filters) (draft.Page, error)
	ListAll(ctx context.Context, f draft.Filters) (draft.Page, error)
	Edit(ctx context.Context, id uint, req draft.Request) (*model.ListingApplication, error)
	Destroy(ctx context.Context, id uint, userID *uint) error
}

// Submitter 提交草稿。
type Submitter interface {
	Submit(ctx context.Context, reference string, userID *uint) (*model.Property, error)
}

// Store 管理端查询。
type Store interface {
	GetProperty(ctx context.Context, id uint) (*model.Property, error)
	ListJobTracking(ctx context.Context, q storage.JobQuery) ([]model.JobTracking, int64, error)
}

// Dispatcher 投递异步任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, env queue.Envelope) (string, error)
}

// Sweeper 手动触发一次补翻译扫描。
type Sweeper interface {
	RunOnce(ctx context.Context) (scheduler.Result, error)
}

// Deps 是 HTTP 层的依赖，Sweeper 可为 nil。
type Deps struct {
	Drafts      Drafts
	Submissions Submitter
	Store       Store
	Jobs        Dispatcher
	Sweeper     Sweeper
	Auth        *middleware.Authenticator
	Whitelist   []string
	Logger      *slog.Logger
}

type handler struct {
	Deps
	log *slog.Logger
}

// JobPage 任务跟踪分页结果。
type JobPage struct {
	Items    []model.JobTracking `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PerPage  int                 `json:"per_page"`
	LastPage int                 `json:"last_page"`
}

// NewHandler 构造 gin 路由。
func NewHandler(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handler{Deps: deps, log: log}
	auth := deps.Auth

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(log), middleware.RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		respond(c, http.StatusOK, "ok", gin.H{"status": "ok"})
	})

	api := r.Group("/api", middleware.DomainWhitelist(deps.Whitelist))

	apps := api.Group("/listing-applications")
	apps.POST("/steps/:step", auth.OptionalAuth(), h.validateStep)
	apps.POST("", auth.OptionalAuth(), h.save)
	apps.POST("/submit", auth.RequireAuth(), h.submit)
	apps.GET("", auth.RequireAuth(), h.list)
	apps.GET("/:reference", auth.OptionalAuth(), h.show)
	apps.PUT("/:id", auth.RequireAuth(), h.edit)
	apps.DELETE("/:id", auth.RequireAuth(), h.destroy)

	admin := api.Group("/admin", auth.RequireAdmin())
	admin.GET("/listing-applications", h.listAll)
	admin.POST("/properties/:id/reformat", h.reformatProperty)
	admin.POST("/reformat/sweep", h.sweep)
	admin.GET("/jobs", h.listJobs)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Message: "Route not found."})
	})
	return r
}

func (h *handler) validateStep(c *gin.Context) {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		respondError(c, h.log, apperr.NewValidationError(map[string]string{"step": "The step must be an integer."}))
		return
	}
	req, err := h.draftRequest(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	app, err := h.Drafts.ValidateStep(c.Request.Context(), step, req, middleware.Origin(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, fmt.Sprintf("Step %d validated.", step), app)
}

func (h *handler) save(c *gin.Context) {
	req, err := h.draftRequest(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	app, err := h.Drafts.Save(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Listing application saved.", app)
}

func (h *handler) submit(c *gin.Context) {
	payload, _, err := parsePayload(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	ref, _ := draft.NormalizeKeys(payload)["reference_id"].(string)
	if ref == "" {
		respondError(c, h.log, apperr.NewValidationError(map[string]string{"reference_id": "The reference id field is required."}))
		return
	}
	property, err := h.Submissions.Submit(c.Request.Context(), ref, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, "Listing application submitted.", property)
}

func (h *handler) list(c *gin.Context) {
	page, err := h.Drafts.List(c.Request.Context(), middleware.UserID(c), filters(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Listing applications retrieved.", page)
}

func (h *handler) listAll(c *gin.Context) {
	page, err := h.Drafts.ListAll(c.Request.Context(), filters(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Listing applications retrieved.", page)
}

func (h *handler) show(c *gin.Context) {
	app, err := h.Drafts.Show(c.Request.Context(), c.Param("reference"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Listing application retrieved.", app)
}

func (h *handler) edit(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	req, err := h.draftRequest(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	app, err := h.Drafts.Edit(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Listing application updated.", app)
}

func (h *handler) destroy(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.Drafts.Destroy(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Listing application deleted.", nil)
}

func (h *handler) reformatProperty(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if _, err := h.Store.GetProperty(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	jobID, err := h.Jobs.Dispatch(c.Request.Context(), reformat.NewEnvelope(id))
	if err != nil {
		respondError(c, h.log, fmt.Errorf("dispatch reformat for property %d: %w", id, err))
		return
	}
	respond(c, http.StatusAccepted, "Reformat job queued.", gin.H{"job_id": jobID, "property_id": id})
}

func (h *handler) sweep(c *gin.Context) {
	if h.Sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, envelope{Message: "Reformat sweep disabled."})
		return
	}
	res, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if res.Busy {
		c.JSON(http.StatusConflict, envelope{Message: "A reformat sweep is already running.", Data: res})
		return
	}
	respond(c, http.StatusOK, "Reformat sweep finished.", res)
}

func (h *handler) listJobs(c *gin.Context) {
	q := storage.JobQuery{
		Status:     model.JobStatus(c.Query("status")),
		JobClass:   c.Query("job_class"),
		EntityType: c.Query("entity_type"),
		Page:       queryInt(c, "page"),
		PerPage:    queryInt(c, "per_page"),
	}
	if v, err := strconv.ParseUint(c.Query("entity_id"), 10, 64); err == nil {
		id := uint(v)
		q.EntityID = &id
	}
	page, perPage := pageBounds(q.Page, q.PerPage, storage.DefaultDraftPerPage)
	q.Page, q.PerPage = page, perPage

	rows, total, err := h.Store.ListJobTracking(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if rows == nil {
		rows = []model.JobTracking{}
	}
	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}
	respond(c, http.StatusOK, "Jobs retrieved.", JobPage{Items: rows, Total: total, Page: page, PerPage: perPage, LastPage: last})
}

func (h *handler) draftRequest(c *gin.Context) (draft.Request, error) {
	payload, files, err := parsePayload(c)
	if err != nil {
		return draft.Request{}, err
	}
	return draft.Request{Payload: payload, Files: files, UserID: middleware.UserID(c)}, nil
}

func filters(c *gin.Context) draft.Filters {
	return draft.Filters{
		City:      c.Query("city"),
		Search:    c.Query("search"),
		Reference: c.Query("reference"),
		Page:      queryInt(c, "page"),
		PerPage:   queryInt(c, "per_page"),
	}
}

func pageBounds(page, perPage, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = def
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
