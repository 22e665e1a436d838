package draft

import (
	"context"
	"fmt"
	"log/slog"

	"listing-desk/internal/apperr"
	"listing-desk/internal/media"
	"listing-desk/internal/model"
	"listing-desk/internal/storage"
	"listing-desk/internal/validation"

	"github.com/google/uuid"
)

// UploadFolderPrefix 草稿图片的对象存储目录前缀。
const UploadFolderPrefix = "listing-applications"

// Store 抽象草稿存储。
type Store interface {
	CreateDraft(ctx context.Context, app *model.ListingApplication) error
	SaveDraft(ctx context.Context, app *model.ListingApplication) error
	FindDraft(ctx context.Context, lookup storage.DraftLookup) (*model.ListingApplication, error)
	DeleteDraft(ctx context.Context, id uint) error
	ListDrafts(ctx context.Context, q storage.DraftQuery) ([]model.ListingApplication, int64, error)
}

// ImageResolver 合并已有图片与上传文件。
type ImageResolver interface {
	Resolve(ctx context.Context, in media.ResolveInput) (string, bool, error)
}

// StepValidator 按步骤校验字段。
type StepValidator interface {
	Validate(in validation.StepInput) error
}

// Request 是一次保存或编辑的输入，Payload 的键可以是 camelCase 或 snake_case。
type Request struct {
	Payload map[string]any
	Files   []media.File
	UserID  *uint
}

// Filters 列表筛选条件。
type Filters struct {
	City      string
	Search    string
	Reference string
	Page      int
	PerPage   int
}

// Page 分页结果。
type Page struct {
	Items    []model.ListingApplication `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PerPage  int                        `json:"per_page"`
	LastPage int                        `json:"last_page"`
}

// Service 编排草稿的校验、图片处理与持久化。
type Service struct {
	store     Store
	images    ImageResolver
	validator StepValidator
	logger    *slog.Logger
	newRef    func() string
}

// NewService 创建 Service。
func NewService(store Store, images ImageResolver, v StepValidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		images:    images,
		validator: v,
		logger:    logger,
		newRef:    uuid.NewString,
	}
}

// ValidateStep 校验指定步骤，通过后保存并将步骤推进到 min(step+1, 5)。
func (s *Service) ValidateStep(ctx context.Context, step int, req Request, origin string) (*model.ListingApplication, error) {
	fields := NormalizeKeys(req.Payload)
	uploads := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		uploads = append(uploads, f.Name)
	}
	if err := s.validator.Validate(validation.StepInput{Step: step, Fields: fields, Uploads: uploads, Origin: origin}); err != nil {
		return nil, err
	}

	next := step + 1
	if next > model.LastStep {
		next = model.LastStep
	}
	return s.save(ctx, fields, req, &next)
}

// Save 按引用标识更新草稿，未提供引用标识时新建。
func (s *Service) Save(ctx context.Context, req Request) (*model.ListingApplication, error) {
	return s.save(ctx, NormalizeKeys(req.Payload), req, nil)
}

func (s *Service) save(ctx context.Context, fields map[string]any, req Request, stepOverride *int) (*model.ListingApplication, error) {
	ref := referenceOf(fields)

	var (
		app   *model.ListingApplication
		isNew bool
	)
	if ref != "" {
		found, err := s.store.FindDraft(ctx, storage.DraftLookup{Reference: ref, OwnerID: req.UserID, AllowUnowned: true})
		if err != nil {
			return nil, err
		}
		app = found
	} else {
		app = &model.ListingApplication{ReferenceID: s.newRef(), Step: model.FirstStep}
		isNew = true
	}

	if err := s.merge(ctx, app, fields, req.Files); err != nil {
		return nil, err
	}

	// 普通保存不改变 step，只有分步校验和 Edit 可以修改
	if stepOverride != nil {
		app.Step = *stepOverride
	}
	if req.UserID != nil && app.UserID == nil {
		owner := *req.UserID
		app.UserID = &owner
	}

	if isNew {
		if err := s.store.CreateDraft(ctx, app); err != nil {
			return nil, err
		}
	} else if err := s.store.SaveDraft(ctx, app); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "listing application saved",
		"reference_id", app.ReferenceID,
		"step", app.Step,
		"created", isNew,
	)
	return app, nil
}

// merge 写入非 null 字段并处理图片，类型错误以 ValidationError 返回。
func (s *Service) merge(ctx context.Context, app *model.ListingApplication, fields map[string]any, files []media.File) error {
	errs := applyFields(app, fields)
	existing, hasExisting, err := imagesOf(fields)
	if err != nil {
		errs["images"] = fmt.Sprintf("The images field %s.", err)
	}
	if len(errs) > 0 {
		return apperr.NewValidationError(errs)
	}

	if s.images == nil {
		if hasExisting {
			app.Images = media.JoinImages(existing)
		}
		return nil
	}
	images, changed, err := s.images.Resolve(ctx, media.ResolveInput{
		Current:     app.Images,
		Existing:    existing,
		HasExisting: hasExisting,
		Files:       files,
		Folder:      UploadFolderPrefix + "/" + app.ReferenceID,
	})
	if err != nil {
		return fmt.Errorf("resolve images: %w", err)
	}
	if changed {
		app.Images = images
	}
	return nil
}

// Show 按引用标识返回草稿。已登录用户只能看到自己的或匿名草稿，匿名调用仅按引用标识查找。
func (s *Service) Show(ctx context.Context, reference string, userID *uint) (*model.ListingApplication, error) {
	if userID == nil {
		return s.store.FindDraft(ctx, storage.DraftLookup{Reference: reference})
	}
	return s.store.FindDraft(ctx, storage.DraftLookup{Reference: reference, OwnerID: userID, AllowUnowned: true})
}

// List 返回当前用户的草稿。
func (s *Service) List(ctx context.Context, userID *uint, f Filters) (Page, error) {
	if userID == nil {
		return Page{}, apperr.ErrUnauthorized
	}
	return s.list(ctx, userID, f)
}

// ListAll 返回全部草稿，供管理端使用。
func (s *Service) ListAll(ctx context.Context, f Filters) (Page, error) {
	return s.list(ctx, nil, f)
}

func (s *Service) list(ctx context.Context, owner *uint, f Filters) (Page, error) {
	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = storage.DefaultDraftPerPage
	}
	if perPage > 100 {
		perPage = 100
	}
	items, total, err := s.store.ListDrafts(ctx, storage.DraftQuery{
		OwnerID:   owner,
		City:      f.City,
		Search:    f.Search,
		Reference: f.Reference,
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		return Page{}, err
	}
	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}
	if items == nil {
		items = []model.ListingApplication{}
	}
	return Page{Items: items, Total: total, Page: page, PerPage: perPage, LastPage: last}, nil
}

// Edit 按内部 ID 更新当前用户的草稿，规则与 Save 相同。
func (s *Service) Edit(ctx context.Context, id uint, req Request) (*model.ListingApplication, error) {
	if req.UserID == nil {
		return nil, apperr.ErrUnauthorized
	}
	app, err := s.store.FindDraft(ctx, storage.DraftLookup{ID: id, OwnerID: req.UserID})
	if err != nil {
		return nil, err
	}
	fields := NormalizeKeys(req.Payload)
	if err := s.merge(ctx, app, fields, req.Files); err != nil {
		return nil, err
	}
	if step, ok := clientStep(fields); ok {
		app.Step = step
	}
	if err := s.store.SaveDraft(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Destroy 硬删除当前用户的草稿。
func (s *Service) Destroy(ctx context.Context, id uint, userID *uint) error {
	if userID == nil {
		return apperr.ErrUnauthorized
	}
	app, err := s.store.FindDraft(ctx, storage.DraftLookup{ID: id, OwnerID: userID})
	if err != nil {
		return err
	}
	if err := s.store.DeleteDraft(ctx, app.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "listing application deleted", "reference_id", app.ReferenceID, "user_id", *userID)
	return nil
}
