package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"listing-desk/internal/apperr"
	"listing-desk/internal/media"
	"listing-desk/internal/model"
	"listing-desk/internal/queue"
	"listing-desk/internal/reformat"
	"listing-desk/internal/storage"
)

// AbortedMessage 是 Postgres 事务中断时返回给用户的提示。
const AbortedMessage = "Transaction failed, please check that all required fields are filled in."

// 目录名中描述前缀的最大长度。
const folderPrefixLength = 30

// PaymentLinker 创建房源的付款链接。
type PaymentLinker interface {
	CreateFeeLink(ctx context.Context, amount int64, imageURL string) (string, error)
}

// Dispatcher 投递异步任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, env queue.Envelope) (string, error)
}

// Service 将草稿原子地转换为正式房源。
type Service struct {
	store    *storage.Store
	payments PaymentLinker
	jobs     Dispatcher
	locales  []string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService 创建 Service。payments 与 jobs 可为 nil。
func NewService(store *storage.Store, payments PaymentLinker, jobs Dispatcher, locales []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		payments: payments,
		jobs:     jobs,
		locales:  model.EnsureLocales(locales),
		logger:   logger,
		now:      time.Now,
	}
}

// Submit 在单个事务中创建 Property、PersonalData、PropertyData 并删除草稿。
// 草稿必须属于调用者；并发提交时只有一个成功，其余返回 ErrNotFound。
func (s *Service) Submit(ctx context.Context, reference string, userID *uint) (*model.Property, error) {
	if userID == nil {
		return nil, apperr.ErrUnauthorized
	}
	owner := *userID

	var property *model.Property
	err := s.store.Transaction(ctx, func(tx *storage.Store) error {
		app, err := tx.FindDraft(ctx, storage.DraftLookup{Reference: reference, OwnerID: &owner})
		if err != nil {
			return err
		}

		p := &model.Property{
			CreatedBy:     &owner,
			LastUpdatedBy: &owner,
			Status:        model.PropertyStatusPending,
			Interface:     model.InterfaceWeb,
			Folder:        s.folderLabel(app),
		}
		if err := tx.CreateProperty(ctx, p); err != nil {
			return err
		}

		if err := tx.CreatePersonalData(ctx, &model.PersonalData{
			PropertyID: p.ID,
			Name:       app.Name,
			Surname:    app.Surname,
			Email:      app.Email,
			Phone:      app.Phone,
		}); err != nil {
			return err
		}

		data := s.propertyData(app, p.ID)
		data.PaymentLink = s.paymentLink(ctx, app, data)
		if err := tx.CreatePropertyData(ctx, data); err != nil {
			return err
		}

		if err := tx.DeleteDraft(ctx, app.ID); err != nil {
			return err
		}

		loaded, err := tx.GetProperty(ctx, p.ID)
		if err != nil {
			return err
		}
		property = loaded
		return nil
	})
	if err != nil {
		if storage.IsAbortedTransaction(err) {
			return nil, &apperr.TransactionError{Message: AbortedMessage, Cause: err}
		}
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, &apperr.TransactionError{
			Message: apperr.RootCause(err).Error(),
			Cause:   fmt.Errorf("submit listing application %s: %w", reference, err),
		}
	}

	s.logger.InfoContext(ctx, "listing application submitted",
		"reference_id", reference,
		"property_id", property.ID,
		"user_id", owner,
	)
	s.enqueueReformat(ctx, property.ID)
	return property, nil
}

// propertyData 由草稿构造详情，多语言字段按配置语言展开。
func (s *Service) propertyData(app *model.ListingApplication, propertyID uint) *model.PropertyData {
	var rent float64
	if app.Rent != nil {
		rent = *app.Rent
	}
	return &model.PropertyData{
		PropertyID:     propertyID,
		City:           app.City,
		Address:        app.Address,
		Postcode:       app.Postcode,
		Size:           app.Size,
		Rent:           rent,
		Bills:          s.wrap(app.Bills),
		Flatmates:      s.wrap(app.Flatmates),
		Period:         s.wrap(app.Period),
		Description:    s.wrap(app.Description),
		Title:          model.PlainText(model.DefaultTitle).Wrap(s.locales),
		Images:         media.JoinImages(media.SplitImages(app.Images)),
		Registration:   app.Registration,
		PetsAllowed:    app.PetsAllowed,
		SmokingAllowed: app.SmokingAllowed,
		Type:           app.Type,
		FurnishedType:  app.FurnishedType,
		SharedSpace:    app.SharedSpace,
		Bathrooms:      app.Bathrooms,
		Toilets:        app.Toilets,
		Amenities:      app.Amenities,
		AvailableFrom:  app.AvailableFrom,
		AvailableTo:    app.AvailableTo,
	}
}

func (s *Service) wrap(v *model.LocalizedText) model.LocalizedText {
	if v == nil {
		return model.PlainText("").Wrap(s.locales)
	}
	return v.Wrap(s.locales)
}

// paymentLink 租金大于 0 且有图片时创建付款链接，失败只记录日志。
func (s *Service) paymentLink(ctx context.Context, app *model.ListingApplication, data *model.PropertyData) *string {
	if s.payments == nil || data.Rent <= 0 {
		return nil
	}
	image := media.FirstImage(data.Images)
	if image == "" {
		return nil
	}
	link, err := s.payments.CreateFeeLink(ctx, int64(math.Ceil(data.Rent)), image)
	if err != nil {
		s.logger.ErrorContext(ctx, "create payment link failed",
			"reference_id", app.ReferenceID,
			"payment_link_failed", true,
			"err", err,
		)
		return nil
	}
	return &link
}

// folderLabel 返回 {描述前缀 slug}-{unix 时间戳}。
func (s *Service) folderLabel(app *model.ListingApplication) string {
	var desc string
	if app.Description != nil {
		desc = app.Description.English()
	}
	if r := []rune(desc); len(r) > folderPrefixLength {
		desc = string(r[:folderPrefixLength])
	}
	return reformat.Sanitize(desc) + "-" + strconv.FormatInt(s.now().Unix(), 10)
}

func (s *Service) enqueueReformat(ctx context.Context, propertyID uint) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.Dispatch(ctx, reformat.NewEnvelope(propertyID)); err != nil {
		s.logger.WarnContext(ctx, "dispatch reformat job failed", "property_id", propertyID, "err", err)
	}
}
