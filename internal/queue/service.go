// Package queue manages queues, their settings and service categories.
package queue

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"qms/internal/access"
	"qms/internal/models"
	"qms/internal/outbox"
	"qms/internal/store"
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,4}$`)

type Service struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}
}

type CreateInput struct {
	OrganizationID string
	Name           string
	Settings       *models.QueueSettings
	Totem          *models.TotemSettings
}

// SettingsPatch carries the settings fields to change; nil fields are kept.
type SettingsPatch struct {
	SLAEnabled        *bool
	SLAMaxWaitMinutes *int
	SLAMaxQueueSize   *int
	VoiceEnabled      *bool
	CallTemplate      *string
}

type TotemPatch struct {
	Title             *string
	Message           *string
	ShowEstimatedWait *bool
	AllowPriority     *bool
}

type CategoryInput struct {
	Name                 string
	Color                string
	Prefix               string
	EstimatedWaitMinutes int
	Active               *bool
}

func (s *Service) CreateQueue(ctx context.Context, session models.Session, in CreateInput) (models.Queue, error) {
	name := strings.TrimSpace(in.Name)
	if in.OrganizationID == "" || name == "" {
		return models.Queue{}, store.ErrInvalidInput
	}
	now := s.now().UTC()
	queue := models.Queue{
		QueueID:        uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Name:           name,
		Settings:       models.DefaultQueueSettings(),
		Totem:          models.TotemSettings{Title: name, ShowEstimatedWait: true, AllowPriority: true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Settings != nil {
		queue.Settings = *in.Settings
	}
	if in.Totem != nil {
		queue.Totem = *in.Totem
	}
	if err := validateSettings(queue.Settings); err != nil {
		return models.Queue{}, err
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		if _, err := access.Require(ctx, tx, session, in.OrganizationID, models.RoleAdmin); err != nil {
			return err
		}
		if err := tx.CreateQueue(ctx, queue); err != nil {
			return fmt.Errorf("create queue: %w", err)
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventQueueUpdated, queue, now)
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Service) GetQueue(ctx context.Context, session models.Session, queueID string) (models.Queue, error) {
	var out models.Queue
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = access.Queue(ctx, r, session, queueID, models.RoleAttendant)
		return err
	})
	return out, err
}

func (s *Service) ListQueues(ctx context.Context, session models.Session, organizationID string) ([]models.Queue, error) {
	var out []models.Queue
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Require(ctx, r, session, organizationID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.ListQueues(ctx, organizationID)
		return err
	})
	return out, err
}

func (s *Service) UpdateSettings(ctx context.Context, session models.Session, queueID string, patch SettingsPatch) (models.Queue, error) {
	return s.updateQueue(ctx, session, queueID, func(queue *models.Queue) error {
		settings := queue.Settings
		if patch.SLAEnabled != nil {
			settings.SLAEnabled = *patch.SLAEnabled
		}
		if patch.SLAMaxWaitMinutes != nil {
			settings.SLAMaxWaitMinutes = *patch.SLAMaxWaitMinutes
		}
		if patch.SLAMaxQueueSize != nil {
			settings.SLAMaxQueueSize = *patch.SLAMaxQueueSize
		}
		if patch.VoiceEnabled != nil {
			settings.VoiceEnabled = *patch.VoiceEnabled
		}
		if patch.CallTemplate != nil {
			settings.CallTemplate = strings.TrimSpace(*patch.CallTemplate)
		}
		if err := validateSettings(settings); err != nil {
			return err
		}
		queue.Settings = settings
		return nil
	})
}

func (s *Service) UpdateTotem(ctx context.Context, session models.Session, queueID string, patch TotemPatch) (models.Queue, error) {
	return s.updateQueue(ctx, session, queueID, func(queue *models.Queue) error {
		if patch.Title != nil {
			queue.Totem.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Message != nil {
			queue.Totem.Message = strings.TrimSpace(*patch.Message)
		}
		if patch.ShowEstimatedWait != nil {
			queue.Totem.ShowEstimatedWait = *patch.ShowEstimatedWait
		}
		if patch.AllowPriority != nil {
			queue.Totem.AllowPriority = *patch.AllowPriority
		}
		return nil
	})
}

func (s *Service) Rename(ctx context.Context, session models.Session, queueID, name string) (models.Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Queue{}, store.ErrInvalidInput
	}
	return s.updateQueue(ctx, session, queueID, func(queue *models.Queue) error {
		queue.Name = name
		return nil
	})
}

func (s *Service) updateQueue(ctx context.Context, session models.Session, queueID string, apply func(queue *models.Queue) error) (models.Queue, error) {
	var queue models.Queue
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		var err error
		queue, err = access.Queue(ctx, tx, session, queueID, models.RoleAdmin)
		if err != nil {
			return err
		}
		if err := apply(&queue); err != nil {
			return err
		}
		queue.UpdatedAt = s.now().UTC()
		if err := tx.UpdateQueue(ctx, queue); err != nil {
			return fmt.Errorf("update queue: %w", err)
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventQueueUpdated, queue, queue.UpdatedAt)
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Service) CreateCategory(ctx context.Context, session models.Session, queueID string, in CategoryInput) (models.ServiceCategory, error) {
	category := models.ServiceCategory{
		CategoryID:           uuid.NewString(),
		QueueID:              queueID,
		Name:                 strings.TrimSpace(in.Name),
		Color:                strings.TrimSpace(in.Color),
		Prefix:               strings.ToUpper(strings.TrimSpace(in.Prefix)),
		EstimatedWaitMinutes: in.EstimatedWaitMinutes,
		Active:               true,
		CreatedAt:            s.now().UTC(),
	}
	if in.Active != nil {
		category.Active = *in.Active
	}
	if err := validateCategory(category); err != nil {
		return models.ServiceCategory{}, err
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if _, err := access.Queue(ctx, tx, session, queueID, models.RoleAdmin); err != nil {
			return err
		}
		return tx.CreateCategory(ctx, category)
	})
	if err != nil {
		return models.ServiceCategory{}, err
	}
	return category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, session models.Session, queueID, categoryID string, in CategoryInput) (models.ServiceCategory, error) {
	var category models.ServiceCategory
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if _, err := access.Queue(ctx, tx, session, queueID, models.RoleAdmin); err != nil {
			return err
		}
		var err error
		category, err = tx.GetCategory(ctx, queueID, categoryID)
		if err != nil {
			return err
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			category.Name = name
		}
		if color := strings.TrimSpace(in.Color); color != "" {
			category.Color = color
		}
		if prefix := strings.TrimSpace(in.Prefix); prefix != "" {
			category.Prefix = strings.ToUpper(prefix)
		}
		if in.EstimatedWaitMinutes > 0 {
			category.EstimatedWaitMinutes = in.EstimatedWaitMinutes
		}
		if in.Active != nil {
			category.Active = *in.Active
		}
		if err := validateCategory(category); err != nil {
			return err
		}
		return tx.UpdateCategory(ctx, category)
	})
	if err != nil {
		return models.ServiceCategory{}, err
	}
	return category, nil
}

// ListCategories is public so the totem can render its buttons.
func (s *Service) ListCategories(ctx context.Context, queueID string, activeOnly bool) ([]models.ServiceCategory, error) {
	var out []models.ServiceCategory
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := r.GetQueue(ctx, queueID); err != nil {
			return err
		}
		categories, err := r.ListCategories(ctx, queueID)
		if err != nil {
			return err
		}
		for _, category := range categories {
			if activeOnly && !category.Active {
				continue
			}
			out = append(out, category)
		}
		return nil
	})
	return out, err
}

// Totem returns what the public totem needs to render a queue.
func (s *Service) Totem(ctx context.Context, queueID string) (models.Queue, error) {
	var out models.Queue
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.GetQueue(ctx, queueID)
		return err
	})
	if err != nil {
		return models.Queue{}, err
	}
	return models.Queue{QueueID: out.QueueID, Name: out.Name, Totem: out.Totem}, nil
}

// RenderCall fills the queue's call template for a voice or screen announcement.
func RenderCall(settings models.QueueSettings, ticketCode, counterName string) string {
	template := settings.CallTemplate
	if template == "" {
		template = models.DefaultCallTemplate
	}
	return strings.NewReplacer("{code}", ticketCode, "{counter}", counterName).Replace(template)
}

func validateSettings(settings models.QueueSettings) error {
	if settings.SLAMaxWaitMinutes < 0 || settings.SLAMaxQueueSize < 0 {
		return fmt.Errorf("%w: sla limits must not be negative", store.ErrInvalidInput)
	}
	if settings.SLAEnabled && settings.SLAMaxWaitMinutes == 0 && settings.SLAMaxQueueSize == 0 {
		return fmt.Errorf("%w: sla enabled without limits", store.ErrInvalidInput)
	}
	return nil
}

func validateCategory(category models.ServiceCategory) error {
	if category.Name == "" {
		return fmt.Errorf("%w: category name required", store.ErrInvalidInput)
	}
	if !prefixPattern.MatchString(category.Prefix) {
		return fmt.Errorf("%w: prefix must be 1-4 letters or digits", store.ErrInvalidInput)
	}
	if category.EstimatedWaitMinutes < 0 {
		return fmt.Errorf("%w: estimated wait must not be negative", store.ErrInvalidInput)
	}
	return nil
}
