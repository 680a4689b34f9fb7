package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nexocrm/flowd/pkg/events"
	"github.com/nexocrm/flowd/pkg/eventbus"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/schedule"
)

// Definition is the authoring service for workflow definitions. Drafts are
// editable; publishing freezes the step graph and archives the previously
// active version.
type Definition struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	validate    *validator.Validate
}

func NewDefinition(p persistence.Persistence, eventBus eventbus.EventPublisher) *Definition {
	return &Definition{
		persistence: p,
		eventBus:    eventBus,
		validate:    validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateDraft validates and stores a new draft definition.
func (s *Definition) CreateDraft(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrDefinitionNil
	}

	definition.Status = models.WorkflowStatusDraft
	if definition.Version == 0 {
		definition.Version = 1
	}

	err := s.validateDefinition(definition)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return definition, nil
}

// UpdateDraft replaces the mutable fields of an existing draft. Published
// and archived definitions are immutable.
func (s *Definition) UpdateDraft(ctx context.Context, id string, updated *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if updated == nil {
		return nil, ErrDefinitionNil
	}

	existing, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch existing.Status {
	case models.WorkflowStatusActive:
		return nil, ErrCannotModifyPublished
	case models.WorkflowStatusArchived:
		return nil, ErrCannotModifyArchived
	}

	existing.Name = updated.Name
	existing.Description = updated.Description
	existing.Steps = updated.Steps

	err = s.validateDefinition(existing)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Definitions().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return existing, nil
}

func (s *Definition) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().GetByID(ctx, id)
}

func (s *Definition) List(ctx context.Context, opts persistence.ListDefinitionsOptions) ([]*models.WorkflowDefinition, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	if opts.Limit > 100 {
		opts.Limit = 100
	}

	return s.persistence.Definitions().List(ctx, opts)
}

// Publish re-validates the full graph and promotes the draft. The step
// graph has to be runnable from here on, so dangling references that are
// tolerable in a draft are rejected now.
func (s *Definition) Publish(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.validateDefinition(definition)
	if err != nil {
		return nil, err
	}

	previousID := s.activeDefinitionID(ctx, definition.OrganizationID, definition.Name)

	published, err := s.persistence.Definitions().Publish(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, published.ID, events.WorkflowPublished{
		BaseEvent:  s.baseEvent(events.WorkflowPublishedEvent, published.ID),
		Version:    published.Version,
		PreviousID: previousID,
	})

	return published, nil
}

// activeDefinitionID finds the currently active version for an org and
// name, if any. Used to link a publish event to the version it replaces.
func (s *Definition) activeDefinitionID(ctx context.Context, organizationID, name string) string {
	activeStatus := models.WorkflowStatusActive

	active, err := s.persistence.Definitions().List(ctx, persistence.ListDefinitionsOptions{
		OrganizationID: organizationID,
		Name:           name,
		Status:         &activeStatus,
		Limit:          1,
	})
	if err != nil || len(active) == 0 {
		return ""
	}

	return active[0].ID
}

// NewVersion clones the active definition into an editable draft with the
// next version number.
func (s *Definition) NewVersion(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().CreateDraftFromActive(ctx, id)
}

func (s *Definition) Archive(ctx context.Context, id string) error {
	err := s.persistence.Definitions().Archive(ctx, id)
	if err != nil {
		return err
	}

	archived, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return err
	}

	s.publish(ctx, id, events.WorkflowArchived{
		BaseEvent: s.baseEvent(events.WorkflowArchivedEvent, id),
		Version:   archived.Version,
	})

	return nil
}

func (s *Definition) baseEvent(eventType events.EventType, definitionID string) events.BaseEvent {
	return events.BaseEvent{
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		DefinitionID: definitionID,
	}
}

func (s *Definition) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	// Lifecycle events are advisory; the state change already committed.
	_ = s.eventBus.Publish(ctx, key, event)
}

func (s *Definition) validateDefinition(definition *models.WorkflowDefinition) error {
	if definition.OrganizationID == "" {
		return ErrEmptyOrganizationID
	}

	if definition.Name == "" {
		return ErrNameRequired
	}

	err := s.validate.Struct(definition)
	if err != nil {
		return NewValidationError("validateDefinition", "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	return validateStepGraph(definition)
}

func validateStepGraph(definition *models.WorkflowDefinition) error {
	if len(definition.Steps) == 0 {
		return ErrStepsRequired
	}

	trigger := definition.TriggerStep()
	if trigger == nil {
		return ErrTriggerStepRequired
	}

	orders := make(map[int]bool, len(definition.Steps))
	slugs := make(map[string]bool, len(definition.Steps))

	for _, step := range definition.Steps {
		if orders[step.Order] {
			return NewValidationError("validateStepGraph", "DUPLICATE_ORDER",
				fmt.Sprintf("step order %d appears more than once", step.Order), ErrDuplicateStepOrder)
		}

		orders[step.Order] = true

		if slugs[step.Slug] {
			return NewValidationError("validateStepGraph", "DUPLICATE_SLUG",
				fmt.Sprintf("step slug '%s' appears more than once", step.Slug), ErrDuplicateStepSlug)
		}

		slugs[step.Slug] = true
	}

	for _, step := range definition.Steps {
		for outcome, next := range step.NextSteps {
			if !orders[next] {
				return NewValidationError("validateStepGraph", "DANGLING_NEXT_STEP",
					fmt.Sprintf("step '%s' outcome '%s' points to missing order %d", step.Slug, outcome, next),
					ErrDanglingNextStep)
			}
		}
	}

	if trigger.TriggerType() == models.TriggerTypeScheduled {
		err := schedule.Validate(trigger.Schedule(), trigger.Timezone())
		if err != nil {
			return NewValidationError("validateStepGraph", "INVALID_SCHEDULE",
				err.Error(), ErrInvalidSchedule)
		}
	}

	return nil
}
