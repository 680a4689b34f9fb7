package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

type definitionRepository struct {
	p *Persistence
}

func (r *definitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return &persistence.DefinitionError{Op: "Save", Err: err}
		}

		definition.ID = id.String()
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	r.p.definitions[definition.ID] = cloneDefinition(definition)

	return nil
}

func (r *definitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	definition, ok := r.p.definitions[id]
	if !ok {
		return nil, &persistence.DefinitionError{Op: "GetByID", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
	}

	return cloneDefinition(definition), nil
}

func (r *definitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) ([]*models.WorkflowDefinition, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	matches := make([]*models.WorkflowDefinition, 0)

	for _, definition := range r.p.definitions {
		if opts.OrganizationID != "" && definition.OrganizationID != opts.OrganizationID {
			continue
		}

		if opts.Name != "" && definition.Name != opts.Name {
			continue
		}

		if opts.Status != nil && definition.Status != *opts.Status {
			continue
		}

		matches = append(matches, cloneDefinition(definition))
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}

		return matches[i].ID > matches[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			return []*models.WorkflowDefinition{}, nil
		}

		matches = matches[opts.Offset:]
	}

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	return matches, nil
}

func (r *definitionRepository) EachScheduled(ctx context.Context, batchSize int, fn func(*models.WorkflowDefinition) error) error {
	// Snapshot matching IDs first so fn runs without the store lock held.
	r.p.mu.Lock()

	scheduled := make([]*models.WorkflowDefinition, 0)

	for _, definition := range r.p.definitions {
		if definition.IsScheduled() {
			scheduled = append(scheduled, cloneDefinition(definition))
		}
	}

	r.p.mu.Unlock()

	sort.Slice(scheduled, func(i, j int) bool { return scheduled[i].ID < scheduled[j].ID })

	for _, definition := range scheduled {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(definition); err != nil {
			return err
		}
	}

	return nil
}

func (r *definitionRepository) Publish(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	draft, ok := r.p.definitions[id]
	if !ok {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
	}

	if draft.Status != models.WorkflowStatusDraft {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: persistence.ErrNotDraft}
	}

	now := time.Now().UTC()

	// Archive the previously active version of the same name, atomically
	// with the draft becoming active.
	for _, other := range r.p.definitions {
		if other.ID != draft.ID &&
			other.OrganizationID == draft.OrganizationID &&
			other.Name == draft.Name &&
			other.Status == models.WorkflowStatusActive {
			other.Status = models.WorkflowStatusArchived
			archived := now
			other.ArchivedAt = &archived
			other.UpdatedAt = now
		}
	}

	draft.Status = models.WorkflowStatusActive
	published := now
	draft.PublishedAt = &published
	draft.UpdatedAt = now

	return cloneDefinition(draft), nil
}

func (r *definitionRepository) CreateDraftFromActive(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	active, ok := r.p.definitions[id]
	if !ok {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
	}

	if active.Status != models.WorkflowStatusActive {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: persistence.ErrNotActive}
	}

	nextVersion := active.Version
	for _, other := range r.p.definitions {
		if other.OrganizationID == active.OrganizationID && other.Name == active.Name && other.Version > nextVersion {
			nextVersion = other.Version
		}
	}

	draftID, err := uuid.NewV7()
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	now := time.Now().UTC()

	draft := cloneDefinition(active)
	draft.ID = draftID.String()
	draft.Version = nextVersion + 1
	draft.Status = models.WorkflowStatusDraft
	draft.PublishedAt = nil
	draft.ArchivedAt = nil
	draft.CreatedAt = now
	draft.UpdatedAt = now

	for _, step := range draft.Steps {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
		}

		step.ID = stepID.String()
	}

	r.p.definitions[draft.ID] = draft

	return cloneDefinition(draft), nil
}

func (r *definitionRepository) Archive(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	definition, ok := r.p.definitions[id]
	if !ok {
		return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
	}

	if definition.Status != models.WorkflowStatusActive {
		return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: persistence.ErrNotActive}
	}

	now := time.Now().UTC()
	definition.Status = models.WorkflowStatusArchived
	definition.ArchivedAt = &now
	definition.UpdatedAt = now

	return nil
}
