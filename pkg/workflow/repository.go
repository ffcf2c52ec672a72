// Package workflow validates workflow graphs and stores them.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Repository struct {
	persistence persistence.Persistence
	validator   *Validator
}

func NewRepository(persistence persistence.Persistence, validator *Validator) *Repository {
	return &Repository{
		persistence: persistence,
		validator:   validator,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := r.persistence.WorkflowRepository().Workflows(ctx)
	if err != nil {
		return make([]*models.Workflow, 0), err
	}

	return workflows, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.persistence.WorkflowRepository().WorkflowByID(ctx, id)
}

// Create stores workflow, assigning an id when it has none. The validation
// outcome is recorded on the workflow and an invalid workflow is still stored,
// so its errors can be inspected. Runs of it are refused.
func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	r.own(workflow)

	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	_ = r.validator.Validate(workflow)

	err := r.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := r.persistence.WorkflowRepository().WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now()

	r.own(workflow)
	_ = r.validator.Validate(workflow)

	err = r.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.persistence.WorkflowRepository().WorkflowByID(ctx, id)
	if err != nil {
		return err
	}

	return r.persistence.WorkflowRepository().DeleteWorkflow(ctx, id)
}

// own stamps the workflow id on every owned element.
func (r *Repository) own(workflow *models.Workflow) {
	for _, action := range workflow.Actions {
		if action != nil {
			action.WorkflowID = workflow.ID
		}
	}

	for _, branch := range workflow.Branches {
		if branch != nil {
			branch.WorkflowID = workflow.ID
		}
	}

	for _, trigger := range workflow.Triggers {
		if trigger != nil {
			trigger.WorkflowID = workflow.ID
		}
	}
}

// LoadFile decodes a workflow from a JSON or YAML file, chosen by extension.
func LoadFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return DecodeJSON(data)
	}
}

func DecodeJSON(data []byte) (*models.Workflow, error) {
	var workflow models.Workflow

	err := json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}

	return &workflow, nil
}

// DecodeYAML accepts the JSON field names written as YAML.
func DecodeYAML(data []byte) (*models.Workflow, error) {
	var document any

	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML workflow: %w", err)
	}

	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML workflow: %w", err)
	}

	return DecodeJSON(encoded)
}
