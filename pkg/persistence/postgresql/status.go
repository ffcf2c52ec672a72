package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
)

const actionColumns = `
			execution_id
		  , action_id
		  , attempt
		  , name
		  , app_name
		  , action_name
		  , arguments
		  , result
		  , status
		  , started_at
		  , completed_at
`

// StatusRepository keeps one workflow_status row per execution, one
// action_status row per attempt and an append-only transition log.
type StatusRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStatusRepository(db *sql.DB, logger *slog.Logger) *StatusRepository {
	return &StatusRepository{db: db, logger: logger}
}

func (r *StatusRepository) SaveWorkflowStatus(ctx context.Context, status *models.WorkflowStatus) error {
	query := `
		INSERT INTO workflow_status (execution_id, workflow_id, name, status, error, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		status.ExecutionID,
		status.WorkflowID,
		status.Name,
		string(status.Status),
		status.Error,
		status.StartedAt,
		status.CompletedAt,
		status.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveWorkflowStatus", status.ExecutionID, err)
	}

	return nil
}

const workflowStatusColumns = `execution_id, workflow_id, name, status, error, started_at, completed_at, updated_at`

func (r *StatusRepository) WorkflowStatus(ctx context.Context, executionID string) (*models.WorkflowStatus, error) {
	query := `SELECT ` + workflowStatusColumns + ` FROM workflow_status WHERE execution_id = $1`

	status, err := scanWorkflowStatus(r.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("WorkflowStatus", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow status: %w", err)
	}

	return status, nil
}

func (r *StatusRepository) WorkflowStatusesByState(ctx context.Context, state models.WorkflowState) ([]*models.WorkflowStatus, error) {
	query := `SELECT ` + workflowStatusColumns + ` FROM workflow_status WHERE status = $1 ORDER BY execution_id`

	rows, err := r.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]*models.WorkflowStatus, 0)

	for rows.Next() {
		status, err := scanWorkflowStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow status: %w", err)
		}

		statuses = append(statuses, status)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow statuses: %w", err)
	}

	return statuses, nil
}

func scanWorkflowStatus(row rowScanner) (*models.WorkflowStatus, error) {
	var (
		status      models.WorkflowStatus
		state       string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&status.ExecutionID,
		&status.WorkflowID,
		&status.Name,
		&state,
		&status.Error,
		&startedAt,
		&completedAt,
		&status.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	status.Status = models.WorkflowState(state)
	status.StartedAt = timePtr(startedAt)
	status.CompletedAt = timePtr(completedAt)

	return &status, nil
}

func (r *StatusRepository) SaveActionStatus(ctx context.Context, status *models.ActionStatus) error {
	arguments, err := jsonColumn(status.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	result, err := jsonColumn(status.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		INSERT INTO action_status (execution_id, action_id, attempt, name, app_name, action_name, arguments, result, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id, action_id, attempt) DO UPDATE SET
			arguments = EXCLUDED.arguments,
			result = EXCLUDED.result,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		status.ExecutionID,
		status.ActionID,
		status.Attempt,
		status.Name,
		status.AppName,
		status.ActionName,
		arguments,
		result,
		string(status.Status),
		status.StartedAt,
		status.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveActionStatus", status.ExecutionID, err)
	}

	return nil
}

func (r *StatusRepository) ActionStatus(ctx context.Context, executionID, actionID string, attempt int) (*models.ActionStatus, error) {
	query := `SELECT` + actionColumns + `FROM action_status
		WHERE execution_id = $1 AND action_id = $2 AND attempt = $3`

	status, err := scanAction(r.db.QueryRowContext(ctx, query, executionID, actionID, attempt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ActionStatus", executionID, persistence.ErrActionStatusNotFound)
		}

		return nil, fmt.Errorf("failed to scan action status: %w", err)
	}

	return status, nil
}

// ActionStatuses returns every attempt of the execution ordered by start time.
func (r *StatusRepository) ActionStatuses(ctx context.Context, executionID string) ([]*models.ActionStatus, error) {
	query := `SELECT` + actionColumns + `FROM action_status
		WHERE execution_id = $1
		ORDER BY started_at, attempt`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action statuses: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	statuses := make([]*models.ActionStatus, 0)

	for rows.Next() {
		status, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action status: %w", err)
		}

		statuses = append(statuses, status)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating action statuses: %w", err)
	}

	return statuses, nil
}

func (r *StatusRepository) AppendTransition(ctx context.Context, transition *models.StatusTransition) error {
	query := `
		INSERT INTO workflow_status_transitions (execution_id, action_id, attempt, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		transition.ExecutionID,
		transition.ActionID,
		transition.Attempt,
		transition.From,
		transition.To,
		transition.Reason,
		transition.At,
	)
	if err != nil {
		return persistence.NewExecutionError("AppendTransition", transition.ExecutionID, err)
	}

	return nil
}

// Transitions returns the transition log of the execution in append order.
func (r *StatusRepository) Transitions(ctx context.Context, executionID string) ([]*models.StatusTransition, error) {
	query := `
		SELECT execution_id, action_id, attempt, from_status, to_status, reason, at
		FROM workflow_status_transitions
		WHERE execution_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	transitions := make([]*models.StatusTransition, 0)

	for rows.Next() {
		var transition models.StatusTransition

		err := rows.Scan(
			&transition.ExecutionID,
			&transition.ActionID,
			&transition.Attempt,
			&transition.From,
			&transition.To,
			&transition.Reason,
			&transition.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		transitions = append(transitions, &transition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

func scanAction(row rowScanner) (*models.ActionStatus, error) {
	var (
		status      models.ActionStatus
		state       string
		arguments   []byte
		result      []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&status.ExecutionID,
		&status.ActionID,
		&status.Attempt,
		&status.Name,
		&status.AppName,
		&status.ActionName,
		&arguments,
		&result,
		&state,
		&status.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if arguments != nil {
		err = json.Unmarshal(arguments, &status.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}

	if result != nil {
		err = json.Unmarshal(result, &status.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	status.Status = models.ActionState(state)
	status.CompletedAt = timePtr(completedAt)

	return &status, nil
}

// jsonColumn encodes value for a nullable JSONB column. A nil value is bound as SQL NULL.
func jsonColumn(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return encoded, nil
}
