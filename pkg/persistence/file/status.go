package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
)

// StatusRepository keeps one directory per execution:
// status.json, actions/<action>@<attempt>.json and transitions.jsonl.
type StatusRepository struct {
	root string
	mu   sync.RWMutex
}

func NewStatusRepository(root string) *StatusRepository {
	return &StatusRepository{root: root}
}

func (sr *StatusRepository) executionDir(executionID string) string {
	return filepath.Join(sr.root, "executions", executionID)
}

func (sr *StatusRepository) SaveWorkflowStatus(_ context.Context, status *models.WorkflowStatus) error {
	err := validateID(status.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("SaveWorkflowStatus", status.ExecutionID, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	return writeJSON(filepath.Join(sr.executionDir(status.ExecutionID), "status.json"), status)
}

func (sr *StatusRepository) WorkflowStatus(_ context.Context, executionID string) (*models.WorkflowStatus, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("WorkflowStatus", executionID, err)
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	var status models.WorkflowStatus

	err = readJSON(filepath.Join(sr.executionDir(executionID), "status.json"), &status)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("WorkflowStatus", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, err
	}

	return &status, nil
}

func actionFile(actionID string, attempt int) string {
	return actionID + "@" + strconv.Itoa(attempt) + ".json"
}

func (sr *StatusRepository) SaveActionStatus(_ context.Context, status *models.ActionStatus) error {
	err := validateID(status.ExecutionID)
	if err == nil {
		err = validateID(status.ActionID)
	}

	if err != nil {
		return persistence.NewExecutionError("SaveActionStatus", status.ExecutionID, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	return writeJSON(filepath.Join(sr.executionDir(status.ExecutionID), "actions", actionFile(status.ActionID, status.Attempt)), status)
}

func (sr *StatusRepository) ActionStatus(_ context.Context, executionID, actionID string, attempt int) (*models.ActionStatus, error) {
	err := validateID(executionID)
	if err == nil {
		err = validateID(actionID)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ActionStatus", executionID, err)
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	var status models.ActionStatus

	err = readJSON(filepath.Join(sr.executionDir(executionID), "actions", actionFile(actionID, attempt)), &status)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ActionStatus", executionID, persistence.ErrActionStatusNotFound)
		}

		return nil, err
	}

	return &status, nil
}

// WorkflowStatusesByState scans every execution directory for records in state.
func (sr *StatusRepository) WorkflowStatusesByState(_ context.Context, state models.WorkflowState) ([]*models.WorkflowStatus, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(sr.root, "executions"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowStatus{}, nil
		}

		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	statuses := make([]*models.WorkflowStatus, 0)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		var status models.WorkflowStatus

		err := readJSON(filepath.Join(sr.executionDir(entry.Name()), "status.json"), &status)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, err
		}

		if status.Status == state {
			statuses = append(statuses, &status)
		}
	}

	return statuses, nil
}

// ActionStatuses returns every attempt of the execution ordered by start time.
func (sr *StatusRepository) ActionStatuses(_ context.Context, executionID string) ([]*models.ActionStatus, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("ActionStatuses", executionID, err)
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	dir := filepath.Join(sr.executionDir(executionID), "actions")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.ActionStatus{}, nil
		}

		return nil, fmt.Errorf("failed to list action statuses: %w", err)
	}

	statuses := make([]*models.ActionStatus, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var status models.ActionStatus

		err := readJSON(filepath.Join(dir, entry.Name()), &status)
		if err != nil {
			return nil, err
		}

		statuses = append(statuses, &status)
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].StartedAt.Equal(statuses[j].StartedAt) {
			return statuses[i].Attempt < statuses[j].Attempt
		}

		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})

	return statuses, nil
}

func (sr *StatusRepository) AppendTransition(_ context.Context, transition *models.StatusTransition) error {
	err := validateID(transition.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("AppendTransition", transition.ExecutionID, err)
	}

	line, err := json.Marshal(transition)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	dir := sr.executionDir(transition.ExecutionID)

	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "transitions.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transition log: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}

	return nil
}

func (sr *StatusRepository) Transitions(_ context.Context, executionID string) ([]*models.StatusTransition, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("Transitions", executionID, err)
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	f, err := os.Open(filepath.Join(sr.executionDir(executionID), "transitions.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.StatusTransition{}, nil
		}

		return nil, fmt.Errorf("failed to open transition log: %w", err)
	}
	defer f.Close()

	transitions := make([]*models.StatusTransition, 0)
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		var transition models.StatusTransition

		err := json.Unmarshal(scanner.Bytes(), &transition)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal transition: %w", err)
		}

		transitions = append(transitions, &transition)
	}

	return transitions, scanner.Err()
}

func readJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}
