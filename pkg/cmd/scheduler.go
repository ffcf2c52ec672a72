package cmd

import (
	"github.com/dukex/orchestron/pkg/config"
	"github.com/dukex/orchestron/pkg/scheduler"
)

// ScheduleWorkflows registers every configured schedule and returns the task ids.
func ScheduleWorkflows(s *scheduler.Scheduler, cfg config.SchedulerConfig) ([]string, error) {
	var taskIDs []string

	for _, schedule := range cfg.Schedules {
		trigger, err := scheduler.ConstructSchedulerIn(
			scheduler.Spec{Type: schedule.Type, Args: schedule.Args},
			s.Location(),
		)
		if err != nil {
			return nil, err
		}

		taskIDs = append(taskIDs, s.ScheduleWorkflows(schedule.Task, schedule.WorkflowIDs, trigger)...)
	}

	return taskIDs, nil
}
