package scheduler

import "strings"

// Separator joins task names and workflow ids. It is reserved in task names.
const Separator = "-"

func ConstructTaskID(taskName, workflowUID string) string {
	return taskName + Separator + workflowUID
}

// SplitTaskID splits on the first separator and returns exactly two parts.
// Anything after a second separator is dropped, so ids built from
// multi-part UIDs do not round trip: "task-a-b-c" yields ["task", "a"].
func SplitTaskID(taskID string) []string {
	parts := strings.Split(taskID, Separator)
	if len(parts) == 1 {
		return []string{parts[0], ""}
	}

	return parts[:2]
}
