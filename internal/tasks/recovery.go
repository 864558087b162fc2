package tasks

import (
	"context"
)

// RecoverTasks requeues tasks left mid-pipeline by a crashed or killed daemon.
// Should be called on daemon startup before the poll loop begins.
func RecoverTasks(ctx context.Context, store Store) (int, error) {
	inFlight := []TaskStatus{
		StatusPlanning, StatusCoding, StatusReviewing, StatusTesting, StatusDeploying,
	}

	recovered := 0
	for _, status := range inFlight {
		list, err := store.List(ctx, ListFilter{Status: status})
		if err != nil {
			return recovered, err
		}
		for _, t := range list {
			t.Status = StatusQueued
			t.StartedAt = nil
			t.AppendLog("pipeline", "recovered", map[string]any{
				"reason":          "daemon restart",
				"previous_status": string(status),
			})
			if err := store.Update(ctx, t); err != nil {
				continue
			}
			recovered++
		}
	}
	return recovered, nil
}
