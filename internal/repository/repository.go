package repository

import (
	"context"

	"suiterunner/internal/models"
)

// Repository is the scheduling-service contract the coordinator depends on.
// Every method may fail with a *DomainError (the service rejected the
// request) or a *TransportError (the service could not be reached); callers
// distinguish the two with the Is helpers in this package.
type Repository interface {
	// Create submits a validated schedule request and returns the stored schedule
	Create(ctx context.Context, req *models.CreateScheduleRequest) (*models.Schedule, error)

	// List returns the filtered, paginated schedules plus the unpaged total
	List(ctx context.Context, filter models.ListFilter) (*models.ScheduleList, error)

	// Get returns one schedule along with its most recent runs
	Get(ctx context.Context, id string) (*models.ScheduleDetail, error)

	// Update modifies a schedule that has not started yet
	Update(ctx context.Context, id string, req *models.UpdateScheduleRequest) (*models.Schedule, error)

	// RunNow asks the engine to execute the schedule immediately
	RunNow(ctx context.Context, id, notes string) (*models.Schedule, error)

	// Cancel stops a schedule that is still waiting to run
	Cancel(ctx context.Context, id string) (*models.Schedule, error)

	// Delete removes the schedule in any state
	Delete(ctx context.Context, id string) error

	// Stats returns the dashboard counters
	Stats(ctx context.Context) (*models.ScheduleStats, error)
}
