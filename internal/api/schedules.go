package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"suiterunner/internal/models"
	"suiterunner/internal/store"
)

// detailRunLimit caps the run history returned with a single schedule
const detailRunLimit = 20

type ScheduleRouter struct {
	ctx    context.Context
	store  *store.Store
	router chi.Router
}

func (s *ScheduleRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.router.ServeHTTP(writer, request)
}

func NewScheduleRouter(ctx context.Context, st *store.Store) *ScheduleRouter {
	r := &ScheduleRouter{
		ctx:    ctx,
		store:  st,
		router: chi.NewRouter(),
	}
	r.router.Get("/", r.ListSchedules)
	r.router.Post("/", r.CreateSchedule)
	r.router.Get("/stats/summary", r.GetStats)
	r.router.Get("/{scheduleID}", r.GetSchedule)
	r.router.Patch("/{scheduleID}", r.UpdateSchedule)
	r.router.Delete("/{scheduleID}", r.DeleteSchedule)
	r.router.Post("/{scheduleID}/run-now", r.RunNow)
	r.router.Post("/{scheduleID}/cancel", r.CancelSchedule)

	return r
}

func (s *ScheduleRouter) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var payload models.CreateScheduleRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	schedule, verr := resolveCreateRequest(&payload, time.Now().UTC())
	if verr != nil {
		writeError(w, http.StatusBadRequest, codeValidation, verr.Message)
		return
	}

	if err := s.store.CreateSchedule(s.ctx, schedule); err != nil {
		storeError(w, err)
		return
	}

	// A run-now creation is flagged so the next dispatch pass claims it
	// regardless of its run time.
	if payload.RunNow {
		if err := s.store.RequestRunNow(s.ctx, schedule.ID, ""); err != nil {
			storeError(w, err)
			return
		}
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("suite_id", schedule.SuiteID).
		Time("run_at", schedule.RunAtUTC).
		Msg("Schedule created")
	serveJson(w, http.StatusCreated, schedule)
}

func (s *ScheduleRouter) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter, verr := listFilterFromQuery(r)
	if verr != nil {
		writeError(w, http.StatusBadRequest, codeValidation, verr.Message)
		return
	}

	list, err := s.store.ListSchedules(s.ctx, *filter)
	if err != nil {
		storeError(w, err)
		return
	}
	serveJson(w, http.StatusOK, list)
}

func (s *ScheduleRouter) GetSchedule(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetScheduleDetail(s.ctx, chi.URLParam(r, "scheduleID"), detailRunLimit)
	if err != nil {
		storeError(w, err)
		return
	}
	serveJson(w, http.StatusOK, detail)
}

func (s *ScheduleRouter) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	var payload models.UpdateScheduleRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}
	if payload.Empty() {
		writeError(w, http.StatusBadRequest, codeValidation, "update carries no changes")
		return
	}

	schedule, err := s.store.GetSchedule(s.ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	// Check the status before the patch is validated, otherwise editing a
	// settled schedule would be rejected for its past run time instead.
	if !schedule.CanUpdate() {
		writeError(w, http.StatusConflict, codeInvalidState,
			"schedule "+id+" is "+string(schedule.Status)+", update rejected")
		return
	}

	if verr := applyUpdate(schedule, &payload, time.Now().UTC()); verr != nil {
		writeError(w, http.StatusBadRequest, codeValidation, verr.Message)
		return
	}

	if err := s.store.UpdateSchedule(s.ctx, schedule); err != nil {
		storeError(w, err)
		return
	}

	log.Info().Str("schedule_id", id).Msg("Schedule updated")
	serveJson(w, http.StatusOK, schedule)
}

func (s *ScheduleRouter) RunNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	// The body is optional, run-now works without notes
	var payload models.RunNowRequest
	if r.ContentLength != 0 {
		if err := readJson(w, r, &payload); err != nil {
			return
		}
	}

	if err := s.store.RequestRunNow(s.ctx, id, payload.Notes); err != nil {
		storeError(w, err)
		return
	}

	schedule, err := s.store.GetSchedule(s.ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	log.Info().Str("schedule_id", id).Msg("Immediate run requested")
	serveJson(w, http.StatusOK, schedule)
}

func (s *ScheduleRouter) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	if err := s.store.CancelSchedule(s.ctx, id); err != nil {
		storeError(w, err)
		return
	}

	schedule, err := s.store.GetSchedule(s.ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	log.Info().Str("schedule_id", id).Msg("Schedule canceled")
	serveJson(w, http.StatusOK, schedule)
}

func (s *ScheduleRouter) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	if err := s.store.DeleteSchedule(s.ctx, id); err != nil {
		storeError(w, err)
		return
	}

	log.Info().Str("schedule_id", id).Msg("Schedule deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *ScheduleRouter) GetStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.store.ScheduleStats(s.ctx, time.Now().UTC())
	if err != nil {
		storeError(w, err)
		return
	}
	serveJson(w, http.StatusOK, stats)
}
