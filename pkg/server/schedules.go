package server

import (
	"context"
	"net/http"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/scheduler"
)

type scheduleRequest struct {
	ConnectionID  *models.FlexID `json:"connection_id"`
	DestinationID *models.FlexID `json:"destination_id"`
	Schedule      *string        `json:"schedule"`
	Enabled       *bool          `json:"enabled"`
}

func (req *scheduleRequest) update() scheduler.Update {
	var u scheduler.Update
	if req.ConnectionID != nil {
		id := uint(*req.ConnectionID)
		u.ConnectionID = &id
	}
	if req.DestinationID != nil {
		id := uint(*req.DestinationID)
		u.DestinationID = &id
	}
	u.Schedule = req.Schedule
	u.Enabled = req.Enabled
	return u
}

func (s *Server) ListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.scheduler.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": http.StatusOK, "data": list, "count": len(list)})
}

func (s *Server) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in := models.Schedule{Enabled: true}
	if req.ConnectionID != nil {
		in.ConnectionID = uint(*req.ConnectionID)
	}
	if req.DestinationID != nil {
		in.DestinationID = uint(*req.DestinationID)
	}
	if req.Schedule != nil {
		in.Schedule = *req.Schedule
	}
	if req.Enabled != nil {
		in.Enabled = *req.Enabled
	}

	sc, err := s.scheduler.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusCreated, "schedule created successfully")
	body["data"] = sc
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "schedule_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.scheduler.Update(r.Context(), id, req.update())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusOK, "schedule updated successfully")
	body["data"] = sc
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "schedule_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusMessage(http.StatusOK, "schedule deleted successfully"))
}

func (s *Server) EnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, s.scheduler.Enable, "schedule enabled")
}

func (s *Server) DisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, s.scheduler.Disable, "schedule disabled")
}

func (s *Server) toggleSchedule(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id uint) (*models.Schedule, error), msg string) {
	id, err := queryID(r, "schedule_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := fn(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusOK, msg)
	body["data"] = sc
	writeJSON(w, http.StatusOK, body)
}
