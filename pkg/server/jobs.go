package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/auth"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.executor.Jobs()
	writeJSON(w, http.StatusOK, envelope{"status": http.StatusOK, "data": jobs, "count": len(jobs)})
}

// CancelJob stops a running backup or restore. The job cleans up its
// staging files before it reports the cancellation.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if id == "" {
		s.writeError(w, r, errs.Validation("job_id is required"))
		return
	}
	if err := s.executor.Cancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, _ := auth.UserFromContext(r.Context())
	s.logger.Info("job cancelled", zap.String("job_id", id), zap.String("user", user))
	writeJSON(w, http.StatusOK, statusMessage(http.StatusOK, "job "+id+" cancelled"))
}
