package server

import (
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/Kurdzik/PG-backup-manager/pkg/artifact"
	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/executor"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/store"
)

type backupRequest struct {
	DatabaseID  models.FlexID  `json:"database_id"`
	Destination *models.Target `json:"backup_destination"`
	Filename    string         `json:"backup_filename"`
}

func (req *backupRequest) check(needFilename bool) error {
	if req.DatabaseID == 0 {
		return errs.Validation("database_id is required")
	}
	if req.Destination == nil {
		return errs.Validation("backup_destination is required")
	}
	if needFilename && req.Filename == "" {
		return errs.Validation("backup_filename is required")
	}
	return nil
}

// queryTarget reads the destination from the first of keys that is set.
func queryTarget(r *http.Request, keys ...string) (models.Target, error) {
	for _, k := range keys {
		if v := r.URL.Query().Get(k); v != "" {
			return models.ParseTarget(v)
		}
	}
	return models.Target{}, nil
}

func (s *Server) ListBackups(w http.ResponseWriter, r *http.Request) {
	connID, err := queryID(r, "database_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := queryTarget(r, "backup_destination", "destination")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.catalog.List(r.Context(), connID, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":  statusOK,
		"payload": artifact.Names(list),
		"msg":     "backups listed successfully",
	})
}

func (s *Server) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.check(false); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.executor.Backup(r.Context(), executor.BackupRequest{
		ConnectionID: uint(req.DatabaseID),
		Target:       *req.Destination,
		Trigger:      models.TriggerManual,
	})
	if err != nil {
		s.writeErrorWith(w, r, err, jobFields(res))
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":   statusOK,
		"message":  "backup created successfully (" + humanize.IBytes(uint64(res.Bytes)) + ")",
		"filename": res.Filename,
		"job_id":   res.JobID,
		"bytes":    res.Bytes,
	})
}

func (s *Server) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.check(true); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.executor.Restore(r.Context(), executor.RestoreRequest{
		ConnectionID: uint(req.DatabaseID),
		Target:       *req.Destination,
		Filename:     req.Filename,
		Trigger:      models.TriggerManual,
	})
	if err != nil {
		s.writeErrorWith(w, r, err, jobFields(res))
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":  statusOK,
		"message": "backup " + req.Filename + " restored successfully",
		"job_id":  res.JobID,
	})
}

func (s *Server) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	connID, err := queryID(r, "database_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := queryTarget(r, "destination", "backup_destination")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, r, errs.Validation("filename is required"))
		return
	}
	if err := s.catalog.Delete(r.Context(), connID, target, filename); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": statusOK, "message": "backup " + filename + " deleted successfully"})
}

// BackupHistory lists finished and running jobs, newest first.
func (s *Server) BackupHistory(w http.ResponseWriter, r *http.Request) {
	var (
		f   store.RunFilter
		err error
	)
	if r.URL.Query().Get("database_id") != "" {
		if f.ConnectionID, err = queryID(r, "database_id"); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if f.Limit, err = queryUint(r, "limit", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	runs, err := s.store.ListRuns(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": statusOK, "data": runs})
}

func jobFields(res *executor.Result) envelope {
	if res == nil || res.JobID == "" {
		return nil
	}
	return envelope{"job_id": res.JobID}
}
