package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/probe"
)

// writeProbe answers a test_connection request. Nothing is persisted.
func (s *Server) writeProbe(w http.ResponseWriter, r *http.Request, res probe.Result) {
	if !res.OK {
		s.logger.Info("connection test failed", zap.String("path", r.URL.Path), zap.String("reason", res.Message))
		body := statusMessage(http.StatusRequestTimeout, res.Message)
		body["error"] = "connectivity"
		writeJSON(w, http.StatusRequestTimeout, body)
		return
	}
	writeJSON(w, http.StatusOK, statusMessage(http.StatusOK, res.Message))
}

func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnections(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": http.StatusOK, "data": conns, "count": len(conns)})
}

func (s *Server) CreateConnection(w http.ResponseWriter, r *http.Request) {
	test, err := queryBool(r, "test_connection")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var c models.Connection
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	c.ID = 0
	if err := models.Validate(&c); err != nil {
		s.writeError(w, r, err)
		return
	}

	if test {
		s.writeProbe(w, r, s.prober.Postgres(r.Context(), &c))
		return
	}

	if err := s.store.CreateConnection(r.Context(), &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusCreated, "connection created successfully")
	body["data"] = c.Redacted()
	writeJSON(w, http.StatusCreated, body)
}

// mergeConnection returns in completed with the stored password when in
// leaves it empty.
func (s *Server) mergeConnection(ctx context.Context, id uint, in models.Connection) (*models.Connection, error) {
	current, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := in
	merged.ID = id
	if merged.Password == "" {
		merged.Password = current.Password
	}
	return &merged, nil
}

func (s *Server) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "connection_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	test, err := queryBool(r, "test_connection")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in models.Connection
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	if test {
		merged, err := s.mergeConnection(r.Context(), id, in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := models.Validate(merged); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeProbe(w, r, s.prober.Postgres(r.Context(), merged))
		return
	}

	updated, err := s.store.UpdateConnection(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusOK, "connection updated successfully")
	body["data"] = updated.Redacted()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "connection_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteConnection(r.Context(), id, force); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusMessage(http.StatusOK, "connection deleted successfully"))
}

