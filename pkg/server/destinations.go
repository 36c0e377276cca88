package server

import (
	"context"
	"net/http"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/store"
)

// destinationRequest is the body of create and update. The dashboard sends
// connection_id as a string.
type destinationRequest struct {
	ConnectionID    models.FlexID `json:"connection_id"`
	Name            string        `json:"name"`
	EndpointURL     string        `json:"endpoint_url"`
	Region          string        `json:"region"`
	BucketName      string        `json:"bucket_name"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	PathPrefix      string        `json:"path_prefix"`
	UseSSL          *bool         `json:"use_ssl"`
	VerifySSL       *bool         `json:"verify_ssl"`
}

func (req *destinationRequest) destination() models.Destination {
	d := models.Destination{
		ConnectionID:    uint(req.ConnectionID),
		Name:            req.Name,
		EndpointURL:     req.EndpointURL,
		Region:          req.Region,
		BucketName:      req.BucketName,
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		PathPrefix:      req.PathPrefix,
		UseSSL:          true,
		VerifySSL:       true,
	}
	if req.UseSSL != nil {
		d.UseSSL = *req.UseSSL
	}
	if req.VerifySSL != nil {
		d.VerifySSL = *req.VerifySSL
	}
	return d
}

func (s *Server) ListDestinations(w http.ResponseWriter, r *http.Request) {
	var (
		f   store.DestinationFilter
		err error
	)
	if r.URL.Query().Get("connection_id") != "" {
		if f.ConnectionID, err = queryID(r, "connection_id"); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if f.Page, err = queryUint(r, "page", 1); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Limit, err = queryUint(r, "limit", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Page == 0 {
		f.Page = 1
	}

	list, total, err := s.store.ListDestinations(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status": http.StatusOK,
		"data":   list,
		"total":  total,
		"page":   f.Page,
		"limit":  f.Limit,
	})
}

func (s *Server) CreateDestination(w http.ResponseWriter, r *http.Request) {
	test, err := queryBool(r, "test_connection")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req destinationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d := req.destination()
	if err := models.Validate(&d); err != nil {
		s.writeError(w, r, err)
		return
	}

	if test {
		s.writeProbe(w, r, s.prober.S3(r.Context(), &d))
		return
	}

	if err := s.store.CreateDestination(r.Context(), &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusCreated, "backup destination created successfully")
	body["data"] = d.Redacted()
	writeJSON(w, http.StatusCreated, body)
}

// mergeDestination completes in with the stored connection and keys the
// way an update would.
func (s *Server) mergeDestination(ctx context.Context, id uint, in models.Destination) (*models.Destination, error) {
	current, err := s.store.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := in
	merged.ID = id
	if merged.ConnectionID == 0 {
		merged.ConnectionID = current.ConnectionID
	}
	if merged.AccessKeyID == "" {
		merged.AccessKeyID = current.AccessKeyID
	}
	if merged.SecretAccessKey == "" {
		merged.SecretAccessKey = current.SecretAccessKey
	}
	return &merged, nil
}

func (s *Server) UpdateDestination(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "destination_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	test, err := queryBool(r, "test_connection")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req destinationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if test {
		merged, err := s.mergeDestination(r.Context(), id, req.destination())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := models.Validate(merged); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeProbe(w, r, s.prober.S3(r.Context(), merged))
		return
	}

	updated, err := s.store.UpdateDestination(r.Context(), id, req.destination())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := statusMessage(http.StatusOK, "backup destination updated successfully")
	body["data"] = updated.Redacted()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) DeleteDestination(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "destination_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteDestination(r.Context(), id, force); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusMessage(http.StatusOK, "backup destination deleted successfully"))
}
