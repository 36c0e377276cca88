package backupapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

const (
	connectionsPath  = "/connections"
	destinationsPath = "/backup-destinations/s3"
	backupPath       = "/backup"
	schedulesPath    = "/schedules"
	jobsPath         = "/jobs"
	usersPath        = "/users"
)

func idQuery(key string, id uint) url.Values {
	return url.Values{key: []string{strconv.FormatUint(uint64(id), 10)}}
}

// ListConnections returns the registered connections without passwords.
func (c *Client) ListConnections(ctx context.Context) ([]models.Connection, error) {
	var out struct {
		Data []models.Connection `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, connectionsPath+"/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateConnection registers conn. With test set the server only probes it.
func (c *Client) CreateConnection(ctx context.Context, conn *models.Connection, test bool) (*models.Connection, error) {
	var q url.Values
	if test {
		q = url.Values{"test_connection": []string{"true"}}
	}
	var out struct {
		Data *models.Connection `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, connectionsPath+"/create", q, conn, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) DeleteConnection(ctx context.Context, id uint, force bool) error {
	q := idQuery("connection_id", id)
	if force {
		q.Set("force", "true")
	}
	return c.call(ctx, http.MethodDelete, connectionsPath+"/delete", q, nil, nil)
}

// DestinationPage is one page of ListDestinations.
type DestinationPage struct {
	Data  []models.Destination `json:"data"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// ListDestinations returns the destinations of connectionID, or all of them
// when it is zero.
func (c *Client) ListDestinations(ctx context.Context, connectionID uint, page, limit int) (*DestinationPage, error) {
	q := url.Values{}
	if connectionID != 0 {
		q.Set("connection_id", strconv.FormatUint(uint64(connectionID), 10))
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out DestinationPage
	if err := c.call(ctx, http.MethodGet, destinationsPath+"/list", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBackups returns the artifact names of a connection, newest first.
// destination is "local" or a destination id.
func (c *Client) ListBackups(ctx context.Context, connectionID uint, destination string) ([]string, error) {
	q := idQuery("database_id", connectionID)
	q.Set("backup_destination", destination)
	var out struct {
		Payload []string `json:"payload"`
	}
	if err := c.call(ctx, http.MethodGet, backupPath+"/list", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Payload, nil
}

type backupRequest struct {
	DatabaseID  string `json:"database_id"`
	Destination string `json:"backup_destination"`
	Filename    string `json:"backup_filename,omitempty"`
}

// JobResponse is the answer to a backup or restore.
type JobResponse struct {
	Message  string `json:"message"`
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
}

// CreateBackup runs a manual backup and waits for it to finish.
func (c *Client) CreateBackup(ctx context.Context, connectionID uint, destination string) (*JobResponse, error) {
	req := backupRequest{DatabaseID: strconv.FormatUint(uint64(connectionID), 10), Destination: destination}
	var out JobResponse
	if err := c.call(ctx, http.MethodPost, backupPath+"/create", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RestoreBackup restores filename into the connection's database and waits
// for it to finish.
func (c *Client) RestoreBackup(ctx context.Context, connectionID uint, destination, filename string) (*JobResponse, error) {
	req := backupRequest{DatabaseID: strconv.FormatUint(uint64(connectionID), 10), Destination: destination, Filename: filename}
	var out JobResponse
	if err := c.call(ctx, http.MethodPost, backupPath+"/restore", nil, req, &out); err != nil {
		return nil, err
	}
	out.Filename = filename
	return &out, nil
}

func (c *Client) DeleteBackup(ctx context.Context, connectionID uint, destination, filename string) error {
	q := idQuery("database_id", connectionID)
	q.Set("destination", destination)
	q.Set("filename", filename)
	return c.call(ctx, http.MethodDelete, backupPath+"/delete", q, nil, nil)
}

// History returns the newest job runs of a connection, or of all connections
// when connectionID is zero.
func (c *Client) History(ctx context.Context, connectionID uint, limit int) ([]models.Run, error) {
	q := url.Values{}
	if connectionID != 0 {
		q.Set("database_id", strconv.FormatUint(uint64(connectionID), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Data []models.Run `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, backupPath+"/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var out struct {
		Data []models.Schedule `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, schedulesPath+"/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) EnableSchedule(ctx context.Context, id uint) (*models.Schedule, error) {
	return c.toggleSchedule(ctx, "/enable", id)
}

func (c *Client) DisableSchedule(ctx context.Context, id uint) (*models.Schedule, error) {
	return c.toggleSchedule(ctx, "/disable", id)
}

func (c *Client) toggleSchedule(ctx context.Context, action string, id uint) (*models.Schedule, error) {
	var out struct {
		Data *models.Schedule `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, schedulesPath+action, idQuery("schedule_id", id), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Job is a backup or restore currently running on the server.
type Job struct {
	ID           string    `json:"job_id"`
	Kind         string    `json:"kind"`
	Trigger      string    `json:"trigger"`
	ConnectionID uint      `json:"connection_id"`
	Destination  string    `json:"destination"`
	Filename     string    `json:"filename"`
	StartedAt    time.Time `json:"started_at"`
}

func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var out struct {
		Data []Job `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, jobsPath+"/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, jobsPath+"/cancel", url.Values{"job_id": []string{id}}, nil, nil)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateUser adds a dashboard account.
func (c *Client) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	var out struct {
		Data *models.User `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, usersPath+"/create", nil, credentials{username, password}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Login returns an API token and makes the client use it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, usersPath+"/login", nil, credentials{username, password}, &out); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}
