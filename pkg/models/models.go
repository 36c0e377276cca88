package models

import (
	"net"
	"strconv"
	"time"
)

// Connection holds the credentials of one PostgreSQL database.
type Connection struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Host      string    `json:"postgres_host" gorm:"column:postgres_host;not null" validate:"required"`
	Port      Port      `json:"postgres_port" gorm:"column:postgres_port;not null" validate:"required,min=1,max=65535"`
	DBName    string    `json:"postgres_db_name" gorm:"column:postgres_db_name;not null" validate:"required"`
	User      string    `json:"postgres_user" gorm:"column:postgres_user;not null" validate:"required"`
	Password  string    `json:"postgres_password,omitempty" gorm:"column:postgres_password;not null" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address returns host:port.
func (c *Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Redacted returns a copy without the password.
func (c Connection) Redacted() Connection {
	c.Password = ""
	return c
}

// Destination is an S3 compatible bucket owned by one connection.
type Destination struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ConnectionID    uint      `json:"connection_id" gorm:"not null;index" validate:"required"`
	Name            string    `json:"name" gorm:"not null;uniqueIndex" validate:"required,max=255"`
	EndpointURL     string    `json:"endpoint_url" gorm:"not null" validate:"required"`
	Region          string    `json:"region" gorm:"not null" validate:"required"`
	BucketName      string    `json:"bucket_name" gorm:"not null" validate:"required"`
	AccessKeyID     string    `json:"access_key_id" gorm:"not null" validate:"required"`
	SecretAccessKey string    `json:"secret_access_key,omitempty" gorm:"not null" validate:"required"`
	PathPrefix      string    `json:"path_prefix"`
	UseSSL          bool      `json:"use_ssl"`
	VerifySSL       bool      `json:"verify_ssl"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Redacted returns a copy without the secret access key.
func (d Destination) Redacted() Destination {
	d.SecretAccessKey = ""
	return d
}

// RunState is the activity dimension of a schedule.
type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
)

// RunStatus is the outcome of the last schedule run.
type RunStatus string

const (
	StatusNone    RunStatus = ""
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// Schedule binds one connection and one destination to a cron expression.
type Schedule struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	ConnectionID  uint       `json:"connection_id" gorm:"not null;index" validate:"required"`
	DestinationID uint       `json:"destination_id" gorm:"not null;index" validate:"required"`
	Schedule      string     `json:"schedule" gorm:"not null" validate:"required"`
	Enabled       bool       `json:"enabled"`
	State         RunState   `json:"state" gorm:"not null;default:idle"`
	LastRun       *time.Time `json:"last_run"`
	LastRunStatus RunStatus  `json:"last_run_status"`
	LastError     string     `json:"last_error,omitempty"`
	LastArtifact  string     `json:"last_artifact,omitempty"`
	NextRun       *time.Time `json:"next_run"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// JobKind tells backups and restores apart.
type JobKind string

const (
	KindBackup  JobKind = "backup"
	KindRestore JobKind = "restore"
)

// Trigger records who started a job.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

// JobStatus is the lifecycle of one backup or restore job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Run is the persisted history entry of one job.
type Run struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	JobID        string     `json:"job_id" gorm:"not null;uniqueIndex;size:36"`
	Kind         JobKind    `json:"kind" gorm:"not null"`
	Trigger      Trigger    `json:"trigger" gorm:"not null"`
	ConnectionID uint       `json:"connection_id" gorm:"not null;index"`
	Destination  string     `json:"destination" gorm:"not null"`
	ScheduleID   *uint      `json:"schedule_id,omitempty"`
	Filename     string     `json:"filename"`
	Status       JobStatus  `json:"status" gorm:"not null"`
	Error        string     `json:"error,omitempty"`
	Bytes        int64      `json:"bytes"`
	Attempts     int        `json:"attempts"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// User is a dashboard account.
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"not null;uniqueIndex" validate:"required,min=3,max=64"`
	PasswordHash string    `json:"-" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}
