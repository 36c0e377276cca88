// Package probe checks that stored credentials can reach their Postgres
// server or S3 bucket. Probes never write anything.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

const DefaultTimeout = 5 * time.Second

// Result is the outcome of one probe.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func success() Result { return Result{OK: true, Message: "connection successful"} }

func failure(format string, args ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Prober tests connections and destinations.
type Prober interface {
	Postgres(ctx context.Context, c *models.Connection) Result
	S3(ctx context.Context, d *models.Destination) Result
}

// Checker is the network Prober.
type Checker struct {
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Checker.
type Option func(c *Checker)

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

func New(opts ...Option) *Checker {
	c := &Checker{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func dsn(c *models.Connection, sslmode string, timeout time.Duration) string {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	q := url.Values{}
	q.Set("sslmode", sslmode)
	q.Set("connect_timeout", strconv.Itoa(secs))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Address(),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Postgres opens a session to c and runs SELECT 1. TLS is tried first and
// plain text is used when the server does not offer it.
func (ch *Checker) Postgres(ctx context.Context, c *models.Connection) Result {
	ctx, cancel := context.WithTimeout(ctx, ch.timeout)
	defer cancel()

	err := ch.ping(ctx, dsn(c, "require", ch.timeout))
	if errors.Is(err, pq.ErrSSLNotSupported) {
		err = ch.ping(ctx, dsn(c, "disable", ch.timeout))
	}
	if err != nil {
		ch.logger.Debug("postgres probe failed", zap.String("address", c.Address()), zap.Error(err))
		return postgresFailure(c, err)
	}
	return success()
}

func (ch *Checker) ping(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func postgresFailure(c *models.Connection, err error) Result {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28P01", "28000":
			return failure("authentication failed for user %q", c.User)
		case "3D000":
			return failure("database %q does not exist", c.DBName)
		case "42501":
			return failure("access denied for user %q: %s", c.User, pqErr.Message)
		}
		return failure("postgres error: %s", pqErr.Message)
	}
	if isTLSError(err) {
		return failure("TLS verification failed for %s: %v", c.Address(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return failure("connection to %s timed out", c.Address())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return failure("host %s is unreachable: %v", c.Address(), err)
	}
	return failure("could not connect to %s: %v", c.Address(), err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		recordHeader     tls.RecordHeaderError
		verify           *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostname) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &verify)
}
