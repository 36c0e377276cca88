package storage

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// TransportOptions collects various options which can be set for an HTTP based transport.
type TransportOptions struct {
	Connect          time.Duration
	ConnKeepAlive    time.Duration
	ExpectContinue   time.Duration
	IdleConn         time.Duration
	MaxAllIdleConns  int
	MaxHostIdleConns int
	ResponseHeader   time.Duration
	TLSHandshake     time.Duration

	// InsecureSkipVerify disables certificate verification for endpoints
	// with self-signed certificates.
	InsecureSkipVerify bool
}

// DefaultTransportOptions are the timeouts used for object storage traffic.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		Connect:          30 * time.Second,
		ExpectContinue:   1 * time.Second,
		IdleConn:         90 * time.Second,
		ConnKeepAlive:    30 * time.Second,
		MaxAllIdleConns:  100,
		MaxHostIdleConns: 100,
		ResponseHeader:   30 * time.Second,
		TLSHandshake:     10 * time.Second,
	}
}

// Transport returns a new http.RoundTripper with opts applied.
func Transport(opts TransportOptions) http.RoundTripper {
	tr := &http.Transport{
		ResponseHeaderTimeout: opts.ResponseHeader,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: opts.ConnKeepAlive,
			Timeout:   opts.Connect,
		}).DialContext,
		MaxIdleConns:          opts.MaxAllIdleConns,
		IdleConnTimeout:       opts.IdleConn,
		TLSHandshakeTimeout:   opts.TLSHandshake,
		MaxIdleConnsPerHost:   opts.MaxHostIdleConns,
		ExpectContinueTimeout: opts.ExpectContinue,
	}
	if opts.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return tr
}
