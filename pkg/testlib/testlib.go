// Package testlib holds helpers shared by docker backed integration tests.
package testlib

import (
	"os"
	"testing"
)

const dockerEnv = "PGBM_DOCKER_TESTS"

// RequireDocker skips t unless docker backed tests were requested.
func RequireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv(dockerEnv) == "" {
		t.Skipf("set %s to run docker backed tests", dockerEnv)
	}
}

// MqttUrl returns the address of an already running broker, if any.
func MqttUrl() string {
	return os.Getenv("PGBM_TEST_MQTT_URL")
}

// PostgresImage returns the image used for throwaway Postgres servers.
func PostgresImage() (repo, tag string) {
	if tag = os.Getenv("PGBM_TEST_POSTGRES_TAG"); tag == "" {
		tag = "16-alpine"
	}
	return "postgres", tag
}
