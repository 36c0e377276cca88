package models

import (
	"encoding/json"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionJSON(t *testing.T) {
	for _, body := range []string{
		`{"postgres_host":"db1","postgres_port":"5432","postgres_db_name":"app","postgres_user":"u","postgres_password":"p"}`,
		`{"postgres_host":"db1","postgres_port":5432,"postgres_db_name":"app","postgres_user":"u","postgres_password":"p"}`,
	} {
		var c Connection
		require.NoError(t, json.Unmarshal([]byte(body), &c))
		assert.Equal(t, Port(5432), c.Port)
		assert.Equal(t, "db1:5432", c.Address())
		require.NoError(t, Validate(&c))
	}

	out, err := json.Marshal(Connection{Host: "db1", Port: 5432, Password: "p"}.Redacted())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"postgres_port":"5432"`)
	assert.NotContains(t, string(out), "postgres_password")
}

func TestConnectionValidation(t *testing.T) {
	tests := []struct {
		name string
		conn Connection
		msg  string
	}{
		{"missing host", Connection{Port: 5432, DBName: "app", User: "u", Password: "p"}, "postgres_host is required"},
		{"missing port", Connection{Host: "db1", DBName: "app", User: "u", Password: "p"}, "postgres_port is required"},
		{"port too large", Connection{Host: "db1", Port: 70000, DBName: "app", User: "u", Password: "p"}, "postgres_port must be at most 65535"},
		{"missing password", Connection{Host: "db1", Port: 5432, DBName: "app", User: "u"}, "postgres_password is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.conn)
			require.Error(t, err)
			assert.True(t, errdefs.IsInvalidArgument(err))
			assert.Equal(t, tc.msg, err.Error())
		})
	}
}

func TestDestinationValidation(t *testing.T) {
	d := Destination{ConnectionID: 1, Name: "primary", EndpointURL: "https://s3.example.com", Region: "us-east-1", BucketName: "b", AccessKeyID: "ak"}
	err := Validate(&d)
	require.Error(t, err)
	assert.Equal(t, "secret_access_key is required", err.Error())

	d.SecretAccessKey = "sk"
	assert.NoError(t, Validate(&d))
	assert.Empty(t, d.Redacted().SecretAccessKey)
}

func TestFlexID(t *testing.T) {
	var body struct {
		ConnectionID  FlexID `json:"connection_id"`
		DestinationID FlexID `json:"destination_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"connection_id":"3","destination_id":7}`), &body))
	assert.Equal(t, FlexID(3), body.ConnectionID)
	assert.Equal(t, FlexID(7), body.DestinationID)

	assert.Error(t, json.Unmarshal([]byte(`{"connection_id":"three"}`), &body))
	assert.Error(t, json.Unmarshal([]byte(`{"connection_id":-1}`), &body))
}

func TestTarget(t *testing.T) {
	tests := []struct {
		in      string
		local   bool
		id      uint
		wantErr bool
	}{
		{"local", true, 0, false},
		{"LOCAL", true, 0, false},
		{"", true, 0, false},
		{"12", false, 12, false},
		{"0", false, 0, true},
		{"s3", false, 0, true},
	}
	for _, tc := range tests {
		got, err := ParseTarget(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.local, got.IsLocal())
		assert.Equal(t, tc.id, got.DestinationID)
	}

	var body struct {
		Dest Target `json:"backup_destination"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"backup_destination":4}`), &body))
	assert.Equal(t, "4", body.Dest.String())
	require.NoError(t, json.Unmarshal([]byte(`{"backup_destination":"local"}`), &body))
	assert.True(t, body.Dest.IsLocal())
}
