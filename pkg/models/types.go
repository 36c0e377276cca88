package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

// Port is a TCP port that decodes from a JSON number or a numeric string.
// It encodes as a string, which is what the dashboard sends back.
type Port int

func (p Port) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(p)))
}

func (p *Port) UnmarshalJSON(data []byte) error {
	n, err := parseFlexInt(data)
	if err != nil {
		return fmt.Errorf("postgres_port: %w", err)
	}
	*p = Port(n)
	return nil
}

// FlexID is an identifier that decodes from a JSON number or a numeric string.
type FlexID uint

func (id *FlexID) UnmarshalJSON(data []byte) error {
	n, err := parseFlexInt(data)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("id must not be negative")
	}
	*id = FlexID(n)
	return nil
}

func parseFlexInt(data []byte) (int, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// LocalDestination is the destination name of on-disk storage.
const LocalDestination = "local"

// Target identifies where the artifacts of a connection live: local disk
// or a registered destination. The zero value is local.
type Target struct {
	DestinationID uint
}

// ParseTarget accepts "local" or a destination id.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, LocalDestination) {
		return Target{}, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return Target{}, errs.Validation("destination must be %q or a destination id, got %q", LocalDestination, s)
	}
	return Target{DestinationID: uint(n)}, nil
}

// IsLocal reports whether t is on-disk storage.
func (t Target) IsLocal() bool { return t.DestinationID == 0 }

func (t Target) String() string {
	if t.IsLocal() {
		return LocalDestination
	}
	return strconv.FormatUint(uint64(t.DestinationID), 10)
}

func (t Target) MarshalJSON() ([]byte, error) {
	if t.IsLocal() {
		return json.Marshal(LocalDestination)
	}
	return json.Marshal(t.DestinationID)
}

func (t *Target) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	parsed, err := ParseTarget(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
