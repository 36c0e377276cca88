// This file is part of pg-backup-manager
//
// Copyright (C) 2024  PG Backup Manager authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/version"
)

func Test_runRow(t *testing.T) {
	started := time.Date(2024, 1, 2, 2, 0, 0, 0, time.Local)
	tests := []struct {
		name string
		run  models.Run
		want []string
	}{
		{
			name: "successful backup",
			run: models.Run{
				JobID: "j1", Kind: models.KindBackup, Trigger: models.TriggerSchedule, ConnectionID: 3,
				Destination: "local", Filename: "backup_20240102_020000.dump", Status: models.JobSucceeded,
				Bytes: 2048, Attempts: 1, StartedAt: started,
			},
			want: []string{"j1", "backup", "schedule", "3", "local", "backup_20240102_020000.dump", "succeeded", "2.0 kB", "1", "2024-01-02 02:00:00", ""},
		},
		{
			name: "failed restore",
			run: models.Run{
				JobID: "j2", Kind: models.KindRestore, Trigger: models.TriggerManual, ConnectionID: 1,
				Destination: "7", Filename: "backup_20240101_020000.dump", Status: models.JobFailed,
				Attempts: 2, StartedAt: started, Error: "pg_restore exited with status 1",
			},
			want: []string{"j2", "restore", "manual", "1", "7", "backup_20240101_020000.dump", "failed", "0 B", "2", "2024-01-02 02:00:00", "pg_restore exited with status 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runRow(tt.run))
		})
	}
}

func Test_scheduleRow(t *testing.T) {
	next := time.Date(2024, 1, 3, 2, 0, 0, 0, time.Local)
	sc := models.Schedule{
		ID: 4, ConnectionID: 3, DestinationID: 7, Schedule: "0 2 * * *", Enabled: true,
		State: models.StateIdle, NextRun: &next,
	}
	assert.Equal(t,
		[]string{"4", "3", "7", "0 2 * * *", "true", "idle", "-", "", "2024-01-03 02:00:00"},
		scheduleRow(sc))
}

func Test_formatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	assert.Equal(t, "2024-05-06 07:08:09", formatTime(&ts))
}

func Test_formatEvent(t *testing.T) {
	tests := []struct {
		name string
		msg  broker.Message
		want string
	}{
		{
			name: "started",
			msg:  broker.Message{EventType: broker.JobStarted, CreatedAt: "2024-01-02T02:00:00Z", Kind: "backup", JobID: "j1", ConnectionID: 3, Destination: "local"},
			want: "2024-01-02T02:00:00Z job_started   backup j1 connection=3 destination=local",
		},
		{
			name: "succeeded",
			msg: broker.Message{EventType: broker.JobSucceeded, CreatedAt: "2024-01-02T02:01:00Z", Kind: "backup", JobID: "j1", ConnectionID: 3, Destination: "7",
				Filename: "backup_20240102_020000.dump", Bytes: 2048},
			want: "2024-01-02T02:01:00Z job_succeeded backup j1 connection=3 destination=7 file=backup_20240102_020000.dump size=2.0 kB",
		},
		{
			name: "failed",
			msg:  broker.Message{EventType: broker.JobFailed, CreatedAt: "2024-01-02T02:01:00Z", Kind: "restore", JobID: "j2", ConnectionID: 1, Destination: "local", Error: "boom"},
			want: `2024-01-02T02:01:00Z job_failed    restore j2 connection=1 destination=local error="boom"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(&tt.msg))
		})
	}
}

func Test_versionRow(t *testing.T) {
	info := version.Info{Version: "v1.2.0", Commit: "3f2a9c1", BuildTime: "2024-01-15T02:00:00Z", GoVersion: "go1.23.4", Platform: "linux/amd64"}
	row := versionRow(info)
	assert.Len(t, row, len(versionHeaders))
	assert.Equal(t, []string{"v1.2.0", "3f2a9c1", "2024-01-15T02:00:00Z", "go1.23.4", "linux/amd64"}, row)
}
