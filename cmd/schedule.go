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
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

var listSchedulesHeaders = []string{"ID", "ConnectionID", "DestinationID", "Schedule", "Enabled", "State", "LastRun", "LastStatus", "NextRun"}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage backup schedules.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var listScheduleCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules.",
	Run: func(cmd *cobra.Command, args []string) {
		schedules, err := newClient().ListSchedules(context.Background())
		exitOnError(err)

		data := make([][]string, 0, len(schedules))
		for _, sc := range schedules {
			data = append(data, scheduleRow(sc))
		}
		render(listSchedulesHeaders, data, schedules)
	},
}

var enableScheduleCmd = &cobra.Command{
	Use:   "enable <schedule_id>",
	Short: "Enable a schedule.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sc, err := newClient().EnableSchedule(context.Background(), parseID(args[0]))
		exitOnError(err)
		render(listSchedulesHeaders, [][]string{scheduleRow(*sc)}, sc)
	},
}

var disableScheduleCmd = &cobra.Command{
	Use:   "disable <schedule_id>",
	Short: "Disable a schedule. A running backup is not interrupted.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sc, err := newClient().DisableSchedule(context.Background(), parseID(args[0]))
		exitOnError(err)
		fmt.Printf("schedule %d disabled\n", sc.ID)
	},
}

func scheduleRow(sc models.Schedule) []string {
	return []string{
		strconv.FormatUint(uint64(sc.ID), 10), strconv.FormatUint(uint64(sc.ConnectionID), 10),
		strconv.FormatUint(uint64(sc.DestinationID), 10), sc.Schedule, strconv.FormatBool(sc.Enabled),
		string(sc.State), formatTime(sc.LastRun), string(sc.LastRunStatus), formatTime(sc.NextRun),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func init() {
	scheduleCmd.AddCommand(listScheduleCmd)
	scheduleCmd.AddCommand(enableScheduleCmd)
	scheduleCmd.AddCommand(disableScheduleCmd)
	rootCmd.AddCommand(scheduleCmd)
}
