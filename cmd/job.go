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
)

var listJobsHeaders = []string{"JobID", "Kind", "Trigger", "ConnectionID", "Destination", "Filename", "Running"}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and cancel running jobs.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var listJobCmd = &cobra.Command{
	Use:   "list",
	Short: "List all running jobs.",
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := newClient().ListJobs(context.Background())
		exitOnError(err)

		data := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			data = append(data, []string{
				j.ID, j.Kind, j.Trigger, strconv.FormatUint(uint64(j.ConnectionID), 10),
				j.Destination, j.Filename, time.Since(j.StartedAt).Round(time.Second).String(),
			})
		}
		render(listJobsHeaders, data, jobs)
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a running job.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(newClient().CancelJob(context.Background(), args[0]))
		fmt.Printf("job %s cancelled\n", args[0])
	},
}

func init() {
	jobCmd.AddCommand(listJobCmd)
	jobCmd.AddCommand(cancelJobCmd)
	rootCmd.AddCommand(jobCmd)
}
