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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	databaseID   uint
	destination  string
	filename     string
	historyLimit int

	listBackupsHeaders = []string{"Filename"}
	historyHeaders     = []string{"JobID", "Kind", "Trigger", "ConnectionID", "Destination", "Filename", "Status", "Size", "Attempts", "StartedAt", "Error"}
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage backups.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var listBackupCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups of a connection, newest first.",
	Run: func(cmd *cobra.Command, args []string) {
		names, err := newClient().ListBackups(context.Background(), databaseID, destination)
		exitOnError(err)

		data := make([][]string, 0, len(names))
		for _, n := range names {
			data = append(data, []string{n})
		}
		render(listBackupsHeaders, data, names)
	},
}

var runBackupCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup now and wait for it to finish.",
	Run: func(cmd *cobra.Command, args []string) {
		res, err := newClient().CreateBackup(context.Background(), databaseID, destination)
		exitOnError(err)
		fmt.Printf("%s (job %s, %s, %s)\n", res.Message, res.JobID, res.Filename, humanize.Bytes(uint64(res.Bytes)))
	},
}

var deleteBackupCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete one backup.",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(newClient().DeleteBackup(context.Background(), databaseID, destination, filename))
		fmt.Printf("backup %s deleted\n", filename)
	},
}

var historyBackupCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the latest backup and restore runs.",
	Run: func(cmd *cobra.Command, args []string) {
		runs, err := newClient().History(context.Background(), databaseID, historyLimit)
		exitOnError(err)

		data := make([][]string, 0, len(runs))
		for _, r := range runs {
			data = append(data, runRow(r))
		}
		render(historyHeaders, data, runs)
	},
}

func runRow(r models.Run) []string {
	return []string{
		r.JobID, string(r.Kind), string(r.Trigger), strconv.FormatUint(uint64(r.ConnectionID), 10),
		r.Destination, r.Filename, string(r.Status), humanize.Bytes(uint64(r.Bytes)),
		strconv.Itoa(r.Attempts), r.StartedAt.Local().Format(timeLayout), r.Error,
	}
}

func init() {
	for _, c := range []*cobra.Command{listBackupCmd, runBackupCmd, deleteBackupCmd} {
		c.Flags().UintVar(&databaseID, "database-id", 0, "The ID of the connection")
		c.Flags().StringVar(&destination, "destination", "local", `"local" or the ID of an S3 destination`)
		_ = c.MarkFlagRequired("database-id")
	}
	deleteBackupCmd.Flags().StringVar(&filename, "filename", "", "The backup file name")
	_ = deleteBackupCmd.MarkFlagRequired("filename")
	historyBackupCmd.Flags().UintVar(&databaseID, "database-id", 0, "only show runs of this connection")
	historyBackupCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")

	backupCmd.AddCommand(listBackupCmd)
	backupCmd.AddCommand(runBackupCmd)
	backupCmd.AddCommand(deleteBackupCmd)
	backupCmd.AddCommand(historyBackupCmd)
	rootCmd.AddCommand(backupCmd)
}
