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

	"github.com/spf13/cobra"
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup into its database.",
	Long:  `Restore replaces the objects of the connection's database with the ones in the backup file. The command waits for pg_restore to finish.`,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := newClient().RestoreBackup(context.Background(), databaseID, destination, filename)
		exitOnError(err)
		fmt.Printf("%s (job %s)\n", res.Message, res.JobID)
	},
}

func init() {
	restoreCmd.Flags().UintVar(&databaseID, "database-id", 0, "The ID of the connection")
	restoreCmd.Flags().StringVar(&destination, "destination", "local", `"local" or the ID of an S3 destination`)
	restoreCmd.Flags().StringVar(&filename, "filename", "", "The backup file name")
	_ = restoreCmd.MarkFlagRequired("database-id")
	_ = restoreCmd.MarkFlagRequired("filename")
	rootCmd.AddCommand(restoreCmd)
}
