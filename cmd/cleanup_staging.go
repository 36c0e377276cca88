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
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kurdzik/PG-backup-manager/pkg/executor"
)

var stagingAge time.Duration

var cleanupStagingCmd = &cobra.Command{
	Use:   "cleanup-staging",
	Short: "Remove dump files left in the staging directory by interrupted jobs",
	Run: func(cmd *cobra.Command, args []string) {
		dir := viper.GetString("staging_dir")
		removed, freed, err := executor.CleanupStaging(dir, stagingAge)
		exitOnError(err)
		fmt.Printf("%d stale staging files removed from %s, %s freed\n", removed, dir, humanize.Bytes(uint64(freed)))
	},
}

func init() {
	cleanupStagingCmd.Flags().DurationVar(&stagingAge, "older-than", 24*time.Hour, "only remove files older than this")
	rootCmd.AddCommand(cleanupStagingCmd)
}
