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
	"github.com/spf13/cobra"

	"github.com/Kurdzik/PG-backup-manager/pkg/version"
)

var versionHeaders = []string{"Version", "Commit", "Built", "Go", "Platform"}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build information.",
	Long:  "Print the version and build information. Use -o json or -o yaml for machine readable output.",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		render(versionHeaders, [][]string{versionRow(info)}, info)
	},
}

func versionRow(i version.Info) []string {
	return []string{i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
