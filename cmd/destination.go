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
	"strconv"

	"github.com/spf13/cobra"
)

var (
	destConnectionID uint
	destPage         int
	destLimit        int

	listDestinationsHeaders = []string{"ID", "ConnectionID", "Name", "Endpoint", "Region", "Bucket", "Prefix", "SSL"}
)

var destinationCmd = &cobra.Command{
	Use:     "destination",
	Aliases: []string{"dest"},
	Short:   "Manage S3 backup destinations.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var listDestinationCmd = &cobra.Command{
	Use:   "list",
	Short: "List S3 destinations.",
	Run: func(cmd *cobra.Command, args []string) {
		page, err := newClient().ListDestinations(context.Background(), destConnectionID, destPage, destLimit)
		exitOnError(err)

		data := make([][]string, 0, len(page.Data))
		for _, d := range page.Data {
			data = append(data, []string{
				strconv.FormatUint(uint64(d.ID), 10), strconv.FormatUint(uint64(d.ConnectionID), 10),
				d.Name, d.EndpointURL, d.Region, d.BucketName, d.PathPrefix, strconv.FormatBool(d.UseSSL),
			})
		}
		render(listDestinationsHeaders, data, page)
	},
}

func init() {
	listDestinationCmd.Flags().UintVar(&destConnectionID, "connection-id", 0, "only list destinations of this connection")
	listDestinationCmd.Flags().IntVar(&destPage, "page", 1, "page number")
	listDestinationCmd.Flags().IntVar(&destLimit, "limit", 0, "page size (default is the server's)")

	destinationCmd.AddCommand(listDestinationCmd)
	rootCmd.AddCommand(destinationCmd)
}
