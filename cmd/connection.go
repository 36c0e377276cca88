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

	"github.com/spf13/cobra"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

var (
	connHost     string
	connPort     int
	connDBName   string
	connUser     string
	connPassword string
	testOnly     bool
	forceDelete  bool

	listConnectionsHeaders = []string{"ID", "Host", "Port", "Database", "User", "CreatedAt"}
)

var connectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"conn"},
	Short:   "Manage PostgreSQL connections.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var listConnectionCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered connections.",
	Run: func(cmd *cobra.Command, args []string) {
		conns, err := newClient().ListConnections(context.Background())
		exitOnError(err)

		data := make([][]string, 0, len(conns))
		for _, c := range conns {
			data = append(data, []string{
				strconv.FormatUint(uint64(c.ID), 10), c.Host, strconv.Itoa(int(c.Port)), c.DBName, c.User,
				c.CreatedAt.Format(timeLayout),
			})
		}
		render(listConnectionsHeaders, data, conns)
	},
}

var createConnectionCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a connection, or only test it with --test.",
	Run: func(cmd *cobra.Command, args []string) {
		conn := &models.Connection{
			Host:     connHost,
			Port:     models.Port(connPort),
			DBName:   connDBName,
			User:     connUser,
			Password: connPassword,
		}
		created, err := newClient().CreateConnection(context.Background(), conn, testOnly)
		exitOnError(err)
		if testOnly {
			fmt.Printf("connection to %s succeeded\n", conn.Address())
			return
		}
		fmt.Printf("connection %d created\n", created.ID)
	},
}

var deleteConnectionCmd = &cobra.Command{
	Use:   "delete <connection_id>",
	Short: "Delete a connection.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		exitOnError(newClient().DeleteConnection(context.Background(), id, forceDelete))
		fmt.Printf("connection %d deleted\n", id)
	},
}

func parseID(s string) uint {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		exitOnError(fmt.Errorf("invalid id %q", s))
	}
	return uint(n)
}

func init() {
	createConnectionCmd.Flags().StringVar(&connHost, "host", "", "PostgreSQL host")
	createConnectionCmd.Flags().IntVar(&connPort, "port", 5432, "PostgreSQL port")
	createConnectionCmd.Flags().StringVar(&connDBName, "db-name", "", "database name")
	createConnectionCmd.Flags().StringVar(&connUser, "user", "", "database user")
	createConnectionCmd.Flags().StringVar(&connPassword, "password", "", "database password")
	createConnectionCmd.Flags().BoolVar(&testOnly, "test", false, "only test connectivity, do not save")
	for _, f := range []string{"host", "db-name", "user", "password"} {
		_ = createConnectionCmd.MarkFlagRequired(f)
	}
	deleteConnectionCmd.Flags().BoolVar(&forceDelete, "force", false, "also delete the destinations and schedules of the connection")

	connectionCmd.AddCommand(listConnectionCmd)
	connectionCmd.AddCommand(createConnectionCmd)
	connectionCmd.AddCommand(deleteConnectionCmd)
	rootCmd.AddCommand(connectionCmd)
}
