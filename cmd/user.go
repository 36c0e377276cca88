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

var (
	username string
	password string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage dashboard accounts.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var createUserCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account. The first one needs no token.",
	Run: func(cmd *cobra.Command, args []string) {
		u, err := newClient().CreateUser(context.Background(), username, password)
		exitOnError(err)
		fmt.Printf("user %s created\n", u.Username)
	},
}

var loginUserCmd = &cobra.Command{
	Use:   "login",
	Short: "Print an API token for use with --token.",
	Run: func(cmd *cobra.Command, args []string) {
		t, err := newClient().Login(context.Background(), username, password)
		exitOnError(err)
		fmt.Println(t)
	},
}

func init() {
	for _, c := range []*cobra.Command{createUserCmd, loginUserCmd} {
		c.Flags().StringVar(&username, "username", "", "account name")
		c.Flags().StringVar(&password, "password", "", "account password")
		_ = c.MarkFlagRequired("username")
		_ = c.MarkFlagRequired("password")
	}
	userCmd.AddCommand(createUserCmd)
	userCmd.AddCommand(loginUserCmd)
	rootCmd.AddCommand(userCmd)
}
