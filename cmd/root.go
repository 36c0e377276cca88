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
	"encoding/json"
	"fmt"
	"os"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/Kurdzik/PG-backup-manager/pkg/backupapi"
	"github.com/Kurdzik/PG-backup-manager/pkg/config"
	"github.com/Kurdzik/PG-backup-manager/pkg/logging"
)

const defaultServerURL = "http://127.0.0.1:8080/api/v1"

var (
	cfgFile   string
	serverURL string
	apiKey    string
	token     string
	output    string
	debug     bool
	logger    *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pg-backup-manager",
	Short: "PostgreSQL backup manager.",
	Long:  `PG Backup Manager backs up and restores PostgreSQL databases to local disk or S3 compatible storage, on demand or on a cron schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Println(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if debug && logger != nil {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pg-backup-manager.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug (default is false)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server url, including /api/v1 (default is "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "value of the x-api-key header (default is auth.api_key)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token returned by user login")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	v := viper.GetViper()
	initErr := config.Init(v, cfgFile)

	var err error
	logger, err = logging.New(logging.Options{
		Level:  v.GetString("log.level"),
		Format: "console",
		Debug:  debug,
	})
	if err != nil {
		panic(err)
	}
	if initErr != nil {
		logger.Error(initErr.Error())
		os.Exit(1)
	}
	if v.ConfigFileUsed() != "" {
		logger.Debug("Using config file: " + v.ConfigFileUsed())
	}

	if serverURL == "" {
		serverURL = v.GetString("client.server_url")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if apiKey == "" {
		apiKey = v.GetString("auth.api_key")
	}
	if token == "" {
		token = v.GetString("client.token")
	}
}

// newClient returns an API client for the configured server, exiting on error.
func newClient() *backupapi.Client {
	c, err := backupapi.NewClient(
		backupapi.WithServerURL(serverURL),
		backupapi.WithAPIKey(apiKey),
		backupapi.WithToken(token),
		backupapi.WithRetries(viper.GetInt("client.retries")),
		backupapi.WithLogger(logger),
	)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	return c
}

// render prints data as a table, or v as json or yaml depending on --output.
func render(headers []string, data [][]string, v interface{}) {
	switch output {
	case "json":
		buf, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		fmt.Println(string(buf))
	case "yaml":
		// round trip through json so yaml keys follow the json tags
		var generic interface{}
		buf, err := json.Marshal(v)
		if err == nil {
			err = yaml.Unmarshal(buf, &generic)
		}
		if err == nil {
			buf, err = yaml.Marshal(generic)
		}
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		fmt.Print(string(buf))
	default:
		formatter.Output(headers, data)
	}
}

func exitOnError(err error) {
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
