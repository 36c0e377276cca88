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
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
	"github.com/Kurdzik/PG-backup-manager/pkg/broker/mqtt"
)

// eventsCmd follows the job events the server publishes to the broker.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print job events published by the server until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("broker.url")
		if url == "" {
			exitOnError(fmt.Errorf("broker.url is not configured"))
		}
		host, _ := os.Hostname()
		b, err := mqtt.NewBroker(
			mqtt.WithURL(url),
			mqtt.WithClientID(viper.GetString("broker.client_id")+"-events-"+host),
			mqtt.WithTimeout(viper.GetDuration("broker.timeout")),
			mqtt.WithLogger(logger),
		)
		exitOnError(err)
		exitOnError(b.Connect())
		defer func() { _ = b.Disconnect() }()

		topic := viper.GetString("broker.topic")
		exitOnError(b.Subscribe([]string{topic}, printEvent))
		logger.Debug("watching job events", zap.String("topic", topic), zap.String("broker", b.String()))

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		<-c
	},
}

func printEvent(e broker.Event) error {
	msg, err := broker.ParseMessage(e.Payload)
	if err != nil {
		return err
	}
	if output == "json" {
		buf, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		fmt.Println(string(buf))
		return nil
	}
	fmt.Println(formatEvent(msg))
	return nil
}

func formatEvent(msg *broker.Message) string {
	line := fmt.Sprintf("%s %-13s %s %s connection=%d destination=%s", msg.CreatedAt, msg.EventType, msg.Kind, msg.JobID, msg.ConnectionID, msg.Destination)
	if msg.Filename != "" {
		line += " file=" + msg.Filename
	}
	if msg.Bytes > 0 {
		line += " size=" + humanize.Bytes(uint64(msg.Bytes))
	}
	if msg.Error != "" {
		line += fmt.Sprintf(" error=%q", msg.Error)
	}
	return line
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
