/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/nullroute/nullroute/config"
)

const redacted = "********"

// redactConfig returns a copy of cnf with credentials masked.
func redactConfig(cnf config.Configuration) config.Configuration {
	if cnf.Exchange.APIKey != "" {
		cnf.Exchange.APIKey = redacted
	}
	if cnf.Server.SecretKey != "" {
		cnf.Server.SecretKey = redacted
	}
	if cnf.Notification.Slack.WebhookUrl != "" {
		cnf.Notification.Slack.WebhookUrl = redacted
	}
	return cnf
}

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			data, err := json.MarshalIndent(redactConfig(*cfg), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
