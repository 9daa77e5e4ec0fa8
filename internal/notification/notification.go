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

package notification

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/nullroute/nullroute/config"
	"github.com/nullroute/nullroute/internal/request"
	"github.com/sirupsen/logrus"
)

// slackClient bounds webhook delivery.
var slackClient = &http.Client{Timeout: 10 * time.Second}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackMessage(title string, err error, fields map[string]string) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
	}}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", k, fields[k])}},
		})
	}

	msg.Blocks = append(msg.Blocks, slackBlock{
		Type:   "section",
		Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", time.Now().Format(time.RFC822))}},
	})
	return msg
}

func postToSlack(webhookURL string, msg slackMessage) error {
	payload, err := request.ToJsonReq(&msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", webhookURL, payload)
	if err != nil {
		return err
	}

	resp, err := request.CallWithClient(slackClient, req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotification sends an error message to the configured Slack webhook.
func SlackNotification(err error) {
	sendSlack("Error From Nullroute 🐞", err, nil)
}

// SecurityIncidentNotification reports an exchange response that failed integrity checks.
func SecurityIncidentNotification(err error, fields map[string]string) {
	sendSlack("Security Incident From Nullroute 🚨", err, fields)
}

func sendSlack(title string, err error, fields map[string]string) {
	conf, cErr := config.Fetch()
	if cErr != nil {
		log.Println(cErr)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	if pErr := postToSlack(conf.Notification.Slack.WebhookUrl, buildSlackMessage(title, err, fields)); pErr != nil {
		log.Println(pErr)
	}
}

// NotifyError logs the error and forwards it to Slack when a webhook is configured.
// Delivery happens on a separate goroutine so callers never block on it.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		SlackNotification(systemError)
	}(systemError)
}

// NotifySecurityIncident is NotifyError for integrity failures. The fields are attached to
// both the log entry and the Slack message.
func NotifySecurityIncident(systemError error, fields map[string]string) {
	go func(systemError error, fields map[string]string) {
		entry := logrus.WithField("security_incident", true)
		for k, v := range fields {
			entry = entry.WithField(k, v)
		}
		entry.Error(systemError)
		SecurityIncidentNotification(systemError, fields)
	}(systemError, fields)
}
