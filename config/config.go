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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// UpstreamRateCeiling is the request rate the exchange API enforces per API key.
	UpstreamRateCeiling = 30.0
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"NULLROUTE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"NULLROUTE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"NULLROUTE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"NULLROUTE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"NULLROUTE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"NULLROUTE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"NULLROUTE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"NULLROUTE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"NULLROUTE_REDIS_SKIP_TLS_VERIFY"`
}

type ExchangeConfig struct {
	BaseURL          string   `json:"base_url" envconfig:"NULLROUTE_EXCHANGE_BASE_URL"`
	APIKey           string   `json:"api_key" envconfig:"NULLROUTE_EXCHANGE_API_KEY"`
	TimeoutSec       int      `json:"timeout_sec" envconfig:"NULLROUTE_EXCHANGE_TIMEOUT_SEC"`
	MaxAttempts      int      `json:"max_attempts" envconfig:"NULLROUTE_EXCHANGE_MAX_ATTEMPTS"`
	RetryBaseDelayMs int      `json:"retry_base_delay_ms" envconfig:"NULLROUTE_EXCHANGE_RETRY_BASE_DELAY_MS"`
	RetryMultiplier  *float64 `json:"retry_multiplier" envconfig:"NULLROUTE_EXCHANGE_RETRY_MULTIPLIER"`
	Flow             string   `json:"flow" envconfig:"NULLROUTE_EXCHANGE_FLOW"`
}

type GovernorConfig struct {
	// TargetRate is the aggregate exchange call rate of every process sharing the API key.
	TargetRate float64 `json:"target_rate" envconfig:"NULLROUTE_GOVERNOR_TARGET_RATE"`
	// Processes is the number of processes that each run a governor against the same key,
	// one `start` and one `workers` by default.
	Processes int `json:"processes" envconfig:"NULLROUTE_GOVERNOR_PROCESSES"`
}

// ProcessRate is the share of TargetRate one process may use.
func (g GovernorConfig) ProcessRate() float64 {
	if g.Processes <= 1 {
		return g.TargetRate
	}
	return g.TargetRate / float64(g.Processes)
}

type SolanaConfig struct {
	RPCURL string `json:"rpc_url" envconfig:"NULLROUTE_SOLANA_RPC_URL"`
}

type QueueConfig struct {
	StatusPollQueue string `json:"status_poll_queue" envconfig:"NULLROUTE_QUEUE_STATUS_POLL"`
	PollIntervalSec int    `json:"poll_interval_sec" envconfig:"NULLROUTE_QUEUE_POLL_INTERVAL_SEC"`
	MaxPollAttempts int    `json:"max_poll_attempts" envconfig:"NULLROUTE_QUEUE_MAX_POLL_ATTEMPTS"`
	MonitoringPort  string `json:"monitoring_port" envconfig:"NULLROUTE_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"NULLROUTE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"NULLROUTE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"NULLROUTE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"NULLROUTE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type OtelExporter struct {
	Protocol string `json:"protocol" envconfig:"NULLROUTE_OTEL_EXPORTER_OTLP_PROTOCOL"`
	Endpoint string `json:"endpoint" envconfig:"NULLROUTE_OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers  string `json:"headers" envconfig:"NULLROUTE_OTEL_EXPORTER_OTLP_HEADERS"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"NULLROUTE_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"NULLROUTE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Exchange        ExchangeConfig   `json:"exchange"`
	Governor        GovernorConfig   `json:"governor"`
	Solana          SolanaConfig     `json:"solana"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	OtelExporter    OtelExporter     `json:"otel_exporter"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("nullroute", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called nullroute.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Nullroute"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Exchange.BaseURL == "" {
		log.Println("Error: Exchange base URL is empty. It's a required field.")
		return errors.New("exchange base URL is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Exchange.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Exchange.BaseURL), "/")

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setExchangeDefaults()
	cnf.setGovernorDefaults()
	cnf.setQueueDefaults()

	if cnf.Solana.RPCURL == "" {
		cnf.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setExchangeDefaults() {
	if cnf.Exchange.APIKey == "" {
		log.Println("Warning: Exchange API key is empty. Requests will be rejected upstream.")
	}
	if cnf.Exchange.TimeoutSec <= 0 {
		cnf.Exchange.TimeoutSec = 25
	}
	if cnf.Exchange.MaxAttempts <= 0 {
		cnf.Exchange.MaxAttempts = 3
	}
	if cnf.Exchange.RetryBaseDelayMs <= 0 {
		cnf.Exchange.RetryBaseDelayMs = 1000
	}
	if cnf.Exchange.RetryMultiplier == nil || *cnf.Exchange.RetryMultiplier < 0 {
		defaultMultiplier := 1.0
		cnf.Exchange.RetryMultiplier = &defaultMultiplier
	}
	if cnf.Exchange.Flow == "" {
		cnf.Exchange.Flow = "standard"
	}
}

func (cnf *Configuration) setGovernorDefaults() {
	if cnf.Governor.TargetRate <= 0 {
		cnf.Governor.TargetRate = 25
	}
	if cnf.Governor.Processes <= 0 {
		cnf.Governor.Processes = 2
	}
	if cnf.Governor.TargetRate >= UpstreamRateCeiling {
		log.Printf("Warning: Governor target rate %.2f req/s is not below the upstream ceiling of %.0f req/s", cnf.Governor.TargetRate, UpstreamRateCeiling)
	}
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.StatusPollQueue == "" {
		cnf.Queue.StatusPollQueue = "transfer_status_poll"
	}
	if cnf.Queue.PollIntervalSec <= 0 {
		cnf.Queue.PollIntervalSec = 30
	}
	if cnf.Queue.MaxPollAttempts <= 0 {
		cnf.Queue.MaxPollAttempts = 240
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
}

// SetOtelExporterEnvs exports the configured OTLP settings as the standard OTEL_* variables
// read by the trace exporter.
func SetOtelExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.OtelExporter.Protocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.OtelExporter.Endpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.OtelExporter.Headers,
	}
	for key, value := range envs {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
