/*
Copyright 2024 Recurra Authors.

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
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"RECURRA_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"RECURRA_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RECURRA_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"RECURRA_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"RECURRA_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"RECURRA_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RECURRA_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RECURRA_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RECURRA_REDIS_SKIP_TLS_VERIFY"`
}

// ProcessorConfig carries the shared secret used to authenticate inbound
// payment-processor webhooks. SignatureToleranceSec bounds how stale a signed
// timestamp may be before the payload is rejected.
type ProcessorConfig struct {
	WebhookSecret         string `json:"webhook_secret" envconfig:"RECURRA_PROCESSOR_WEBHOOK_SECRET"`
	SignatureToleranceSec int    `json:"signature_tolerance_sec" envconfig:"RECURRA_PROCESSOR_SIGNATURE_TOLERANCE_SEC"`
}

// DunningConfig is the retry/reminder schedule applied to failed payments.
// RetryOffsetsDays[n] is the offset recorded after the nth observed failure;
// past MaxRetries no further automatic retry is recorded. ReminderHorizonDays
// is the fixed delay before a scheduled dunning reminder runs.
type DunningConfig struct {
	RetryOffsetsDays    []int `json:"retry_offsets_days" envconfig:"RECURRA_DUNNING_RETRY_OFFSETS_DAYS"`
	MaxRetries          int   `json:"max_retries" envconfig:"RECURRA_DUNNING_MAX_RETRIES"`
	ReminderHorizonDays int   `json:"reminder_horizon_days" envconfig:"RECURRA_DUNNING_REMINDER_HORIZON_DAYS"`
}

type QueueConfig struct {
	DunningQueue   string `json:"dunning_queue" envconfig:"RECURRA_QUEUE_DUNNING"`
	EmailQueue     string `json:"email_queue" envconfig:"RECURRA_QUEUE_EMAIL"`
	MonitoringPort string `json:"monitoring_port" envconfig:"RECURRA_QUEUE_MONITORING_PORT"`
}

type MailerConfig struct {
	Url         string            `json:"url"`
	FromAddress string            `json:"from_address"`
	Headers     map[string]string `json:"headers"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RECURRA_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RECURRA_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RECURRA_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack  SlackWebhook `json:"slack"`
	Mailer MailerConfig `json:"mailer"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"RECURRA_PROJECT_NAME"`
	BackupDir          string           `json:"backup_dir" envconfig:"RECURRA_BACKUP_DIR"`
	AwsAccessKeyId     string           `json:"aws_access_key_id"`
	S3Endpoint         string           `json:"s3_endpoint"`
	AwsSecretAccessKey string           `json:"aws_secret_access_key"`
	S3BucketName       string           `json:"s3_bucket_name"`
	S3Region           string           `json:"s3_region"`
	Server             ServerConfig     `json:"server"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	Processor          ProcessorConfig  `json:"processor"`
	Dunning            DunningConfig    `json:"dunning"`
	Queue              QueueConfig      `json:"queue"`
	Notification       Notification     `json:"notification"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("recurra", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called recurra.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Recurra Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Processor.WebhookSecret == "" {
		log.Println("Error: Processor webhook secret is empty. Inbound events cannot be verified without it.")
		return errors.New("processor webhook secret is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Processor.WebhookSecret = strings.TrimSpace(cnf.Processor.WebhookSecret)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Processor.SignatureToleranceSec <= 0 {
		cnf.Processor.SignatureToleranceSec = 300
	}

	// The 3/5/7 day ladder mirrors the processor's documented retry windows;
	// operators can override it without redeploying.
	if len(cnf.Dunning.RetryOffsetsDays) == 0 {
		cnf.Dunning.RetryOffsetsDays = []int{3, 5, 7}
	}
	if cnf.Dunning.MaxRetries <= 0 {
		cnf.Dunning.MaxRetries = len(cnf.Dunning.RetryOffsetsDays)
	}
	if cnf.Dunning.ReminderHorizonDays <= 0 {
		cnf.Dunning.ReminderHorizonDays = 3
	}

	if cnf.Queue.DunningQueue == "" {
		cnf.Queue.DunningQueue = "new:dunning"
	}
	if cnf.Queue.EmailQueue == "" {
		cnf.Queue.EmailQueue = "new:email"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5002"
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

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
		log.Printf("Warning: Rate limit cleanup interval not specified. Setting default value: %d seconds", defaultCleanup)
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if len(mockConfig.Dunning.RetryOffsetsDays) == 0 {
		mockConfig.Dunning.RetryOffsetsDays = []int{3, 5, 7}
	}
	if mockConfig.Dunning.MaxRetries == 0 {
		mockConfig.Dunning.MaxRetries = len(mockConfig.Dunning.RetryOffsetsDays)
	}
	if mockConfig.Dunning.ReminderHorizonDays == 0 {
		mockConfig.Dunning.ReminderHorizonDays = 3
	}
	if mockConfig.Queue.DunningQueue == "" {
		mockConfig.Queue.DunningQueue = "new:dunning"
	}
	if mockConfig.Queue.EmailQueue == "" {
		mockConfig.Queue.EmailQueue = "new:email"
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
