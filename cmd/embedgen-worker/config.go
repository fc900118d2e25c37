package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/baldanca/embedgen/embedder"
	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/logger"
	"github.com/baldanca/embedgen/source"
)

const envPrefix = "EMBEDGEN"

// Config is the worker configuration resolved from flags, EMBEDGEN_*
// environment variables and an optional config file, in that order of
// precedence.
type Config struct {
	QueueURL string `mapstructure:"queue-url"`

	Workers       int `mapstructure:"workers"`
	AckBatchSize  int `mapstructure:"ack-batch-size"`
	RetryAttempts int `mapstructure:"retry-attempts"`

	WaitTimeSeconds       int `mapstructure:"wait-time-seconds"`
	MaxMessages           int `mapstructure:"max-messages"`
	VisibilityTimeout     int `mapstructure:"visibility-timeout"`
	FailVisibilityTimeout int `mapstructure:"fail-visibility-timeout"`
	Pollers               int `mapstructure:"pollers"`
	BufferSize            int `mapstructure:"buffer-size"`

	LeaseVisibilityTimeout int           `mapstructure:"lease-visibility-timeout"`
	LeaseRenewEvery        time.Duration `mapstructure:"lease-renew-every"`
	StopTimeout            time.Duration `mapstructure:"stop-timeout"`

	OutputExtension string `mapstructure:"output-extension"`

	ManifestLocation      string        `mapstructure:"manifest-location"`
	ManifestMaxRecords    int           `mapstructure:"manifest-max-records"`
	ManifestFlushInterval time.Duration `mapstructure:"manifest-flush-interval"`
	ManifestCompression   string        `mapstructure:"manifest-compression"`

	Guard      string `mapstructure:"guard"`
	Namespace  string `mapstructure:"namespace"`
	SizeName   string `mapstructure:"size-name"`
	DataName   string `mapstructure:"data-name"`
	PerLine    int    `mapstructure:"per-line"`
	NoComments bool   `mapstructure:"no-comments"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

type flagDefinition struct {
	Name        string
	Default     interface{}
	Description string
}

var flagDefinitions = []flagDefinition{
	{"config", "", "Path to a YAML config file"},
	{"queue-url", "", "SQS queue URL to consume jobs from"},

	{"workers", embedder.DefaultWorkerConfig.Workers, "Concurrent conversions"},
	{"ack-batch-size", embedder.DefaultWorkerConfig.AckBatchSize, "Successful jobs deleted per SQS batch (1-10)"},
	{"retry-attempts", embedder.DefaultRetryPolicy.Attempts, "Attempts for transient S3 and SQS failures"},

	{"wait-time-seconds", int(source.DefaultQueueConfig.WaitTimeSeconds), "SQS long poll wait (0-20)"},
	{"max-messages", int(source.DefaultQueueConfig.MaxMessages), "Messages per SQS receive (1-10)"},
	{"visibility-timeout", int(source.DefaultQueueConfig.VisibilityTO), "Visibility timeout for received messages, in seconds"},
	{"fail-visibility-timeout", 30, "Redelivery delay for failed jobs in seconds; negative leaves the visibility untouched"},
	{"pollers", 2, "Concurrent SQS pollers"},
	{"buffer-size", source.DefaultQueueConfig.BufSize, "Received messages buffered ahead of the workers"},

	{"lease-visibility-timeout", 0, "Keep jobs invisible while converting by extending to this many seconds; 0 disables"},
	{"lease-renew-every", time.Duration(0), "Lease renewal period; 0 means a third of the lease"},
	{"stop-timeout", embedder.DefaultWorkerConfig.StopTimeout, "Time allowed for final acks and manifest flush"},

	{"output-extension", ".h", "Extension of headers generated for S3 event notifications"},

	{"manifest-location", "", "Directory or s3:// prefix for parquet run manifests; empty disables"},
	{"manifest-max-records", embedder.DefaultManifestConfig.MaxRecords, "Records per manifest file"},
	{"manifest-flush-interval", embedder.DefaultManifestConfig.FlushInterval, "Maximum age of buffered manifest records"},
	{"manifest-compression", embedder.DefaultManifestConfig.Compression, "Manifest compression: snappy, gzip, zstd or empty"},

	{"guard", encoder.DefaultGuard, "Include guard macro"},
	{"namespace", encoder.DefaultNamespace, "C++ namespace"},
	{"size-name", encoder.DefaultSizeName, "Name of the size constant"},
	{"data-name", encoder.DefaultDataName, "Name of the byte array"},
	{"per-line", encoder.DefaultBytesPerLine, "Array entries per row"},
	{"no-comments", false, "Omit the description comments"},

	{"log-level", "info", "Log level: debug, info, warn, error"},
	{"log-format", string(logger.FormatText), "Log format: text or json"},
}

// registerFlags defines every flag on cmd and binds it to v.
func registerFlags(cmd *cobra.Command, v *viper.Viper) error {
	fset := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	for _, def := range flagDefinitions {
		switch d := def.Default.(type) {
		case int:
			fset.Int(def.Name, d, def.Description)
		case bool:
			fset.Bool(def.Name, d, def.Description)
		case string:
			fset.String(def.Name, d, def.Description)
		case time.Duration:
			fset.Duration(def.Name, d, def.Description)
		default:
			return fmt.Errorf("unhandled type: %T", d)
		}
		if err := v.BindPFlag(def.Name, fset.Lookup(def.Name)); err != nil {
			return err
		}
	}
	cmd.Flags().AddFlagSet(fset)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.QueueURL == "" {
		return errors.New("queue-url is required")
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry-attempts must be >= 1")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logger.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	if !strings.HasPrefix(c.OutputExtension, ".") {
		return fmt.Errorf("output-extension %q must start with '.'", c.OutputExtension)
	}
	if c.PerLine <= 0 {
		return fmt.Errorf("%w: per-line must be > 0", encoder.ErrInvalidOption)
	}
	if err := c.HeaderEncoder().Validate(); err != nil {
		return err
	}
	if err := c.QueueConfig().Validate(); err != nil {
		return err
	}
	return c.WorkerConfig().Validate()
}

func (c Config) HeaderEncoder() encoder.HeaderEncoder {
	return encoder.HeaderEncoder{
		Guard:        c.Guard,
		Namespace:    c.Namespace,
		SizeName:     c.SizeName,
		DataName:     c.DataName,
		BytesPerLine: c.PerLine,
		OmitComments: c.NoComments,
	}
}

func (c Config) QueueConfig() source.QueueConfig {
	qc := source.QueueConfig{
		WaitTimeSeconds: int32(c.WaitTimeSeconds),
		MaxMessages:     int32(c.MaxMessages),
		VisibilityTO:    int32(c.VisibilityTimeout),
		Pollers:         c.Pollers,
		BufSize:         c.BufferSize,
	}
	if c.FailVisibilityTimeout >= 0 {
		fv := int32(c.FailVisibilityTimeout)
		qc.FailVisibilityTimeoutSeconds = &fv
	}
	return qc
}

func (c Config) WorkerConfig() embedder.WorkerConfig {
	return embedder.WorkerConfig{
		Workers:                       c.Workers,
		AckBatchSize:                  c.AckBatchSize,
		LeaseVisibilityTimeoutSeconds: int32(c.LeaseVisibilityTimeout),
		LeaseRenewEvery:               c.LeaseRenewEvery,
		StopTimeout:                   c.StopTimeout,
		Manifest: embedder.ManifestConfig{
			Location:      c.ManifestLocation,
			MaxRecords:    c.ManifestMaxRecords,
			FlushInterval: c.ManifestFlushInterval,
			Compression:   c.ManifestCompression,
		},
	}
}

func (c Config) RetryPolicy() embedder.RetryPolicy {
	p := embedder.DefaultRetryPolicy
	p.Attempts = c.RetryAttempts
	return p
}
