// Command embedgen-worker consumes conversion jobs from an SQS queue and
// writes the generated headers to S3 or the local filesystem.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/baldanca/embedgen/embedder"
	"github.com/baldanca/embedgen/logger"
	"github.com/baldanca/embedgen/sink"
	"github.com/baldanca/embedgen/source"
	"github.com/baldanca/embedgen/transformer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "embedgen-worker",
		Short:         "Convert shared libraries announced on an SQS queue into C++ headers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			awsCfg, err := config.LoadDefaultConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			return serve(cmd.Context(), cfg, awsCfg, logOut)
		},
	}

	if err := registerFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

func serve(ctx context.Context, cfg Config, awsCfg aws.Config, logOut io.Writer) error {
	level, _ := logger.ParseLevel(cfg.LogLevel)
	format, _ := logger.ParseFormat(cfg.LogFormat)
	log := logger.New(logOut, level, format).With().Str("run_id", uuid.NewString()).Logger()

	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	reader := source.Router{File: source.File{}, S3: source.NewS3(s3Client)}
	sk := sink.Router{
		Local:  sink.File{CreateDirs: true},
		Remote: sink.New(s3Client, "", "", sink.WithUploader(transfermanager.New(s3Client))),
	}

	retry := cfg.RetryPolicy()
	emb, err := embedder.New(reader, cfg.HeaderEncoder(), sk,
		embedder.WithRetryPolicy(retry),
		embedder.WithLogger(log),
	)
	if err != nil {
		return err
	}

	queue, err := source.NewQueue(ctx, sqsClient, cfg.QueueURL, cfg.QueueConfig())
	if err != nil {
		return err
	}
	defer queue.Close()

	w, err := embedder.NewWorker(cfg.WorkerConfig(), emb, queue,
		transformer.JobTransformer{OutputExtension: cfg.OutputExtension},
		embedder.WithAckRetryPolicy(retry),
		embedder.WithManifestSink(sk, retry),
		embedder.WithWorkerLogger(log),
	)
	if err != nil {
		return err
	}

	log.Info().
		Str("queue_url", cfg.QueueURL).
		Int("workers", cfg.Workers).
		Str("manifest_location", cfg.ManifestLocation).
		Msg("worker starting")

	return w.Run(ctx)
}
