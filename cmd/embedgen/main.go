// Command embedgen converts a shared library into a C++ header that embeds
// its bytes as an array literal.
//
//	embedgen <input.so> <output.h>
//
// Either path may be an s3://bucket/key URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/baldanca/embedgen/embedder"
	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/location"
	"github.com/baldanca/embedgen/logger"
	"github.com/baldanca/embedgen/sink"
	"github.com/baldanca/embedgen/source"
)

const usage = "Usage: embedgen <input.so> <output.h>"

var errUsage = errors.New("usage")

type options struct {
	guard      string
	namespace  string
	sizeName   string
	dataName   string
	perLine    int
	noComments bool
	logLevel   string
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout))
}

// run executes the command and returns the process exit status. Everything,
// diagnostics included, goes to stdout.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stdout, usage)
	default:
		fmt.Fprintf(stdout, "Error: %v\n", err)
	}
	return 1
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:           "embedgen [flags] [--] <input.so> <output.h>",
		Short:         "Embed a shared library into a C++ header",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Flags are parsed by parseArgs so that only registered flags are
		// taken out of the argument list and help counts as a usage error.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := parseArgs(cmd.Flags(), args)
			if err != nil {
				return err
			}
			return generate(cmd.Context(), stdout, opts, paths[0], paths[1])
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stdout)

	addHeaderFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.Flags().BoolP("help", "h", false, "Print usage")

	return cmd
}

// parseArgs applies registered flags and returns exactly two paths. Anything
// that is not a registered flag, such as "-lib.so", is a path; arguments
// after "--" are always paths.
func parseArgs(fs *pflag.FlagSet, args []string) ([]string, error) {
	var flagArgs, paths []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			paths = append(paths, args[i+1:]...)
			break
		}
		f := lookupFlag(fs, a)
		if f == nil {
			paths = append(paths, a)
			continue
		}
		flagArgs = append(flagArgs, a)
		if f.NoOptDefVal == "" && !strings.Contains(a, "=") && i+1 < len(args) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}

	if err := fs.Parse(flagArgs); err != nil {
		return nil, errUsage
	}
	if help, _ := fs.GetBool("help"); help || len(paths) != 2 {
		return nil, errUsage
	}
	return paths, nil
}

func lookupFlag(fs *pflag.FlagSet, arg string) *pflag.Flag {
	switch {
	case strings.HasPrefix(arg, "--") && len(arg) > 2:
		name, _, _ := strings.Cut(arg[2:], "=")
		return fs.Lookup(name)
	case len(arg) == 2 && arg[0] == '-' && arg[1] != '-':
		return fs.ShorthandLookup(arg[1:])
	}
	return nil
}

func addHeaderFlags(fs *pflag.FlagSet, opts *options) {
	fs.StringVar(&opts.guard, "guard", encoder.DefaultGuard, "Include guard macro")
	fs.StringVar(&opts.namespace, "namespace", encoder.DefaultNamespace, "C++ namespace")
	fs.StringVar(&opts.sizeName, "size-name", encoder.DefaultSizeName, "Name of the size constant")
	fs.StringVar(&opts.dataName, "data-name", encoder.DefaultDataName, "Name of the byte array")
	fs.IntVar(&opts.perLine, "per-line", encoder.DefaultBytesPerLine, "Array entries per row")
	fs.BoolVar(&opts.noComments, "no-comments", false, "Omit the description comments")
}

func (o options) encoder() (encoder.HeaderEncoder, error) {
	if o.perLine <= 0 {
		return encoder.HeaderEncoder{}, fmt.Errorf("%w: --per-line must be > 0", encoder.ErrInvalidOption)
	}
	enc := encoder.HeaderEncoder{
		Guard:        o.guard,
		Namespace:    o.namespace,
		SizeName:     o.sizeName,
		DataName:     o.dataName,
		BytesPerLine: o.perLine,
		OmitComments: o.noComments,
	}
	return enc, enc.Validate()
}

func generate(ctx context.Context, stdout io.Writer, opts options, input, output string) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	log := logger.New(stdout, level, logger.FormatText)

	enc, err := opts.encoder()
	if err != nil {
		return err
	}

	reader, sk, err := wire(ctx, input, output)
	if err != nil {
		return err
	}

	emb, err := embedder.New(reader, enc, sk,
		embedder.WithLogger(log),
		embedder.WithDiagnostics(stdout),
	)
	if err != nil {
		return err
	}

	res, err := emb.Embed(ctx, input, output)
	if err != nil {
		if source.IsNotFound(err) {
			return fmt.Errorf("%s does not exist", input)
		}
		return err
	}

	log.Debug().Str("sha256", res.SHA256).Str("cid", res.CID).Msg("input identity")
	return nil
}

// wire builds the reader and sink. AWS configuration is only loaded when one
// of the locations is an S3 URL.
func wire(ctx context.Context, input, output string) (source.Reader, sink.Sinkr, error) {
	reader := source.Router{File: source.File{}}
	sk := sink.Router{Local: sink.File{}}

	if !location.IsS3(input) && !location.IsS3(output) {
		return reader, sk, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	reader.S3 = source.NewS3(client)
	sk.Remote = sink.New(client, "", "", sink.WithUploader(transfermanager.New(client)))
	return reader, sk, nil
}
