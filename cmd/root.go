package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/app"
	"github.com/JakeFAU/sitemirror/internal/config"
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/logging"
	pkgconfig "github.com/JakeFAU/sitemirror/pkg/config"
)

const (
	programName  = "sitemirror"
	seedPrompt   = "ENTER URL 2 DUMP (with https://): "
	outputPrompt = "ENTER LOCAL PATH: "
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

// flagBindings maps cobra flags onto viper keys.
var flagBindings = map[string]string{
	"workers":      "mirror.workers",
	"timeout":      "mirror.fetch_timeout",
	"insecure":     "mirror.insecure_skip_verify",
	"user-agent":   "mirror.user_agent",
	"metrics-addr": "metrics.addr",
	"log-level":    "logging.level",
	"log-file":     "logging.file",
	"dev-log":      "logging.development",
}

type rootOptions struct {
	cfgFile    string
	skipFailed bool
	noProgress bool
}

// newRootCmd creates the root command. in feeds the interactive prompt.
func newRootCmd(in io.Reader) *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   programName + " [seedUrl] [outputPath]",
		Short: "Mirror a website into a local directory for offline browsing.",
		Long: `sitemirror crawls every page under the seed URL, rewrites links and
embedded assets so the copy can be browsed from disk, and writes one file per
page or asset under the output path. Run it without arguments to be prompted
for both.`,
		Args:         mirrorArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(cmd, v, opts, in, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default searches ., $HOME/.sitemirror and /etc/sitemirror)")
	flags.Int("workers", 1, "number of concurrent page workers")
	flags.Duration("timeout", 0, "per-request fetch timeout (default 30s)")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.String("user-agent", "", "User-Agent header sent with every request")
	flags.BoolVar(&opts.skipFailed, "skip-failed-pages", false, "log failed pages and keep going instead of aborting")
	flags.String("metrics-addr", "", "serve /healthz, /metrics and /status on this address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write JSON logs to this rotating file")
	flags.Bool("dev-log", true, "human-friendly console logs")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	for name, key := range flagBindings {
		// Lookup cannot fail for flags defined above.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func mirrorArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return errors.New("expected both seedUrl and outputPath, or neither to be prompted")
	}
	return cobra.MaximumNArgs(2)(cmd, args)
}

func runMirror(cmd *cobra.Command, v *viper.Viper, opts *rootOptions, in io.Reader, args []string) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, banner())

	used, err := pkgconfig.InitConfig(v, opts.cfgFile)
	if err != nil {
		return err
	}
	if opts.skipFailed {
		v.Set("mirror.page_error_policy", string(crawler.PageErrorSkip))
	}
	if opts.noProgress {
		v.Set("progress.enabled", false)
	}
	if len(args) == 2 {
		v.Set("mirror.seed", args[0])
		v.Set("mirror.output", args[1])
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if cfg.Mirror.Seed == "" || cfg.Mirror.Output == "" {
		seed, output, err := prompt(in, out)
		if err != nil {
			return err
		}
		cfg.Mirror.Seed, cfg.Mirror.Output = seed, output
	}

	logger, cleanup, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = cleanup() }()
	if used != "" {
		logger.Debug("config file loaded", zap.String("path", used))
	}

	appOpts := []app.Option{}
	if cfg.Progress.Enabled {
		appOpts = append(appOpts, app.WithProgressOutput(cmd.ErrOrStderr()))
	}
	mirror, err := app.New(cfg, logger, appOpts...)
	if err != nil {
		return err
	}

	run, err := mirror.Run(cmd.Context())
	_, _ = fmt.Fprintln(out, summary(run, mirror.Root()))
	if err != nil {
		return fmt.Errorf("mirror aborted: %w", err)
	}
	return nil
}

// prompt asks for the seed and output path on in.
func prompt(in io.Reader, out io.Writer) (string, string, error) {
	scanner := bufio.NewScanner(in)
	ask := func(question string) (string, error) {
		_, _ = fmt.Fprint(out, question)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("read answer: %w", err)
			}
			return "", io.ErrUnexpectedEOF
		}
		answer := strings.TrimSpace(scanner.Text())
		if answer == "" {
			return "", errors.New("an answer is required")
		}
		return answer, nil
	}
	seed, err := ask(seedPrompt)
	if err != nil {
		return "", "", fmt.Errorf("seed url: %w", err)
	}
	output, err := ask(outputPrompt)
	if err != nil {
		return "", "", fmt.Errorf("local path: %w", err)
	}
	return seed, output, nil
}

func banner() string {
	return fmt.Sprintf("%s %s: offline website mirror", programName, version)
}

func summary(run crawler.Run, root string) string {
	c := run.Counters
	return fmt.Sprintf("%s: %d pages written, %d failed, %d skipped, %d assets downloaded (%d failed) into %s",
		run.Status, c.PagesWritten, c.PagesFailed, c.PagesSkipped, c.Assets.Downloaded, c.Assets.Failed, root)
}

// Execute runs the root command with a context canceled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdin).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
