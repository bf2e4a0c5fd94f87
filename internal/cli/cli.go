package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/vegaprecompute/internal/app"
	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/transform"
	"github.com/vk/vegaprecompute/pkg/vegaprecompute"
)

// Exit codes beyond the generic failure code 1.
const (
	ExitUsage        = 2
	ExitNotPatchable = 3
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// Execute runs the command line described by args, writing results to
// outW and logs and diagnostics to errW.
func Execute(ctx context.Context, outW, errW io.Writer, args []string) error {
	cmd := NewRootCommand()
	cmd.SetOut(outW)
	cmd.SetErr(errW)
	cmd.SetArgs(args)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })
	return cmd.ExecuteContext(ctx)
}

// NewRootCommand builds the vegapre command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vegapre",
		Short: "Evaluate Vega data pipelines ahead of rendering",
		Long: "vegapre runs the data transforms of a Vega specification on the server,\n" +
			"inlines the results and reports what was left for the client.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml).")
	cmd.PersistentFlags().String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	cmd.PersistentFlags().String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	cmd.PersistentFlags().Int("workers", 0, "Pipeline nodes evaluated concurrently. 0 uses GOMAXPROCS.")
	cmd.PersistentFlags().String("data-dir", "", "Directory that relative and file:// dataset urls resolve against.")
	cmd.PersistentFlags().Duration("http-timeout", 30*time.Second, "Timeout for http dataset urls.")

	cmd.AddCommand(newEvalCommand(), newPatchCommand(), newServeCommand(), newTransformsCommand())
	return cmd
}

// setup loads the layered configuration and builds the app. Logs go to the
// command's error stream so results on stdout stay machine readable.
func setup(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(path, cmd.Flags())
	if err != nil {
		return nil, usageError(err)
	}
	return app.NewApp(cmd.ErrOrStderr(), cfg)
}

func readDocument(path string, stdin io.Reader) (string, error) {
	if path == "" {
		return "", errors.New("a file path is required")
	}
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}

func newEvalCommand() *cobra.Command {
	var (
		file string
		opts vegaprecompute.PreTransformOptions
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Pre-transform a specification and print the result",
		Example: "  vegapre eval -f chart.vg.json --row-limit 500\n" +
			"  cat chart.vg.json | vegapre eval -f -",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readDocument(file, cmd.InOrStdin())
			if err != nil {
				return usageError(err)
			}
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := ctxlog.WithLogger(cmd.Context(), a.Logger())
			out, warnings, err := a.Runtime().PreTransform(ctx, spec, opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]json.RawMessage{
				"spec":     json.RawMessage(out),
				"warnings": json.RawMessage(warnings),
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Specification file, or - for stdin.")
	cmd.Flags().IntVar(&opts.RowLimit, "row-limit", 0, "Maximum rows inlined per dataset. 0 is unbounded.")
	cmd.Flags().StringVar(&opts.LocalTimeZone, "tz", "", "IANA time zone for calendar math. Defaults to UTC.")
	cmd.Flags().StringVar(&opts.DefaultInputTimeZone, "input-tz", "", "IANA time zone of date strings without an offset. Defaults to --tz.")
	cmd.Flags().BoolVar(&opts.PreserveInteractivity, "preserve-interactivity", false, "Leave interactive signals and their dependents to the client.")
	return cmd
}

func newPatchCommand() *cobra.Command {
	var oldSpecPath, oldResultPath, newSpecPath string
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Update a previous result for a presentation-only change",
		Long: "patch applies the difference between two specifications to the result of\n" +
			"pre-transforming the first one. It exits with code 3 when the change\n" +
			"touches data pipelines and eval must run again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs := make([]string, 3)
			for i, p := range []string{oldSpecPath, oldResultPath, newSpecPath} {
				doc, err := readDocument(p, cmd.InOrStdin())
				if err != nil {
					return usageError(err)
				}
				docs[i] = doc
			}
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out, ok, err := a.Runtime().Patch(cmd.Context(), docs[0], docs[1], docs[2])
			if err != nil {
				return err
			}
			if !ok {
				return &ExitError{Code: ExitNotPatchable, Message: "change cannot be patched; run eval on the new specification"}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&oldSpecPath, "old", "", "Previous specification file.")
	cmd.Flags().StringVar(&oldResultPath, "old-result", "", "Pre-transformed result of the previous specification.")
	cmd.Flags().StringVar(&newSpecPath, "new", "", "New specification file.")
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pre-transform API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctxlog.WithLogger(ctx, a.Logger()))
		},
	}
	cmd.Flags().String("listen-addr", ":8080", "Address the HTTP server listens on.")
	cmd.Flags().Int("cache-capacity", 256, "Maximum number of cached results. 0 disables the cache.")
	cmd.Flags().Int64("cache-memory-limit", 64<<20, "Maximum bytes held by cached results. 0 disables the cache.")
	return cmd
}

func newTransformsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transforms",
		Short: "List the transform types evaluated on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range transform.Supported() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
