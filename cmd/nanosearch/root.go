package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envPath   string
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "nanosearch",
		Short: "A small site search engine with a NanoQL query optimizer",
		Long: `NanoSearch indexes web pages into a columnar store and searches them with
NanoQL, a boolean query language with field modifiers (site:, title:, url:),
quoted phrases and regular expressions. Queries are rewritten by a fixpoint
optimizer before they run.`,
		SilenceUsage: true,
		// Runs before any subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envPath != "" {
				// A missing default .env is fine; an explicit one must load.
				if err := godotenv.Load(opts.envPath); err != nil && cmd.Flags().Changed("env") {
					return fmt.Errorf("load %s: %w", opts.envPath, err)
				}
			}
			if err := applyEnv(cmd,
				"log-level", "NANOSEARCH_LOG_LEVEL",
				"log-format", "NANOSEARCH_LOG_FORMAT",
			); err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envPath, "env", "./.env", "Path to .env file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newExplainCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// applyEnv takes flag/variable pairs and sets each flag from its environment
// variable unless the flag was given on the command line.
func applyEnv(cmd *cobra.Command, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		flag, env := pairs[i], pairs[i+1]
		f := cmd.Flags().Lookup(flag)
		if f == nil || f.Changed {
			continue
		}
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := cmd.Flags().Set(flag, v); err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}
