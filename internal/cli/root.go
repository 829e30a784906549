// Package cli implements rafflectl, the command line client of the raffle API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/neoraffle/internal/httputil"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Token   string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the rafflectl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "rafflectl",
		Short:         "Operate a neoraffle daemon",
		Long:          "rafflectl enters participants, inspects and drives draws, and follows notifications of a running raffle daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("RAFFLE_URL", "http://localhost:8080"), "raffle API base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("RAFFLE_TOKEN"), "bearer token for admin commands")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewEnterCommand(opts))
	cmd.AddCommand(NewPlayersCommand(opts))
	cmd.AddCommand(NewUpkeepCommand(opts))
	cmd.AddCommand(NewDrawCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewFulfillCommand(opts))
	cmd.AddCommand(NewVRFCommand(opts))

	return cmd
}

// Execute runs rafflectl and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		NewPrinter(stderr).Error(err.Error())
		return 1
	}
	return 0
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *RootOptions) client() *httputil.Client {
	return httputil.NewClient(httputil.ClientConfig{
		BaseURL: o.Server,
		Token:   o.Token,
		Timeout: o.Timeout,
	})
}

// call performs a request and returns the parsed body.
func (o *RootOptions) call(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	resp, err := o.client().Do(ctx, method, path, body)
	if err != nil {
		return gjson.Result{}, err
	}
	var raw json.RawMessage
	if err := httputil.DecodeResponse(resp, &raw); err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(raw), nil
}

// emit prints result as indented JSON when --format=json and returns true;
// otherwise the caller renders text.
func (o *RootOptions) emit(cmd *cobra.Command, result gjson.Result) bool {
	if o.Format != "json" {
		return false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(result.Raw), "", "  "); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), result.Raw)
		return true
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return true
}
