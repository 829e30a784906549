package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

// NewVRFCommand creates the vrf command group.
func NewVRFCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vrf",
		Short: "Inspect the randomness coordinator",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "request <id>",
		Short: "Show a randomness request with its words and proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid request id %q", args[0])
			}
			res, err := opts.call(cmd.Context(), http.MethodGet, "/vrf/requests/"+args[0], nil)
			if err != nil {
				return err
			}
			if opts.emit(cmd, res) {
				return nil
			}
			p := NewPrinter(cmd.OutOrStdout())
			p.Info(fmt.Sprintf("request %d for %s", res.Get("id").Uint(), res.Get("consumer").String()))
			p.Field("status", res.Get("status").String())
			for i, w := range res.Get("words").Array() {
				p.Field(fmt.Sprintf("word %d", i), w.String())
			}
			if e := res.Get("error").String(); e != "" {
				p.Field("error", e)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show request counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.call(cmd.Context(), http.MethodGet, "/vrf/stats", nil)
			if err != nil {
				return err
			}
			if opts.emit(cmd, res) {
				return nil
			}
			p := NewPrinter(cmd.OutOrStdout())
			for _, key := range []string{"total_requests", "pending_requests", "fulfilled_requests", "failed_requests"} {
				p.Field(key, res.Get(key).Int())
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "public-key",
		Short: "Print the base64 VRF public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.call(cmd.Context(), http.MethodGet, "/vrf/public-key", nil)
			if err != nil {
				return err
			}
			if !opts.emit(cmd, res) {
				fmt.Fprintln(cmd.OutOrStdout(), res.Get("public_key").String())
			}
			return nil
		},
	})
	return cmd
}
