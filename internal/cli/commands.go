package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show raffle state, pool and pending draw",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raffle, err := opts.call(cmd.Context(), http.MethodGet, "/raffle", nil)
			if err != nil {
				return err
			}
			if opts.emit(cmd, raffle) {
				return nil
			}
			p := NewPrinter(cmd.OutOrStdout())
			p.Info(fmt.Sprintf("raffle %s is %s", raffle.Get("account").String(), raffle.Get("state").String()))
			p.Field("entrance fee", raffle.Get("entrance_fee").String())
			p.Field("interval", raffle.Get("interval").String())
			p.Field("players", raffle.Get("players").Int())
			if w := raffle.Get("recent_winner").String(); w != "" {
				p.Field("recent winner", w)
			}
			if last := raffle.Get("last_timestamp").Time(); !last.IsZero() {
				p.Field("last draw", fmt.Sprintf("%s ago", formatDuration(time.Since(last))))
			}
			if id := raffle.Get("pending_request").Uint(); id != 0 {
				p.Field("pending request", id)
			}
			return nil
		},
	}
}

// NewEnterCommand creates the enter command.
func NewEnterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enter <player> <amount>",
		Short: "Enter a participant, paying amount from its ledger account",
		Example: `  rafflectl enter alice 0.01
  rafflectl enter NZNovjKCf5rRjAvYtH9HDmbU8Eiv7gJSvV 0.5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.call(cmd.Context(), http.MethodPost, "/enter", map[string]string{
				"player": args[0],
				"amount": args[1],
			})
			if err != nil {
				return err
			}
			if opts.emit(cmd, res) {
				return nil
			}
			NewPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("%s entered with %s (%d players)",
				res.Get("player").String(), res.Get("amount").String(), res.Get("players").Int()))
			return nil
		},
	}
}

// NewPlayersCommand creates the players command.
func NewPlayersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "players [index]",
		Short: "List participants of the current round, or show one by index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if _, err := strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("invalid index %q", args[0])
				}
				res, err := opts.call(cmd.Context(), http.MethodGet, "/players/"+args[0], nil)
				if err != nil {
					return err
				}
				if !opts.emit(cmd, res) {
					fmt.Fprintln(cmd.OutOrStdout(), res.Get("player").String())
				}
				return nil
			}

			res, err := opts.call(cmd.Context(), http.MethodGet, "/players", nil)
			if err != nil {
				return err
			}
			if opts.emit(cmd, res) {
				return nil
			}
			for i, v := range res.Get("players").Array() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, v.String())
			}
			return nil
		},
	}
}

// NewUpkeepCommand creates the upkeep command.
func NewUpkeepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upkeep",
		Short: "Evaluate whether a draw is due and why",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.call(cmd.Context(), http.MethodGet, "/upkeep", nil)
			if err != nil {
				return err
			}
			if opts.emit(cmd, res) {
				return nil
			}
			p := NewPrinter(cmd.OutOrStdout())
			if res.Get("upkeep_needed").Bool() {
				p.Success("draw is due")
			} else {
				p.Warning("draw is not due")
			}
			p.Field("open", res.Get("is_open").Bool())
			p.Field("time passed", fmt.Sprintf("%t (%s)", res.Get("time_passed").Bool(), res.Get("elapsed").String()))
			p.Field("has players", fmt.Sprintf("%t (%d)", res.Get("has_players").Bool(), res.Get("players").Int()))
			p.Field("has balance", fmt.Sprintf("%t (%s)", res.Get("has_balance").Bool(), res.Get("balance_display").String()))
			return nil
		},
	}
}

// DrawOptions holds flags for the draw command.
type DrawOptions struct {
	*RootOptions
	Wait         bool
	PollInterval time.Duration
}

// NewDrawCommand creates the draw command.
func NewDrawCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrawOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Perform upkeep: close entry and request randomness",
		Long: `Perform upkeep: close entry and request randomness.

Anyone may trigger a draw once it is due. With --wait the command polls
until the draw settles and prints the winner.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraw(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for the winner")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", time.Second, "poll interval with --wait")
	return cmd
}

func runDraw(cmd *cobra.Command, opts *DrawOptions) error {
	ctx := cmd.Context()
	res, err := opts.call(ctx, http.MethodPost, "/upkeep/perform", nil)
	if err != nil {
		return err
	}
	requestID := res.Get("request_id").Uint()
	if !opts.Wait {
		if !opts.emit(cmd, res) {
			NewPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("draw requested (request %d)", requestID))
		}
		return nil
	}

	p := NewPrinter(cmd.OutOrStdout())
	spinner := NewSpinner(p, fmt.Sprintf("waiting for request %d", requestID))
	spinner.Start()
	defer spinner.Stop()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		raffle, err := opts.call(ctx, http.MethodGet, "/raffle", nil)
		if err != nil {
			return err
		}
		if raffle.Get("pending_request").Uint() != requestID {
			spinner.Stop()
			if !opts.emit(cmd, raffle) {
				p.Success(fmt.Sprintf("request %d settled, winner %s", requestID, raffle.Get("recent_winner").String()))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NewEventsCommand creates the events command.
func NewEventsCommand(opts *RootOptions) *cobra.Command {
	var (
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if eventType != "" {
				q.Set("type", eventType)
			}
			res, err := opts.call(cmd.Context(), http.MethodGet, "/events?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			if opts.emit(cmd, res) {
				return nil
			}
			for _, n := range res.Get("events").Array() {
				fmt.Fprintln(cmd.OutOrStdout(), describe(n))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "only this notification type")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum notifications")
	return cmd
}

// describe renders one notification as a single line.
func describe(n gjson.Result) string {
	prefix := fmt.Sprintf("#%d %s", n.Get("sequence").Uint(), n.Get("type").String())
	switch n.Get("type").String() {
	case "participant.entered":
		return fmt.Sprintf("%s player=%s", prefix, n.Get("player").String())
	case "draw.requested":
		return fmt.Sprintf("%s request=%d", prefix, n.Get("request_id").Uint())
	case "winner.picked":
		return fmt.Sprintf("%s request=%d winner=%s", prefix, n.Get("request_id").Uint(), n.Get("winner").String())
	}
	return prefix
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Re-request randomness for a stale draw (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.call(cmd.Context(), http.MethodPost, "/admin/recover", nil)
			if err != nil {
				return err
			}
			if !opts.emit(cmd, res) {
				NewPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("draw re-requested (request %d)", res.Get("request_id").Uint()))
			}
			return nil
		},
	}
}

// NewFulfillCommand creates the fulfill command.
func NewFulfillCommand(opts *RootOptions) *cobra.Command {
	var words []string
	cmd := &cobra.Command{
		Use:   "fulfill <request-id>",
		Short: "Fulfil a pending randomness request now (admin)",
		Long: `Fulfil a pending randomness request now (admin).

Without --word the coordinator generates verifiable words. Each --word
overrides one word with a decimal integer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid request id %q", args[0])
			}
			var body any
			if len(words) > 0 {
				body = map[string][]string{"words": words}
			}
			res, err := opts.call(cmd.Context(), http.MethodPost, "/vrf/fulfill/"+args[0], body)
			if err != nil {
				return err
			}
			if !opts.emit(cmd, res) {
				NewPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("request %s %s", args[0], res.Get("status").String()))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&words, "word", nil, "override a random word (repeatable)")
	return cmd
}
