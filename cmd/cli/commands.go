package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-corporation/threatdeck/internal/adapter/exporter"
	"github.com/hive-corporation/threatdeck/internal/adapter/handler"
	"github.com/hive-corporation/threatdeck/internal/client"
	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// filterFlags binds the FilterOptions fields to command flags.
type filterFlags struct {
	severity   string
	source     string
	iocType    string
	confidence string
	from       string
	to         string
	search     string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.severity, "severity", "", "low, medium, high or critical")
	cmd.Flags().StringVar(&f.source, "source", "", "exact source name")
	cmd.Flags().StringVar(&f.iocType, "type", "", "ip, domain, url, hash or email")
	cmd.Flags().StringVar(&f.confidence, "confidence", "", "low, medium or high")
	cmd.Flags().StringVar(&f.from, "from", "", "inclusive lower bound (epoch ms, RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "inclusive upper bound (epoch ms, RFC3339 or YYYY-MM-DD, a date covers the whole day)")
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "free-text search")
}

func (f *filterFlags) options() (domain.FilterOptions, error) {
	opts := domain.FilterOptions{
		Severity:   domain.Severity(f.severity),
		Source:     f.source,
		IOCType:    domain.IOCType(f.iocType),
		Confidence: domain.Confidence(f.confidence),
		Search:     f.search,
	}
	if f.from != "" {
		ms, err := domain.ParseInstant(f.from)
		if err != nil {
			return opts, fmt.Errorf("--from: %w", err)
		}
		opts.DateFrom = &ms
	}
	if f.to != "" {
		ms, err := domain.ParseInstantEnd(f.to)
		if err != nil {
			return opts, fmt.Errorf("--to: %w", err)
		}
		opts.DateTo = &ms
	}
	return opts, nil
}

func newLoginCmd(st *cliState) *cobra.Command {
	var (
		token     string
		jwtSecret string
		subject   string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for later commands",
		Long: `Stores the token given with --token, or read from stdin. With --jwt-secret
an HS256 token is minted locally for --subject instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case jwtSecret != "":
				auth := handler.NewAuthenticator("", jwtSecret, nil)
				signed, err := auth.IssueToken(subject, ttl)
				if err != nil {
					return err
				}
				token = signed
			case token == "":
				fmt.Fprint(os.Stderr, "Token: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}

			if err := st.tokens.Save(token); err != nil {
				return err
			}
			if _, err := st.api.GetStats(cmd.Context()); err != nil {
				_ = st.tokens.Clear()
				return fmt.Errorf("token was not accepted: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Logged in to %s (token stored in %s)\n", st.api.BaseURL(), st.tokens.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "static API token or JWT")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "mint a token with this HS256 secret")
	cmd.Flags().StringVar(&subject, "subject", "analyst", "subject claim for minted tokens")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "lifetime of minted tokens")
	return cmd
}

func newLogoutCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.tokens.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "👋 Logged out")
			return nil
		},
	}
}

func newHealthCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := st.api.GetHealth(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
}

func newDashboardCmd(st *cliState) *cobra.Command {
	var (
		ff       filterFlags
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show stats, recent threats, AI analysis and the filtered feed and IOC tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			opts, err := ff.options()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store := st.newStore(client.WithRefreshInterval(interval))
			store.SetFilters(opts)
			store.SetSearchQuery(ff.search)

			render := func() error {
				// the dashboard still renders without the AI panel
				summaries, _ := st.api.GetAISummaries(ctx)
				return client.RenderDashboard(out, client.DashboardFromStore(store, summaries))
			}

			if !watch {
				if err := store.RefreshData(ctx); err != nil {
					return err
				}
				return render()
			}

			store.Start(ctx)
			defer store.Stop()

			waitFirstRefresh(ctx, store, st.cfg.Client.Timeout)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				fmt.Fprint(out, "\033[H\033[2J")
				if err := render(); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	ff.bind(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultRefreshInterval, "refresh interval with --watch")
	return cmd
}

// waitFirstRefresh blocks until the store has committed or given up on its
// first refresh, bounded by limit.
func waitFirstRefresh(ctx context.Context, store *client.Store, limit time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()
	for {
		if !store.Snapshot().UpdatedAt.IsZero() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		}
	}
}

func newFeedsCmd(st *cliState) *cobra.Command {
	var (
		ff     filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "feeds [id]",
		Short: "List threat feed items, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				feed, err := st.api.GetFeed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(out, feed)
			}

			opts, err := ff.options()
			if err != nil {
				return err
			}
			feeds, err := st.api.GetFeeds(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, feeds)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tSOURCE\tTIME\tTITLE")
			for _, f := range feeds {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Severity, f.Source, f.Time().UTC().Format(time.RFC3339), f.Title)
			}
			return tw.Flush()
		},
	}
	ff.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newIOCsCmd(st *cliState) *cobra.Command {
	var (
		ff     filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "iocs [id]",
		Short: "List indicators of compromise, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				ioc, err := st.api.GetIOC(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(out, ioc)
			}

			opts, err := ff.options()
			if err != nil {
				return err
			}
			iocs, err := st.api.GetIOCs(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, iocs)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tVALUE\tSOURCE\tCONFIDENCE\tFIRST SEEN")
			for _, i := range iocs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", i.Type, i.Value, i.Source, i.Confidence, i.FirstSeenTime().UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	ff.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newLookupCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <value>",
		Short: "Check whether an exact indicator value is known",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := st.api.CheckIOC(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Exists {
				fmt.Fprintf(out, "✅ [CLEAN] %s\n", res.Value)
				return nil
			}
			fmt.Fprintf(out, "🚨 [KNOWN] %s (score %d) seen by %s\n", res.Value, res.ConfidenceScore, strings.Join(res.Sources, ", "))
			return nil
		},
	}
}

func newSearchCmd(st *cliState) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over feeds and IOCs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := st.api.Search(cmd.Context(), args[0], domain.SearchScope(scope))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&scope, "in", "all", "feeds, iocs or all")
	return cmd
}

func newRefreshCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Trigger server-side collection and pull the new data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := st.newStore()
			if err := store.RefreshFeeds(cmd.Context()); err != nil {
				return err
			}
			snap := store.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "📦 %d feeds, %d IOCs, threat level %s\n",
				len(snap.Feeds), len(snap.IOCs), snap.Stats.ThreatLevel)
			return nil
		},
	}
}

func newSummariesCmd(st *cliState) *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "Show AI summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				summaries []domain.AISummary
				err       error
			)
			if generate {
				summaries, err = st.api.GenerateAISummary(cmd.Context())
			} else {
				summaries, err = st.api.GetAISummaries(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range summaries {
				fmt.Fprintf(out, "[%s %d%%] %s\n", s.Type, s.Confidence, s.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a fresh set first")
	return cmd
}

func newNotificationsCmd(st *cliState) *cobra.Command {
	var markRead string
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List dashboard notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if markRead != "" {
				return st.api.MarkNotificationRead(ctx, markRead)
			}
			notes, err := st.api.GetNotifications(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tREAD\tTITLE\tMESSAGE")
			for _, n := range notes {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", n.ID, n.Type, n.Read, n.Title, n.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&markRead, "read", "", "mark the notification with this id as read")
	return cmd
}

func newTrendsCmd(st *cliState) *cobra.Command {
	var (
		days int
		top  int
	)
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Daily activity, per-source activity and top threats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			points, err := st.api.GetThreatTrends(ctx, days)
			if err != nil {
				return err
			}
			sources, err := st.api.GetThreatMap(ctx)
			if err != nil {
				return err
			}
			threats, err := st.api.GetTopThreats(ctx, top)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tFEEDS\tIOCS\tHIGH")
			for _, p := range points {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", p.Date, p.Feeds, p.IOCs, p.High)
			}
			fmt.Fprintln(tw, "\nSOURCE\tFEEDS\tIOCS\tHIGHEST")
			for _, s := range sources {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.Source, s.Feeds, s.IOCs, s.HighestSeverity)
			}
			fmt.Fprintln(tw, "\nSEVERITY\tSOURCE\tTITLE")
			for _, f := range threats {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Severity, f.Source, f.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days of history")
	cmd.Flags().IntVar(&top, "top", 10, "number of top threats")
	return cmd
}

func newExportCmd(st *cliState) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the full export as json, stix or cef",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if format == "" || format == exporter.FormatJSON {
				path, err := st.newStore().ExportData(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "💾 %s\n", path)
				return nil
			}

			data, err := st.api.DownloadExport(ctx, format)
			if err != nil {
				return err
			}
			dir := st.cfg.Client.ExportDir
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, domain.ExportFilename(time.Now(), exporter.Extension(format)))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "💾 %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", exporter.FormatJSON, "json, stix or cef")
	return cmd
}
