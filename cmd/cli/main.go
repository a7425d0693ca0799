package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/client"
	"github.com/hive-corporation/threatdeck/internal/config"
	"github.com/hive-corporation/threatdeck/internal/logging"
)

// errThreatsFound makes the process exit 1 without printing usage.
var errThreatsFound = errors.New("threats found")

type cliState struct {
	configPath string
	apiURL     string
	tokenFile  string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	tokens *client.FileTokenStore
	api    *client.API
}

// stderrToaster prints store notices for the terminal user.
type stderrToaster struct{}

func (stderrToaster) Success(msg string) { fmt.Fprintln(os.Stderr, "✅ "+msg) }
func (stderrToaster) Error(msg string)   { fmt.Fprintln(os.Stderr, "❌ "+msg) }

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:   "threatdeck",
		Short: "Terminal client for the ThreatDeck threat intelligence dashboard",
		Long: `threatdeck talks to a ThreatDeck API server: it shows the dashboard,
lists and filters feeds and IOCs, triggers collection, and exports data
as JSON, STIX 2.1 or CEF.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init()
		},
	}

	root.PersistentFlags().StringVar(&st.configPath, "config", "", "config file (default ./threatdeck.yaml)")
	root.PersistentFlags().StringVar(&st.apiURL, "api-url", "", "API base URL (overrides client.api_url)")
	root.PersistentFlags().StringVar(&st.tokenFile, "token-file", "", "where the bearer token is stored")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newLoginCmd(st),
		newLogoutCmd(st),
		newHealthCmd(st),
		newDashboardCmd(st),
		newFeedsCmd(st),
		newIOCsCmd(st),
		newLookupCmd(st),
		newSearchCmd(st),
		newRefreshCmd(st),
		newSummariesCmd(st),
		newNotificationsCmd(st),
		newTrendsCmd(st),
		newExportCmd(st),
		newScanCmd(st),
	)
	return root
}

func (st *cliState) init() error {
	cfg, err := config.Load(st.configPath)
	if err != nil {
		return err
	}
	st.cfg = cfg

	level := "warn"
	if st.verbose {
		level = "debug"
	}
	st.logger, err = logging.New(level, "console")
	if err != nil {
		return err
	}

	tokenPath := st.tokenFile
	if tokenPath == "" {
		tokenPath = cfg.Client.TokenFile
	}
	if tokenPath == "" {
		tokenPath = client.DefaultTokenPath()
	}
	st.tokens = client.NewFileTokenStore(tokenPath)

	baseURL := st.apiURL
	if baseURL == "" {
		baseURL = cfg.Client.APIURL
	}
	st.api = client.NewAPI(baseURL,
		client.WithTokenStore(st.tokens),
		client.WithTimeout(cfg.Client.Timeout),
		client.WithLogger(st.logger),
		client.WithUnauthorizedHandler(func() {
			fmt.Fprintln(os.Stderr, "🔒 Session expired or token rejected. Run `threatdeck login` to authenticate.")
		}),
	)
	return nil
}

func (st *cliState) newStore(opts ...client.StoreOption) *client.Store {
	opts = append([]client.StoreOption{
		client.WithToaster(stderrToaster{}),
		client.WithStoreLogger(st.logger),
		client.WithExportDir(st.cfg.Client.ExportDir),
	}, opts...)
	return client.NewStore(st.api, opts...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errThreatsFound):
		stop()
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "❌", err)
		stop()
		os.Exit(1)
	}
}
