package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/wagateway/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var resolveTimeout time.Duration

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Manage the browser runtime",
}

var browserResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Locate or download the browser runtime",
	Long: `Run browser discovery once: the configured binary, known system paths,
then a managed download when allowed. Prints the executable path.`,
	RunE: runBrowserResolve,
}

func init() {
	browserResolveCmd.Flags().DurationVar(&resolveTimeout, "timeout", 5*time.Minute, "maximum time to spend locating or downloading")
	browserCmd.AddCommand(browserResolveCmd)
	rootCmd.AddCommand(browserCmd)
}

func runBrowserResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resolver := browser.NewResolver(browser.ResolverConfig{
		Bin:           cfg.Browser.Bin,
		AllowDownload: cfg.Browser.AllowDownload,
		DownloadDir:   cfg.Browser.DownloadDir,
		Logger:        zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger(),
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), resolveTimeout)
	defer cancel()

	path, err := resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("browser runtime unavailable: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
