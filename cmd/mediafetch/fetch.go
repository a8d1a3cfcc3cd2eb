package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mediafetch/internal/downloader"
	"mediafetch/pkg/archive"
	"mediafetch/pkg/auth"
	"mediafetch/pkg/client"
	"mediafetch/pkg/config"
	"mediafetch/pkg/feed"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/proxy"
	"mediafetch/pkg/ratelimit"
	"mediafetch/pkg/transfer"
)

var (
	outputDir      string
	accountName    string
	proxyURL       string
	proxyFile      string
	concurrency    int
	noAria2        bool
	anonymous      bool
	withHighlights bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <handle>...",
	Short: "Download all media from one or more users' timelines",
	Long: `Download every image and video from the given users' timelines.

Already-downloaded items are tracked in the download archive and skipped,
so interrupted runs can simply be re-run. Pages are fetched through the
rate limiter one at a time; only asset transfers run in parallel. With
several handles the session, rate-limit window, and proxy pool are shared
across all of them, and one failing handle does not stop the rest.

Credentials come from stored accounts ('mediafetch auth login'), the
MEDIAFETCH_SESSION_ID / MEDIAFETCH_CSRF_TOKEN environment variables, or
--anonymous for public profiles. Highlight reels sit behind the login
wall, so --highlights cannot be combined with --anonymous.`,
	Example: `  # Download a public profile
  mediafetch fetch someuser --anonymous

  # Several profiles in one run, with highlight reels
  mediafetch fetch alice bob --highlights

  # Download with a stored account through a proxy pool
  mediafetch fetch someuser --account myaccount --proxy-file proxies.txt

  # Re-run later; archived items are skipped
  mediafetch fetch someuser`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default from config)")
	fetchCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	fetchCmd.Flags().StringVar(&proxyURL, "proxy", "", "proxy endpoint (http, https, or socks5 URL)")
	fetchCmd.Flags().StringVar(&proxyFile, "proxy-file", "", "file with one proxy URL per line")
	fetchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel asset transfers per batch")
	fetchCmd.Flags().BoolVar(&noAria2, "no-aria2", false, "do not delegate transfers to aria2c")
	fetchCmd.Flags().BoolVar(&anonymous, "anonymous", false, "fetch without credentials")
	fetchCmd.Flags().BoolVar(&withHighlights, "highlights", false, "also download highlight reels (requires credentials)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	handles := make([]string, 0, len(args))
	for _, arg := range args {
		handles = append(handles, feed.SanitizeHandle(arg))
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFetchFlags(cfg)

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return err
	}
	logger.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := fetchAll(ctx, cfg, handles, log)
	if err != nil {
		if ctx.Err() != nil {
			log.WarnWithFields("interrupted; archived items will be skipped on the next run", map[string]interface{}{
				"handles": strings.Join(handles, ","),
			})
			fmt.Fprintf(os.Stderr, "interrupted: %s\n", report)
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, report)
		return err
	}

	fmt.Println(report)
	if report.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

// applyFetchFlags overlays command-line flags on the loaded configuration.
func applyFetchFlags(cfg *config.Config) {
	if outputDir != "" {
		cfg.Output.BaseDirectory = outputDir
	}
	if proxyURL != "" {
		cfg.Proxy.URL = proxyURL
	}
	if proxyFile != "" {
		cfg.Proxy.File = proxyFile
	}
	if concurrency > 0 {
		cfg.Transfer.Concurrency = concurrency
	}
	if noAria2 {
		cfg.Transfer.UseAria2 = false
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

// fetchEnv carries the pieces one run shares across all handles.
type fetchEnv struct {
	cfg     *config.Config
	session *client.Session
	fetcher *feed.Fetcher
	pacer   *ratelimit.Pacer
	log     logger.Logger
}

// fetchAll builds the shared pipeline and drives it handle by handle.
// A failing handle is logged and skipped; interruption stops the run.
// The returned report aggregates every handle attempted.
func fetchAll(ctx context.Context, cfg *config.Config, handles []string, log logger.Logger) (transfer.Report, error) {
	var report transfer.Report

	if withHighlights && anonymous {
		return report, fmt.Errorf("highlights require credentials; drop --anonymous or run 'mediafetch auth login'")
	}

	rotator, err := buildRotator(cfg, log)
	if err != nil {
		return report, err
	}

	limiter := ratelimit.NewSlidingWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	limiter.SetJitter(cfg.RateLimit.JitterMin, cfg.RateLimit.JitterMax)

	session := client.NewSession(cfg.API.UserAgent, cfg.API.Timeout, rotator, log)
	defer session.Close()

	if !anonymous {
		if err := applyCredentials(session, log); err != nil {
			return report, err
		}
	}

	caller := client.NewCaller(limiter, rotator, &cfg.Retry, log)
	caller.OnThrottleWait(session.Refresh)

	env := &fetchEnv{
		cfg:     cfg,
		session: session,
		fetcher: feed.NewFetcher(session, caller, cfg.API.BaseURL, cfg.API.PageSize, log),
		// Proxied runs skip the long rest breaks.
		pacer: ratelimit.NewPacer(rotator.Enabled()),
		log:   log,
	}

	var failed []string
	for _, handle := range handles {
		handleReport, err := fetchHandle(ctx, env, handle)
		report.Merge(handleReport)
		if err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			log.ErrorWithFields("handle failed", map[string]interface{}{
				"handle": handle,
				"error":  err.Error(),
			})
			failed = append(failed, handle)
		}
	}

	if len(failed) > 0 {
		return report, fmt.Errorf("%d of %d handles failed: %s", len(failed), len(handles), strings.Join(failed, ", "))
	}
	return report, nil
}

// fetchHandle downloads one user's timeline, and their highlight reels
// when requested. The returned report covers everything attempted before
// completion or cancellation.
func fetchHandle(ctx context.Context, env *fetchEnv, handle string) (transfer.Report, error) {
	var report transfer.Report
	cfg := env.cfg

	dest := cfg.Output.BaseDirectory
	if cfg.Output.CreateUserFolders {
		dest = filepath.Join(dest, handle)
	}

	archivePath := cfg.Archive.Path
	if archivePath == "" {
		archivePath = filepath.Join(dest, ".archive")
	}
	arch, err := archive.Open(archivePath)
	if err != nil {
		return report, fmt.Errorf("failed to open archive: %w", err)
	}
	defer arch.Close()

	agent := buildAgent(ctx, cfg, dest, env.session.DownloadAsset, env.log)
	orch := transfer.NewOrchestrator(arch, agent, env.session.DownloadAsset, cfg.Transfer.BatchSize, env.log)

	profile, err := env.fetcher.Profile(ctx, handle)
	if err != nil {
		return report, fmt.Errorf("failed to resolve profile: %w", err)
	}
	env.log.InfoWithFields("profile resolved", map[string]interface{}{
		"handle": profile.Handle,
		"posts":  profile.PostCount,
	})

	timeline, err := env.fetcher.Timeline(profile)
	if err != nil {
		return report, err
	}

	cursor := ""
	for {
		page, err := timeline.FetchPage(ctx, cursor)
		if err != nil {
			return report, fmt.Errorf("failed to fetch timeline page: %w", err)
		}

		descriptors := feed.Descriptors(profile.Handle, dest, page.Posts)
		pageReport, err := orch.Transfer(ctx, descriptors)
		report.Merge(pageReport)
		if err != nil {
			return report, err
		}
		if err := env.pacer.Processed(ctx, len(page.Posts)); err != nil {
			return report, err
		}

		if !page.HasNextPage || page.EndCursor == "" {
			break
		}
		cursor = page.EndCursor
	}

	if withHighlights {
		highlightReport, err := fetchHighlights(ctx, env, orch, profile, dest)
		report.Merge(highlightReport)
		if err != nil {
			return report, err
		}
	}

	env.log.InfoWithFields("fetch complete", map[string]interface{}{
		"handle":    handle,
		"succeeded": report.Succeeded,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	return report, nil
}

// fetchHighlights transfers every highlight reel of the profile. Reels
// land under {dest}/highlights/{slug}; same-titled reels get numbered
// slugs within the run.
func fetchHighlights(ctx context.Context, env *fetchEnv, orch *transfer.Orchestrator, profile *feed.Profile, dest string) (transfer.Report, error) {
	var report transfer.Report

	highlights, err := env.fetcher.Highlights(ctx, profile.ID)
	if err != nil {
		return report, fmt.Errorf("failed to list highlights: %w", err)
	}
	env.log.InfoWithFields("highlights listed", map[string]interface{}{
		"handle": profile.Handle,
		"reels":  len(highlights),
	})

	slugs := feed.SlugSet{}
	for _, h := range highlights {
		slug := slugs.Claim(feed.Slugify(h.Title))

		items, err := env.fetcher.HighlightItems(ctx, h.ID)
		if err != nil {
			return report, fmt.Errorf("failed to fetch highlight %q: %w", h.Title, err)
		}

		descriptors := feed.HighlightDescriptors(profile.Handle, dest, slug, items)
		reelReport, err := orch.Transfer(ctx, descriptors)
		report.Merge(reelReport)
		if err != nil {
			return report, err
		}
		if err := env.pacer.Processed(ctx, len(items)); err != nil {
			return report, err
		}
	}
	return report, nil
}

// buildRotator picks the egress mode: explicit URL, pool file, or direct.
func buildRotator(cfg *config.Config, log logger.Logger) (*proxy.Rotator, error) {
	switch {
	case cfg.Proxy.URL != "":
		return proxy.Single(cfg.Proxy.URL)
	case cfg.Proxy.File != "":
		return proxy.FromFile(cfg.Proxy.File, cfg.Proxy.RotateEvery, log)
	default:
		return proxy.Direct(), nil
	}
}

// buildAgent selects the transfer strategy: aria2c when enabled and on
// PATH, otherwise the in-process worker pool. Leftover aria2c journals
// from interrupted runs are replayed first.
func buildAgent(ctx context.Context, cfg *config.Config, dest string, fetch transfer.FetchFunc, log logger.Logger) transfer.Agent {
	if cfg.Transfer.UseAria2 && transfer.Aria2Available() {
		agent := transfer.NewAria2Agent(dest, cfg.Transfer.Concurrency, log)
		if n, err := agent.ResumePending(ctx); err == nil && n > 0 {
			log.InfoWithFields("resumed interrupted batches", map[string]interface{}{"count": n})
		}
		return agent
	}
	if cfg.Transfer.Concurrency > 1 {
		return downloader.NewPool(cfg.Transfer.Concurrency, fetch, log)
	}
	return nil // sequential fallback
}

// applyCredentials resolves stored credentials and installs them on the
// session. Auth rejections are terminal mid-run, so missing credentials
// fail fast here instead.
func applyCredentials(session *client.Session, log logger.Logger) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var account *auth.Account
	if accountName != "" {
		account, err = manager.Retrieve(accountName)
	} else {
		account, err = manager.RetrieveDefault()
	}
	if err != nil {
		return fmt.Errorf("no credentials available (run 'mediafetch auth login' or pass --anonymous): %w", err)
	}

	account.ApplyTo(session)
	log.DebugWithFields("credentials applied", map[string]interface{}{
		"account": account.Handle,
	})
	return nil
}
