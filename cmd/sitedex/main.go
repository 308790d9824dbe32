package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/app"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/services/engine"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sitedex [flags] <command> [args]

Commands:
  ingest <url>              Register a website and crawl it into the page store
  index <domain>            Upload ready pages to the search store
  sync <domain>             Reconcile stored pages with the live site
  ask <domain> <question>   Ask a grounded question about an indexed website
  recover <job-id>          Resume an ingestion whose process died mid-run
  list                      List registered websites
  watch                     Run scheduled syncs for all registered websites

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Sitedex version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	// Startup sequence: config (defaults -> files -> env), logger, banner.
	if len(configFiles) == 0 {
		if _, err := os.Stat("sitedex.toml"); err == nil {
			configFiles = append(configFiles, "sitedex.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if err := runCommand(ctx, application, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Fatal().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, application *app.App, command string, args []string) error {
	switch command {
	case "ingest":
		return runIngest(ctx, application, args)
	case "index":
		return runIndex(ctx, application, args)
	case "sync":
		return runSync(ctx, application, args)
	case "ask":
		return runAsk(ctx, application, args)
	case "recover":
		return runRecover(ctx, application, args)
	case "list":
		return runList(ctx, application)
	case "watch":
		return runWatch(ctx, application)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runIngest(ctx context.Context, application *app.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sitedex ingest <url> [display-name]")
	}
	displayName := ""
	if len(args) > 1 {
		displayName = strings.Join(args[1:], " ")
	}

	result, err := application.Engine.Ingest(ctx, args[0], displayName)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %s\n", result.BaseDomain)
	fmt.Printf("  website:    %s\n", result.WebsiteID)
	fmt.Printf("  store:      %s\n", result.SearchStoreID)
	fmt.Printf("  discovered: %d\n", result.PagesDiscovered)
	fmt.Printf("  written:    %d\n", result.PagesWritten)
	printJobErrors(len(result.Errors))
	fmt.Printf("\nRun `sitedex index %s` to make the pages queryable.\n", result.BaseDomain)
	return nil
}

func runIndex(ctx context.Context, application *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sitedex index <domain>")
	}
	website, err := resolveWebsite(ctx, application, args[0])
	if err != nil {
		return err
	}

	result, err := application.Engine.Index(ctx, engine.IndexOptions{
		WebsiteID:       website,
		AutoCreateStore: true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d pages (job %s)\n", result.PagesIndexed, result.IndexingJobID)
	printJobErrors(len(result.Errors))
	return nil
}

func runSync(ctx context.Context, application *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sitedex sync <domain>")
	}
	website, err := resolveWebsite(ctx, application, args[0])
	if err != nil {
		return err
	}

	result, err := application.Engine.Sync(ctx, website)
	if err != nil {
		return err
	}

	fmt.Printf("Sync complete (job %s)\n", result.SyncJobID)
	fmt.Printf("  discovered: %d\n", result.URLsDiscovered)
	fmt.Printf("  updated:    %d\n", result.URLsUpdated)
	fmt.Printf("  deletions:  %d\n", result.URLsDeleted)
	printJobErrors(len(result.Errors))
	return nil
}

func runAsk(ctx context.Context, application *app.App, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: sitedex ask <domain> <question>")
	}
	question := strings.Join(args[1:], " ")

	answer, err := application.Query.Ask(ctx, question, args[0])
	if err != nil {
		return err
	}

	fmt.Println(answer.Answer)
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, citation := range answer.Citations {
			if citation.Title != "" {
				fmt.Printf("  - %s (%s)\n", citation.Title, citation.URL)
			} else {
				fmt.Printf("  - %s\n", citation.URL)
			}
		}
	}
	return nil
}

func runRecover(ctx context.Context, application *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sitedex recover <job-id>")
	}

	result, err := application.Engine.RecoverIngestion(ctx, args[0])
	if err != nil {
		return err
	}

	switch result.Status {
	case engine.RecoveryStatusCompleted:
		fmt.Printf("Recovered: %d pages written for %s\n", result.Result.PagesWritten, result.Result.BaseDomain)
	case engine.RecoveryStatusStillRunning:
		fmt.Println("The crawl batch is still running; try again later.")
	default:
		fmt.Printf("Recovery %s: %s\n", result.Status, result.Error)
	}
	return nil
}

func runList(ctx context.Context, application *app.App) error {
	websites, err := application.StorageManager.WebsiteStorage().ListWebsites(ctx)
	if err != nil {
		return err
	}
	if len(websites) == 0 {
		fmt.Println("No websites registered. Run `sitedex ingest <url>` first.")
		return nil
	}

	for _, w := range websites {
		lastCrawl := "never"
		if w.LastFullCrawl != nil {
			lastCrawl = w.LastFullCrawl.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-30s store=%-40s last_crawl=%s\n", w.BaseDomain, w.SearchStoreID, lastCrawl)
	}
	return nil
}

// runWatch syncs every registered website on the configured cron schedule
// until interrupted.
func runWatch(ctx context.Context, application *app.App) error {
	schedule := config.Schedule.Cron
	if err := common.ValidateSyncSchedule(schedule); err != nil {
		return err
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		websites, listErr := application.StorageManager.WebsiteStorage().ListWebsites(ctx)
		if listErr != nil {
			logger.Error().Err(listErr).Msg("Scheduled sync: failed to list websites")
			return
		}
		for _, w := range websites {
			result, syncErr := application.Engine.Sync(ctx, w.ID)
			if syncErr != nil {
				logger.Warn().Str("base_domain", w.BaseDomain).Err(syncErr).Msg("Scheduled sync failed")
				continue
			}
			logger.Info().
				Str("base_domain", w.BaseDomain).
				Int("updated", result.URLsUpdated).
				Int("deletions", result.URLsDeleted).
				Msg("Scheduled sync completed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	c.Start()
	logger.Info().Str("schedule", schedule).Msg("Watching - Press Ctrl+C to stop")
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info().Msg("Watch stopped")
	return nil
}

// resolveWebsite maps a domain or URL argument onto a registered website id.
func resolveWebsite(ctx context.Context, application *app.App, ref string) (string, error) {
	host, err := common.ExtractDomain(common.EnsureScheme(ref))
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", ref, err)
	}
	baseDomain := common.ExtractBaseDomain(host)

	website, err := application.StorageManager.WebsiteStorage().GetWebsiteByBaseDomain(ctx, baseDomain)
	if err != nil {
		return "", fmt.Errorf("%s is not registered; run `sitedex ingest %s` first", baseDomain, baseDomain)
	}
	return website.ID, nil
}

func printJobErrors(count int) {
	if count > 0 {
		fmt.Printf("  errors:     %d (see logs)\n", count)
	}
}
