// Command car-deal-hunter runs the pipeline from the command line:
// scrape alert mails, estimate values, compute offers and list the best
// deals.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"car-deal-hunter/internal/app"
	"car-deal-hunter/internal/config"
	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "config.yaml", "path to the YAML config file")
		doScrape    = flag.Bool("scrape", false, "fetch and store new listings")
		doEstimate  = flag.Bool("estimate", false, "estimate values for unestimated listings")
		doCalculate = flag.Bool("calculate", false, "compute offers for estimated listings")
		doDeals     = flag.Bool("deals", false, "print the current best deals")
		doAll       = flag.Bool("all", false, "run scrape, estimate, calculate and deals")
		emails      = flag.Int("emails", 5, "max messages to fetch per source")
		estimates   = flag.Int("estimates", 5, "max listings to estimate in this run")
		minDiscount = flag.Float64("min-discount", 15, "minimum discount percentage for deals")
		markRead    = flag.Bool("mark-read", false, "acknowledge mails whose listings stored cleanly")
		unreadOnly  = flag.Bool("unread", false, "only fetch unread mails")
		sourceName  = flag.String("source", "", "restrict scraping to one source (file|email|gmail_api|web)")
		dealLimit   = flag.Int("limit", 20, "max deals to print")
	)
	flag.Parse()

	if !*doScrape && !*doEstimate && !*doCalculate && !*doDeals && !*doAll {
		flag.Usage()
		os.Exit(2)
	}

	logger := app.NewLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", *configPath).Msg("Config file not loaded, using defaults")
		cfg = config.DefaultConfig()
	}
	logger = app.ApplyLogLevel(logger, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Startup failed")
	}
	defer stack.Close()

	if *doScrape || *doAll {
		report, err := stack.Pipeline.Scrape(ctx, pipeline.ScrapeOptions{
			Limit:      *emails,
			UnreadOnly: *unreadOnly,
			MarkRead:   *markRead,
			Source:     *sourceName,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Scrape failed")
		}
		logger.Info().
			Int("messages", report.Messages).
			Int("extracted", report.Extracted).
			Int("inserted", report.Inserted).
			Int("updated", report.Updated).
			Msg("Scrape finished")
	}

	if *doEstimate || *doAll {
		report, err := stack.Pipeline.Estimate(ctx, *estimates)
		if err != nil {
			logger.Fatal().Err(err).Msg("Estimation failed")
		}
		logger.Info().Int("estimated", report.Estimated).Int("errors", report.Errors).Msg("Estimation finished")
	}

	if *doCalculate || *doAll {
		report, err := stack.Pipeline.ComputeOffers(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Offer computation failed")
		}
		logger.Info().Int("offers", report.Offers).Int("published", report.Published).Msg("Offers computed")
	}

	if *doDeals || *doAll {
		deals, err := stack.Pipeline.Deals(*minDiscount, *dealLimit)
		if err != nil {
			logger.Fatal().Err(err).Msg("Deal query failed")
		}
		printDeals(deals, *minDiscount)
	}
}

func printDeals(deals []models.Listing, minDiscount float64) {
	if len(deals) == 0 {
		fmt.Printf("No deals at or above %.0f%% discount.\n", minDiscount)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISCOUNT\tPRICE\tESTIMATE\tOFFER\tTITLE\tURL")
	for _, deal := range deals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			pct(deal.DiscountPercentage),
			euros(deal.Price),
			euros(deal.EstimatedValue),
			euros(deal.SuggestedOffer),
			truncate(deal.Title, 40),
			deal.CanonicalURL,
		)
	}
	w.Flush()
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func euros(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("€%.0f", *v)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
