// Command cli is the operator's tool: link a bank, run sync passes and
// inspect the ledger from a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/nmorozov/bankfeed/internal/archive"
	"github.com/nmorozov/bankfeed/internal/banksync"
	"github.com/nmorozov/bankfeed/internal/config"
	infraBQ "github.com/nmorozov/bankfeed/internal/infra/bigquery"
	"github.com/nmorozov/bankfeed/internal/logger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "link":
		runLink(log)
	case "sync":
		runSync(log)
	case "accounts":
		runAccounts(log)
	case "transactions":
		runTransactions(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bankfeed CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  link          Link a bank with an authorization code or refresh token")
	fmt.Println("  sync          Run a sync pass over one link or all links")
	fmt.Println("  accounts      List the accounts and cards under a link")
	fmt.Println("  transactions  List an account's transactions in a date window")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// deps builds the service stack shared by every command.
func deps(ctx context.Context, log zerolog.Logger) (*banksync.Service, *infraBQ.Store, func()) {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	store, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger store")
	}

	var (
		archiver banksync.Archiver
		closeAll = func() { store.Close() }
	)
	if cfg.ArchiveBucket != "" {
		gcs, err := archive.New(ctx, cfg.ArchiveBucket, "batches")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive store")
		}
		archiver = gcs
		closeAll = func() {
			gcs.Close()
			store.Close()
		}
	}

	psuIP := cfg.PSUIP
	if psuIP == "" {
		if detected, err := truelayer.DetectPublicIP(ctx, nil); err == nil {
			psuIP = detected
		}
	}

	service := banksync.NewService(truelayer.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		PSUIP:        psuIP,
	}, store, archiver, banksync.Options{BackfillDays: cfg.BackfillDays})

	return service, store, closeAll
}

func runLink(log zerolog.Logger) {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	code := fs.String("code", "", "Authorization code from the consent flow")
	refreshToken := fs.String("refresh-token", "", "Refresh token obtained out of band")
	fs.Parse(os.Args[2:])

	if *code == "" && *refreshToken == "" {
		log.Fatal().Msg("Either -code or -refresh-token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	service, _, closeAll := deps(ctx, log)
	defer closeAll()

	var (
		linkID string
		err    error
	)
	if *code != "" {
		linkID, err = service.LinkWithCode(ctx, *code)
	} else {
		linkID, err = service.LinkWithRefreshToken(ctx, *refreshToken)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Linking failed")
	}

	fmt.Printf("Linked: %s\n", linkID)
}

func runSync(log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	linkID := fs.String("link", "", "Link ID to sync (default: all links)")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	service, _, closeAll := deps(ctx, log)
	defer closeAll()

	var (
		reports []*banksync.Report
		err     error
	)
	if *linkID != "" {
		var report *banksync.Report
		report, err = service.SyncLink(ctx, *linkID)
		if report != nil {
			reports = append(reports, report)
		}
	} else {
		reports, err = service.SyncAll(ctx)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	for _, report := range reports {
		if report.Skipped {
			fmt.Printf("%s: up to date\n", report.LinkID)
			continue
		}
		fmt.Printf("%s: %s..%s, %d new transactions\n",
			report.LinkID, report.From, report.To, report.Inserted())
		for _, acc := range report.Accounts {
			marker := ""
			if !acc.BalanceVerified {
				marker = "  [balance chain unverified]"
			}
			fmt.Printf("  %s: fetched %d, inserted %d (%s)%s\n",
				acc.AccountID, acc.Fetched, acc.Inserted, acc.Path, marker)
		}
	}
}

func runAccounts(log zerolog.Logger) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	linkID := fs.String("link", "", "Link ID (required)")
	fs.Parse(os.Args[2:])

	if *linkID == "" {
		log.Fatal().Msg("-link is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	_, store, closeAll := deps(ctx, log)
	defer closeAll()

	for _, card := range []bool{false, true} {
		accounts, err := store.GetAccounts(ctx, *linkID, card)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list accounts")
		}
		for _, acc := range accounts {
			kind := "account"
			if acc.IsCard {
				kind = "card"
			}
			fmt.Printf("%s  %-8s %-24s %s  limit %.2f\n",
				acc.AccountID, kind, acc.DisplayName, acc.Currency, acc.Limit)
		}
	}
}

func runTransactions(log zerolog.Logger) {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID (required)")
	from := fs.String("from", "", "Window start, YYYY-MM-DD (required)")
	to := fs.String("to", "", "Window end, YYYY-MM-DD (required)")
	fs.Parse(os.Args[2:])

	if *accountID == "" || *from == "" || *to == "" {
		log.Fatal().Msg("-account, -from and -to are required")
	}
	fromDate, err := civil.ParseDate(*from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -from date")
	}
	toDate, err := civil.ParseDate(*to)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -to date")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	_, store, closeAll := deps(ctx, log)
	defer closeAll()

	txs, err := store.GetTransactions(ctx, *accountID, fromDate, toDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	for _, tx := range txs {
		fmt.Printf("%s  %10.2f %s  balance %10.2f  %s\n",
			tx.Timestamp, tx.Amount, tx.Currency, tx.Balance.Amount, tx.Description)
	}
	fmt.Printf("%d transactions\n", len(txs))
}
