package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/capsa-dev/capsa/internal/bundle"
	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/rank"
	"github.com/capsa-dev/capsa/internal/retrieve"
	"github.com/capsa-dev/capsa/internal/store"
)

// openDB is a helper that opens the database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath := os.Getenv("CAPSA_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// Scope flags shared by search, pin, and export.
var (
	flagSession string
	flagRepo    string
	flagAgent   string
	flagUser    string
)

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagSession, "session", "", "Filter by session id")
	cmd.Flags().StringVar(&flagRepo, "repo", "", "Filter by repo id")
	cmd.Flags().StringVar(&flagAgent, "agent", "", "Filter by agent id")
	cmd.Flags().StringVar(&flagUser, "user", "", "Filter by user id")
}

func flagScope() memory.ScopeIDs {
	return memory.ScopeIDs{
		SessionID: flagSession,
		RepoID:    flagRepo,
		AgentID:   flagAgent,
		UserID:    flagUser,
	}
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	obsCount, err := db.CountObservations()
	if err != nil {
		return fmt.Errorf("count observations: %w", err)
	}
	capsules, err := db.ListCapsules(memory.ScopeIDs{}, 0)
	if err != nil {
		return fmt.Errorf("list capsules: %w", err)
	}
	open := 0
	for _, c := range capsules {
		if c.Status == memory.StatusOpen {
			open++
		}
	}
	pins, err := db.ListPins(memory.ScopeIDs{})
	if err != nil {
		return fmt.Errorf("list pins: %w", err)
	}

	fmt.Printf("db:           %s\n", db.Path)
	fmt.Printf("schema:       v%d\n", version)
	fmt.Printf("observations: %d\n", obsCount)
	fmt.Printf("capsules:     %d (%d open)\n", len(capsules), open)
	fmt.Printf("pins:         %d\n", len(pins))
	return nil
}

// --- search command ---

var (
	searchLimit  int
	searchBudget int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored memory",
	Long:  "Search observations and summaries, blending pinned context with ranked full-text matches.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	o := retrieve.New(db, rank.NewStoreProvider(db))
	res, err := o.Retrieve(retrieve.Request{
		Query:       query,
		Scope:       flagScope(),
		MaxResults:  searchLimit,
		TokenBudget: searchBudget,
	})
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	if len(res.Items) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	for i, item := range res.Items {
		marker := " "
		if item.Tier == retrieve.TierPinned {
			marker = "*"
		}
		fmt.Printf("%d.%s [%.3f] %s %s\n", i+1, marker, item.Score, item.EntityType, item.ID)
		preview := item.Content
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		fmt.Printf("   %s\n\n", preview)
	}
	if res.Tier0ExceedsBudget {
		fmt.Fprintln(os.Stderr, "note: pinned context alone exceeds the token budget")
	}
	return nil
}

// --- pin / unpin commands ---

var (
	pinSummary bool
	pinReason  string
	pinTTL     time.Duration
)

var pinCmd = &cobra.Command{
	Use:   "pin [target-id]",
	Short: "Pin an observation or summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runPin,
}

func runPin(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	targetType := memory.PinObservation
	if pinSummary {
		targetType = memory.PinSummary
	}

	p := memory.Pin{
		TargetType: targetType,
		TargetID:   args[0],
		Reason:     pinReason,
		Scope:      flagScope(),
	}
	if pinTTL > 0 {
		exp := time.Now().Add(pinTTL).UnixMilli()
		p.ExpiresAt = &exp
	}

	p, err = memory.ValidatePin(p)
	if err != nil {
		return err
	}
	if err := db.InsertPin(p); err != nil {
		return fmt.Errorf("insert pin: %w", err)
	}
	fmt.Printf("pinned %s %s as %s\n", targetType, args[0], p.ID)
	return nil
}

var unpinCmd = &cobra.Command{
	Use:   "unpin [pin-id]",
	Short: "Remove a pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		if err := db.DeletePin(args[0]); err != nil {
			return err
		}
		fmt.Printf("unpinned %s\n", args[0])
		return nil
	},
}

// --- forget command ---

var forgetCmd = &cobra.Command{
	Use:   "forget [observation-id]",
	Short: "Redact an observation",
	Long:  "Blank the observation's content and remove it from the search index. The row and its id survive so capsule membership stays intact.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		if err := db.RedactObservation(args[0]); err != nil {
			return err
		}
		fmt.Printf("redacted %s\n", args[0])
		return nil
	},
}

// --- export command ---

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export memory as a bundle",
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	b, err := bundle.Create(db, flagScope(), false, 0, nil)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	if exportOut == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d observations)\n", exportOut, len(b.Dataset.Observations))
	return nil
}

// --- import command ---

var (
	importDryRun  bool
	importSkipVal bool
)

var importCmd = &cobra.Command{
	Use:   "import [bundle.json]",
	Short: "Import a memory bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	b, errs := bundle.ValidateRaw(data)
	if len(errs) > 0 && !importSkipVal {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		return fmt.Errorf("bundle failed validation (%d problems)", len(errs))
	}
	if b == nil {
		return fmt.Errorf("parse %s: not a bundle", args[0])
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	res, err := bundle.Restore(db, b, bundle.RestoreOptions{
		SkipValidation: true, // validated above
		DryRun:         importDryRun,
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	prefix := "imported"
	if importDryRun {
		prefix = "would import"
	}
	fmt.Printf("%s %d observations (%d skipped), %d capsules, %d summaries, %d pins\n",
		prefix,
		res.Observations.Imported, res.Observations.Skipped,
		res.Capsules.Imported, res.Summaries.Imported, res.Pins.Imported)
	for _, re := range res.Errors {
		fmt.Fprintf(os.Stderr, "  %s %s: %s\n", re.Collection, re.ID, re.Error)
	}
	return nil
}

func init() {
	addScopeFlags(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of ranked results")
	searchCmd.Flags().IntVar(&searchBudget, "budget", 0, "Token budget (0 = unbudgeted)")

	addScopeFlags(pinCmd)
	pinCmd.Flags().BoolVar(&pinSummary, "summary", false, "Target is a summary instead of an observation")
	pinCmd.Flags().StringVar(&pinReason, "reason", "", "Why this is pinned")
	pinCmd.Flags().DurationVar(&pinTTL, "ttl", 0, "Pin lifetime (e.g. 72h); 0 means no expiry")

	addScopeFlags(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write bundle to file instead of stdout")

	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Report what would be imported without writing")
	importCmd.Flags().BoolVar(&importSkipVal, "skip-validation", false, "Import even when schema validation fails")
}
