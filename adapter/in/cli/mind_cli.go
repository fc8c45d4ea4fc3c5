// Package cli implements the command-line surface. Every command maps
// onto one pipeline or store operation and exits with the error-kind
// contract: 0 ok, 1 user error, 2 storage error, 3 external service.
package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"mailmind/core/domain"
	"mailmind/core/service/rules"
	"mailmind/internal/bootstrap"
	"mailmind/pkg/apperr"
)

const usage = `mailmind - personal email intelligence

Usage:
  mailmind init                        create the data directory layout
  mailmind setup                       authorize the Gmail connector
  mailmind pull [--since DUR|DATE] [--max N]
  mailmind triage [--limit N] [--dry-run]
  mailmind brief [--date YYYY-MM-DD]
  mailmind rules list|add FILE|remove ID|test ID --against FILE
  mailmind feedback --message-id ID --corrected BUCKET [--note TEXT]
  mailmind synthesize [--window DUR]
  mailmind stats
  mailmind serve
`

// CLI dispatches subcommands against the wired dependency graph.
type CLI struct {
	deps *bootstrap.Dependencies
}

func New(deps *bootstrap.Dependencies) *CLI {
	return &CLI{deps: deps}
}

// Run executes one command and returns the process exit code.
func (c *CLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	var err error
	switch args[0] {
	case "init":
		err = c.initDataDir()
	case "setup":
		err = c.setup(ctx)
	case "pull":
		err = c.pull(ctx, args[1:])
	case "triage":
		err = c.triage(ctx, args[1:])
	case "brief":
		err = c.brief(ctx, args[1:])
	case "rules":
		err = c.rules(ctx, args[1:])
	case "feedback":
		err = c.feedback(ctx, args[1:])
	case "synthesize":
		err = c.synthesize(ctx, args[1:])
	case "stats":
		err = c.stats(ctx)
	case "serve":
		err = c.serve(ctx)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return apperr.ExitCode(err)
	}
	return 0
}

// =============================================================================
// Init & Connector Setup
// =============================================================================

// initDataDir creates the on-disk layout. The database itself was
// already opened (and migrated) during bootstrap.
func (c *CLI) initDataDir() error {
	for _, dir := range []string{
		c.deps.Config.DataDir,
		filepath.Join(c.deps.Config.DataDir, "briefs"),
		filepath.Join(c.deps.Config.DataDir, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return apperr.Storage("create "+dir, err)
		}
	}
	fmt.Printf("Initialized %s (database at %s).\n", c.deps.Config.DataDir, c.deps.Config.DBPath)
	return nil
}

func (c *CLI) setup(ctx context.Context) error {
	if c.deps.Gmail == nil {
		return apperr.Validation("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
	}

	fmt.Println("Open this URL in a browser and authorize access:")
	fmt.Println()
	fmt.Println("  " + c.deps.Gmail.AuthURL("mailmind-setup"))
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return apperr.Validation("could not read authorization code")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.Validation("empty authorization code")
	}

	if err := c.deps.Gmail.ExchangeAndSave(ctx, code); err != nil {
		return err
	}
	if err := c.deps.Gmail.Authenticate(ctx); err != nil {
		return err
	}
	fmt.Println("Gmail connector authorized.")
	return nil
}

// =============================================================================
// Pull
// =============================================================================

func (c *CLI) pull(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	since := fs.String("since", "", "pull from a lookback duration (72h) or date (YYYY-MM-DD) instead of the stored watermark")
	max := fs.Int("max", c.deps.Config.PullBatchSize, "maximum messages to pull")
	if err := fs.Parse(args); err != nil {
		return apperr.Validation(err.Error())
	}

	var (
		n   int
		err error
	)
	if *since != "" {
		t, perr := parseSince(*since)
		if perr != nil {
			return perr
		}
		n, err = c.deps.Pipeline.PullSince(ctx, t, *max)
	} else {
		n, err = c.deps.Pipeline.RunPullOnce(ctx, *max)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Pulled %d message(s).\n", n)
	return nil
}

// parseSince accepts a lookback duration ("72h") or a UTC date.
func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return time.Now().UTC().Add(-d), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.InvalidInput("since", "want a duration like 72h or a YYYY-MM-DD date")
}

// =============================================================================
// Triage
// =============================================================================

func (c *CLI) triage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("triage", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "maximum messages to triage")
	dryRun := fs.Bool("dry-run", false, "decide but persist nothing and push no labels")
	if err := fs.Parse(args); err != nil {
		return apperr.Validation(err.Error())
	}

	decisions, err := c.deps.Pipeline.RunTriageOnce(ctx, *limit, *dryRun)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Println("Nothing to triage.")
		return nil
	}

	for _, d := range decisions {
		marker := ""
		if d.Degraded() {
			marker = "  [degraded]"
		}
		fmt.Printf("%-38s %-15s score=%.2f conf=%.2f%s\n",
			d.MessageID, d.Bucket, d.FinalScore, d.Confidence, marker)
		if d.ShouldEscalate {
			fmt.Printf("%-38s   escalate: %s\n", "", d.Rationale)
		}
	}
	fmt.Printf("Triaged %d message(s).\n", len(decisions))

	if *dryRun || c.deps.Connector == nil {
		return nil
	}
	applied, err := c.deps.Pipeline.RunApplyOnce(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("Pushed labels for %d message(s).\n", applied)
	return nil
}

// =============================================================================
// Brief
// =============================================================================

func (c *CLI) brief(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("brief", flag.ContinueOnError)
	date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "UTC date (YYYY-MM-DD)")
	export := fs.Bool("export", false, "also write the brief to <data-dir>/briefs/<date>.md")
	if err := fs.Parse(args); err != nil {
		return apperr.Validation(err.Error())
	}
	if _, err := time.Parse("2006-01-02", *date); err != nil {
		return apperr.InvalidInput("date", "want YYYY-MM-DD")
	}

	b, err := c.deps.Pipeline.GenerateBrief(ctx, *date)
	if err != nil {
		return err
	}
	printBrief(b)

	if *export {
		path := filepath.Join(c.deps.Config.DataDir, "briefs", *date+".md")
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return apperr.Storage("create briefs dir", err)
		}
		if err := os.WriteFile(path, briefMarkdown(b), 0o600); err != nil {
			return apperr.Storage("write "+path, err)
		}
		fmt.Printf("\nExported to %s.\n", path)
	}
	return nil
}

func briefMarkdown(b *domain.DailyBrief) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s: %s\n\n%s\n", b.DateUTC, b.Headline, b.Narrative)
	if len(b.ActionItems) > 0 {
		sb.WriteString("\n## Action items\n")
		for _, a := range b.ActionItems {
			sb.WriteString("- " + a + "\n")
		}
	}
	if len(b.Deadlines) > 0 {
		sb.WriteString("\n## Deadlines\n")
		for _, d := range b.Deadlines {
			sb.WriteString("- " + d + "\n")
		}
	}
	return []byte(sb.String())
}

func printBrief(b *domain.DailyBrief) {
	fmt.Printf("Daily brief for %s\n\n", b.DateUTC)
	fmt.Println(b.Headline)
	fmt.Println()
	fmt.Println(b.Narrative)
	if len(b.ActionItems) > 0 {
		fmt.Println("\nAction items:")
		for _, a := range b.ActionItems {
			fmt.Println("  - " + a)
		}
	}
	if len(b.Deadlines) > 0 {
		fmt.Println("\nDeadlines:")
		for _, d := range b.Deadlines {
			fmt.Println("  - " + d)
		}
	}
}

// =============================================================================
// Rules
// =============================================================================

func (c *CLI) rules(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return apperr.Validation("rules needs a subcommand: list, add, remove, test")
	}

	switch args[0] {
	case "list":
		return c.rulesList(ctx)
	case "add":
		if len(args) < 2 {
			return apperr.Validation("rules add needs a rule JSON file")
		}
		return c.rulesAdd(ctx, args[1])
	case "remove":
		if len(args) < 2 {
			return apperr.Validation("rules remove needs a rule ID")
		}
		return c.deps.Store.Rules().Delete(ctx, args[1])
	case "test":
		return c.rulesTest(ctx, args[1:])
	default:
		return apperr.Validation("unknown rules subcommand " + args[0])
	}
}

func (c *CLI) rulesList(ctx context.Context) error {
	stored, err := c.deps.Store.Rules().List(ctx, false)
	if err != nil {
		return err
	}

	fmt.Println("Built-in rules:")
	for _, r := range rules.BuiltinRules() {
		fmt.Printf("  %-28s prio=%-4d %s\n", r.ID, r.Priority, r.Name)
	}
	if len(stored) == 0 {
		fmt.Println("\nNo user rules.")
		return nil
	}
	fmt.Println("\nUser rules:")
	for _, r := range stored {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		if r.CompileError != "" {
			state = "broken: " + r.CompileError
		}
		fmt.Printf("  %-38s prio=%-4d hits=%-5d %-10s %s\n",
			r.ID, r.Priority, r.HitCount, state, r.Name)
	}
	return nil
}

func (c *CLI) rulesAdd(ctx context.Context, path string) error {
	r, err := readJSONFile[domain.Rule](path)
	if err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = fmt.Sprintf("user:%d", now.UnixNano())
	}
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := c.deps.Store.Rules().Put(ctx, r); err != nil {
		return err
	}
	fmt.Printf("Added rule %s.\n", r.ID)
	return nil
}

func (c *CLI) rulesTest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rules test", flag.ContinueOnError)
	against := fs.String("against", "", "message JSON file to test the rule against")
	if len(args) == 0 {
		return apperr.Validation("rules test needs a rule ID")
	}
	ruleID := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return apperr.Validation(err.Error())
	}
	if *against == "" {
		return apperr.Validation("rules test needs --against FILE")
	}

	r, err := c.deps.Store.Rules().Get(ctx, ruleID)
	if err != nil {
		return err
	}
	if r == nil {
		for _, b := range rules.BuiltinRules() {
			if b.ID == ruleID {
				r = b
				break
			}
		}
	}
	if r == nil {
		return apperr.NotFound("rule " + ruleID)
	}

	m, err := readJSONFile[domain.Message](*against)
	if err != nil {
		return err
	}
	m.Normalize()

	matched, err := rules.TestRule(r, m)
	if err != nil {
		return err
	}
	if matched {
		fmt.Println("MATCH")
	} else {
		fmt.Println("no match")
	}
	return nil
}

// =============================================================================
// Feedback & Learning
// =============================================================================

func (c *CLI) feedback(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("feedback", flag.ContinueOnError)
	messageID := fs.String("message-id", "", "internal message ID")
	corrected := fs.String("corrected", "", "corrected bucket (priority_inbox, regular_inbox, auto_archive, spam_folder)")
	note := fs.String("note", "", "optional note")
	if err := fs.Parse(args); err != nil {
		return apperr.Validation(err.Error())
	}

	bucket, ok := domain.ParseBucket(*corrected)
	if !ok {
		return apperr.InvalidInput("corrected", "unknown bucket "+*corrected)
	}

	f := &domain.Feedback{
		MessageID:       *messageID,
		CorrectedBucket: bucket,
		UserNote:        *note,
	}
	if err := c.deps.Learner.Submit(ctx, f); err != nil {
		return err
	}
	fmt.Printf("Feedback recorded for %s -> %s.\n", f.MessageID, f.CorrectedBucket)
	return nil
}

func (c *CLI) synthesize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("synthesize", flag.ContinueOnError)
	window := fs.Duration("window", 30*24*time.Hour, "feedback window to synthesize over")
	if err := fs.Parse(args); err != nil {
		return apperr.Validation(err.Error())
	}

	patterns, err := c.deps.Synthesizer.Synthesize(ctx, *window)
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		fmt.Println("No stable patterns found.")
		return nil
	}
	for _, p := range patterns {
		fmt.Printf("  %-28s %-30s -> %s=%s conf=%.2f n=%d\n",
			p.Kind, p.Key, p.PredictedAttribute, p.PredictedValue, p.Confidence, p.SampleSize)
	}
	return nil
}

// =============================================================================
// Stats & Serve
// =============================================================================

func (c *CLI) stats(ctx context.Context) error {
	stats, err := c.deps.Store.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// serve runs the scheduler and the HTTP API until SIGINT/SIGTERM.
func (c *CLI) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := bootstrap.NewAPI(c.deps)

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- app.Listen(":" + c.deps.Config.APIPort)
	}()

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- c.deps.Scheduler.Run(ctx)
	}()

	fmt.Printf("mailmind serving on :%s (Ctrl-C to stop)\n", c.deps.Config.APIPort)

	select {
	case err := <-apiErr:
		stop()
		<-schedErr
		return err
	case err := <-schedErr:
		_ = app.Shutdown()
		return err
	case <-ctx.Done():
	}

	_ = app.Shutdown()
	return <-schedErr
}

func readJSONFile[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Validation("cannot read " + path)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("bad JSON in %s: %v", path, err))
	}
	return &v, nil
}
