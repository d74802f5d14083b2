package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/ingest"
	"github.com/Mindburn-Labs/veridecide/pkg/pipeline"
)

const (
	defaultTenant = "default"
	defaultActor  = "cli"
)

// withApp loads configuration, wires the app and runs fn against it.
// fn's error maps to exit code 2 for invalid input and 1 otherwise.
func withApp(stderr io.Writer, fn func(ctx context.Context, a *app) error) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	if err := fn(ctx, a); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, pipeline.ErrInvalidInput) || errors.Is(err, ingest.ErrInvalidInput) {
			return 2
		}
		return 1
	}
	return 0
}

// runAskCmd implements `veridecide ask [flags] <prompt>`.
//
// Exit codes:
//
//	0 = output produced (pending review or rejected by policy)
//	1 = pipeline failure
//	2 = invalid input
func runAskCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ask", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant, actor, title, domain, urgency, tags, query string
		ungoverned, openSource, jsonOutput                 bool
	)
	cmd.StringVar(&tenant, "tenant", defaultTenant, "Tenant ID")
	cmd.StringVar(&actor, "actor", defaultActor, "Actor ID recorded in the audit chain")
	cmd.StringVar(&title, "title", "", "Prompt title")
	cmd.StringVar(&domain, "domain", "", "Domain override (e.g. finance, privacy)")
	cmd.StringVar(&urgency, "urgency", "", "Urgency (low, medium, high)")
	cmd.StringVar(&tags, "tags", "", "Comma-separated tags")
	cmd.BoolVar(&ungoverned, "ungoverned", false, "Allow an ungoverned answer when no evidence matches")
	cmd.BoolVar(&openSource, "open-source", false, "Ingest allowlisted web evidence before retrieval")
	cmd.StringVar(&query, "query", "", "Open-source search query (default: the prompt)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	prompt := strings.TrimSpace(strings.Join(cmd.Args(), " "))
	if prompt == "" {
		_, _ = fmt.Fprintln(stderr, "Error: a prompt is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) error {
		res, err := a.orchestrator.Run(ctx, pipeline.Input{
			TenantID:        tenant,
			ActorID:         actor,
			PromptText:      prompt,
			Title:           title,
			Domain:          domain,
			Urgency:         urgency,
			Tags:            splitList(tags),
			AllowUngoverned: ungoverned,
			AllowOpenSource: openSource,
			OpenSourceQuery: query,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(stdout, res)
			return nil
		}
		color := ColorGreen
		if res.Decision.Decision != contracts.VerdictAllow {
			color = ColorRed
		}
		_, _ = fmt.Fprintf(stdout, "%sDecision: %s%s (risk %s, %s)\n", ColorBold+color,
			res.Decision.Decision, ColorReset, res.Risk.Risk, res.Validation.Classification)
		_, _ = fmt.Fprintf(stdout, "Output:   %s (%s)\n", res.OutputID, res.Status)
		_, _ = fmt.Fprintf(stdout, "Mode:     %s, %d citation(s)\n", res.Mode, len(res.Citations))
		for _, reason := range res.Decision.Reasons {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", reason)
		}
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, res.GovernedOutput)
		return nil
	})
}

// runIngestCmd implements `veridecide ingest`. HTML files are reduced to
// their visible text.
func runIngestCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant, actor, title, file, content, source string
		maxChars                                    int
		jsonOutput                                  bool
	)
	cmd.StringVar(&tenant, "tenant", defaultTenant, "Tenant ID")
	cmd.StringVar(&actor, "actor", defaultActor, "Actor ID recorded in the audit chain")
	cmd.StringVar(&title, "title", "", "Document title (default: file name)")
	cmd.StringVar(&file, "file", "", "Path to a text or HTML document")
	cmd.StringVar(&content, "content", "", "Inline document content (instead of --file)")
	cmd.StringVar(&source, "source", "", "Source URI recorded with the document")
	cmd.IntVar(&maxChars, "max-chars", 0, "Truncate extracted HTML text to this many characters")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if (file == "") == (content == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --file or --content is required")
		return 2
	}
	if file != "" {
		text, err := readDocument(file, maxChars)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		content = text
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
		if source == "" {
			source = "file://" + file
		}
	}

	return withApp(stderr, func(ctx context.Context, a *app) error {
		res, err := a.ingester.IngestDocument(ctx, ingest.DocumentInput{
			TenantID:  tenant,
			ActorID:   actor,
			Title:     title,
			Content:   content,
			SourceURI: source,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(stdout, res)
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "✅ Document stored: %s (%d chunks)\n", res.DocumentID, res.Chunks)
		_, _ = fmt.Fprintf(stdout, "   Version:  %s\n", res.VersionID)
		_, _ = fmt.Fprintf(stdout, "   Checksum: %s\n", res.Checksum)
		return nil
	})
}

func readDocument(path string, maxChars int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot read document: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return ingest.ExtractText(f, maxChars)
	default:
		data, err := io.ReadAll(f)
		if err != nil {
			return "", fmt.Errorf("cannot read document: %w", err)
		}
		return string(data), nil
	}
}

// runReviewCmd implements `veridecide review`.
func runReviewCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("review", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant, reviewer, output, decision, justification, modified string
		jsonOutput                                                  bool
	)
	cmd.StringVar(&tenant, "tenant", defaultTenant, "Tenant ID")
	cmd.StringVar(&reviewer, "reviewer", defaultActor, "Reviewer ID")
	cmd.StringVar(&output, "output", "", "Candidate output ID (REQUIRED)")
	cmd.StringVar(&decision, "decision", "", "APPROVED or REJECTED (REQUIRED)")
	cmd.StringVar(&justification, "justification", "", "Reason for the decision")
	cmd.StringVar(&modified, "modified", "", "Replacement governed content")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if output == "" || decision == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --output and --decision are required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) error {
		res, err := a.reviewer.Review(ctx, pipeline.ReviewInput{
			TenantID:        tenant,
			ReviewerID:      reviewer,
			OutputID:        output,
			Decision:        decision,
			Justification:   justification,
			ModifiedContent: modified,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(stdout, res)
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "✅ Output %s is now %s\n", output, res.Status)
		return nil
	})
}

// runVerifyCmd implements `veridecide verify`.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant     string
		jsonOutput bool
	)
	cmd.StringVar(&tenant, "tenant", defaultTenant, "Tenant ID")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var report audit.Report
	code := withApp(stderr, func(ctx context.Context, a *app) error {
		var err error
		report, err = a.ledger.Verify(ctx, tenant)
		return err
	})
	if code != 0 {
		return 2
	}

	if jsonOutput {
		printJSON(stdout, report)
	} else if report.Valid {
		_, _ = fmt.Fprintf(stdout, "✅ Audit chain verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Tenant: %s\n", report.TenantID)
		_, _ = fmt.Fprintf(stdout, "Events: %d\n", report.Events)
		_, _ = fmt.Fprintf(stdout, "Head:   %s\n", report.Head)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Audit chain verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "Tenant: %s\n", report.TenantID)
		if report.Break != nil {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", report.Break.Error())
		}
	}
	if !report.Valid {
		return 1
	}
	return 0
}

// runExportCmd implements `veridecide export`: the tenant's chain is
// archived in the artifact store and the archive itself is audited.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant, actor string
		jsonOutput    bool
	)
	cmd.StringVar(&tenant, "tenant", defaultTenant, "Tenant ID")
	cmd.StringVar(&actor, "actor", defaultActor, "Actor ID recorded in the audit chain")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) error {
		res, err := a.ledger.ExportBundle(ctx, a.blobs, tenant, actor)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(stdout, res)
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "✅ Audit bundle exported: %s (%d events)\n", res.Ref, res.Count)
		_, _ = fmt.Fprintf(stdout, "   Head:  %s\n", res.Head)
		_, _ = fmt.Fprintf(stdout, "   Valid: %t\n", res.Valid)
		return nil
	})
}

// runHealthCmd probes a running server.
func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	var url string
	cmd.StringVar(&url, "url", "http://localhost:"+port+"/health", "Health endpoint")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
