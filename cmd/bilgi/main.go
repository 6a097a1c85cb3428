// Package main is the bilgi CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/cli"
	"github.com/hyperjump/bilgi/internal/config"
	"github.com/hyperjump/bilgi/internal/ingest"
	"github.com/hyperjump/bilgi/internal/knowledge"
	"github.com/hyperjump/bilgi/internal/models"
	"github.com/hyperjump/bilgi/internal/reprocess"
	"github.com/hyperjump/bilgi/internal/server"
	"github.com/hyperjump/bilgi/internal/watcher"
	"github.com/hyperjump/bilgi/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/bilgi/config.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
	output     string
}

var flags globalFlags

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// When neither file exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			config.ApplyEnv(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// app is the per-invocation state built by setup.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	comps  *Components
	format cli.OutputFormat
}

func setup(ctx context.Context) (*app, error) {
	format, err := cli.ParseFormat(flags.output)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || flags.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	comps, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return &app{cfg: cfg, logger: logger, comps: comps, format: format}, nil
}

func (a *app) close() {
	a.comps.Close()
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bilgi",
		Short:         "bilgi - semantic chunking and knowledge-enhanced retrieval for course material",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", defaultConfigPath, "config file path")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.StringVarP(&flags.output, "output", "o", string(cli.OutputText), "output format: text or json")

	root.AddCommand(
		newServerCmd(),
		newIngestCmd(),
		newTopicsCmd(),
		newKBCmd(),
		newQACmd(),
		newRetrieveCmd(),
		newReprocessCmd(),
		newPrereqsCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.NewServer(a.comps.Services(), &a.cfg.Server, &a.cfg.Storage, a.logger)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case <-cmd.Context().Done():
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}

			a.logger.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
			a.comps.SaveVectors()
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		session string
		exts    string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file|dir>",
		Short: "Chunk, embed, and store a document or a directory of documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			allowed := parseExtensions(exts)
			out := cmd.OutOrStdout()
			if info.IsDir() {
				n, err := a.comps.Ingest.IngestDirectory(cmd.Context(), session, args[0], allowed)
				a.comps.SaveVectors()
				if err != nil {
					return err
				}
				if a.format == cli.OutputJSON {
					if err := cli.WriteJSON(out, map[string]int{"ingested": n}); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "Ingested %d documents into session %s\n", n, session)
				}
				if !watch {
					return nil
				}
				return a.watch(cmd.Context(), session, args[0], allowed)
			}
			if watch {
				return errors.New("--watch requires a directory")
			}
			res, err := a.comps.Ingest.IngestFile(cmd.Context(), session, args[0], allowed)
			a.comps.SaveVectors()
			if err != nil {
				return err
			}
			if a.format == cli.OutputJSON {
				return cli.WriteJSON(out, res)
			}
			if res.Skipped {
				fmt.Fprintf(out, "Unchanged: %s (%s)\n", args[0], res.Document.ID)
				return nil
			}
			fmt.Fprintf(out, "Ingested %s as %s: %d chunks (%d low quality)\n",
				args[0], res.Document.ID, res.Chunks, res.LowQuality)
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", ingest.DefaultSessionID, "learning session ID")
	cmd.Flags().StringVar(&exts, "ext", strings.Join(ingest.DefaultExtensions, ","), "comma-separated file extensions to ingest")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and re-ingest files as they change")
	return cmd
}

// watch keeps session in step with dir until ctx is cancelled.
func (a *app) watch(ctx context.Context, session, dir string, allowed []string) error {
	if len(allowed) == 0 {
		allowed = ingest.DefaultExtensions
	}
	var mu sync.Mutex
	h := a.comps.Ingest.FileHandler(session, allowed, func() {
		mu.Lock()
		defer mu.Unlock()
		a.comps.SaveVectors()
	})
	a.logger.Info("watching for changes (Ctrl+C to stop)", zap.String("dir", dir), zap.String("session", session))
	return watcher.New(dir, allowed, h, watcher.WithLogger(a.logger)).Run(ctx)
}

func newTopicsCmd() *cobra.Command {
	var (
		method string
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "topics <session>",
		Short: "Extract topics for a session, or list them with --list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if list {
				topics, err := a.comps.Storage.ListTopics(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return cli.WriteTopics(out, topics, a.format)
			}
			res, err := a.comps.Topics.Extract(cmd.Context(), args[0], nil, models.ExtractionMethod(method))
			if err != nil {
				return err
			}
			if a.format == cli.OutputText {
				fmt.Fprintf(out, "Analyzed %d/%d chunks in %d batches (%d failed), %d new topics\n",
					res.ChunksAnalyzed, res.TotalChunks, res.Batches, res.FailedBatches, res.Added)
			}
			return cli.WriteTopics(out, res.Topics, a.format)
		},
	}
	cmd.Flags().StringVar(&method, "method", string(models.ExtractionFull), "extraction method: full or partial")
	cmd.Flags().BoolVar(&list, "list", false, "list stored topics without extracting")
	return cmd
}

func newKBCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "kb <topic>",
		Short: "Build the knowledge base entry of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := a.comps.Knowledge.ExtractKnowledgeBase(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			return cli.WriteKnowledgeBase(cmd.OutOrStdout(), entry, a.format)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild an existing entry")
	return cmd
}

func newQACmd() *cobra.Command {
	var (
		count int
		dist  string
	)
	cmd := &cobra.Command{
		Use:   "qa <topic>",
		Short: "Generate quality-checked QA pairs for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDistribution(dist)
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			pairs, report, err := a.comps.Knowledge.GenerateQAPairs(cmd.Context(), args[0], count, d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.format == cli.OutputJSON {
				return cli.WriteJSON(out, map[string]interface{}{"qa_pairs": pairs, "report": report})
			}
			fmt.Fprintf(out, "Generated %d, accepted %d (rejected: %d quality, %d duplicate, %d unchecked)\n",
				report.Generated, report.Accepted, report.RejectedQuality, report.RejectedDuplicate, report.FailedChecks)
			return cli.WriteQAPairs(out, pairs, a.format)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of pairs to generate (default from config)")
	cmd.Flags().StringVar(&dist, "distribution", "", "beginner/intermediate/advanced split, e.g. 5/7/3")
	return cmd
}

func newRetrieveCmd() *cobra.Command {
	var (
		topK       int
		topicIDs   []string
		noFastPath bool
		noFallback bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <session> <query>",
		Short: "Answer a query from a session's material",
		Long:  "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := &models.RetrievalQuery{
				SessionID:  args[0],
				Query:      buildQuery(args[1:]),
				TopK:       topK,
				TopicIDs:   topicIDs,
				NoFastPath: noFastPath,
			}
			if noFallback {
				f := false
				q.AutoFallback = &f
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.comps.Retriever.Retrieve(cmd.Context(), q)
			if err != nil {
				return err
			}
			return cli.WriteRetrieval(cmd.OutOrStdout(), res, a.format)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	cmd.Flags().StringSliceVar(&topicIDs, "topic", nil, "restrict retrieval to these topic IDs")
	cmd.Flags().BoolVar(&noFastPath, "no-fast-path", false, "skip the stored QA fast path")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "disable the widened second pass")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	var session, document string
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-embed stored chunks with the configured embedding model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (session == "") == (document == "") {
				return errors.New("exactly one of --session or --document is required")
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.reprocess(cmd.Context(), session, document)
			if r != nil {
				a.comps.SaveVectors()
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := r.FailedIDs()
			if a.format == cli.OutputJSON {
				return cli.WriteJSON(out, map[string]interface{}{"report": r, "failed_ids": failed})
			}
			fmt.Fprintf(out, "Re-embedded %d/%d chunks with %s (%d updated, %d re-added, %d failed)\n",
				r.Updated+r.FallbackReadded, r.Total, r.Model, r.Updated, r.FallbackReadded, len(failed))
			for _, id := range failed {
				fmt.Fprintf(out, "  failed: %s: %v\n", id, r.Failed[id])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "reprocess every chunk of a session")
	cmd.Flags().StringVar(&document, "document", "", "reprocess every chunk of a document")
	return cmd
}

func (a *app) reprocess(ctx context.Context, session, document string) (*reprocess.Report, error) {
	if document != "" {
		if _, err := a.comps.Storage.GetDocument(ctx, document); err != nil {
			return nil, err
		}
		return a.comps.Reprocess.ReprocessDocument(ctx, document, a.comps.Embedder)
	}
	return a.comps.Reprocess.ReprocessSession(ctx, session, a.comps.Embedder)
}

func newPrereqsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prereqs <topic>",
		Short: "List the transitive prerequisites of a topic from the topic graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if a.comps.Graph == nil {
				return errGraphDisabled
			}
			ids, err := a.comps.Graph.Prerequisites(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.format == cli.OutputJSON {
				return cli.WriteJSON(out, map[string]interface{}{"topic_id": args[0], "prerequisites": ids})
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage and index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			counts, err := a.comps.Storage.Counts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.format == cli.OutputJSON {
				return cli.WriteJSON(out, map[string]interface{}{
					"counts":            counts,
					"vector_index_size": a.comps.VectorIndex.Size(),
					"embedding_model":   a.comps.Embedder.Model(),
				})
			}
			fmt.Fprintf(out, "Documents:  %d\nChunks:     %d\nTopics:     %d\nKnowledge:  %d\nQA pairs:   %d\n",
				counts.Documents, counts.Chunks, counts.Topics, counts.Knowledge, counts.QAPairs)
			fmt.Fprintf(out, "Vectors:    %d (%s, %s)\n", a.comps.VectorIndex.Size(), a.comps.VectorIndex.Type(), a.comps.Embedder.Model())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bilgi version %s\n", version)
		},
	}
}

// buildQuery joins args into a single query string; blank args yield "".
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// parseExtensions splits a comma-separated extension list, adding missing dots.
func parseExtensions(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// parseDistribution parses "b/i/a" counts. An empty string yields the zero
// distribution, which selects the configured default.
func parseDistribution(s string) (knowledge.Distribution, error) {
	if strings.TrimSpace(s) == "" {
		return knowledge.Distribution{}, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return knowledge.Distribution{}, fmt.Errorf("distribution must be beginner/intermediate/advanced, got %q", s)
	}
	n := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return knowledge.Distribution{}, fmt.Errorf("invalid distribution count %q", p)
		}
		n[i] = v
	}
	return knowledge.Distribution{Beginner: n[0], Intermediate: n[1], Advanced: n[2]}, nil
}
