package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/normativa/lexgate/api"
	"github.com/normativa/lexgate/certificate"
	"github.com/normativa/lexgate/config"
	"github.com/normativa/lexgate/database"
	"github.com/normativa/lexgate/embeddings"
	"github.com/normativa/lexgate/generation"
	"github.com/normativa/lexgate/hierarchy"
	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/ingestion"
	"github.com/normativa/lexgate/legal"
	"github.com/normativa/lexgate/norms"
	"github.com/normativa/lexgate/pipeline"
	"github.com/normativa/lexgate/retrieval"
	"github.com/normativa/lexgate/risk"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "address for the HTTP API")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	generator, err := generation.NewClient(cfg)
	if err != nil {
		logger.Fatalf("generator setup: %v", err)
	}

	certs, err := certificate.Open(cfg.AuditDir)
	if err != nil {
		logger.Fatalf("open audit log: %v", err)
	}
	defer certs.Close()

	store := index.NewStore()
	loader := index.NewLoader(pgPool)
	graph := norms.NewStore(neo4jDriver)
	chunker := ingestion.NewChunker(cfg.Chunking)
	ingestSvc := ingestion.NewService(pgPool, graph, embedder, chunker, store, loader, logger, cfg.Embeddings.Dimension)

	if err := database.EnsureSchema(ctx, pgPool, cfg.Embeddings.Dimension); err != nil {
		logger.Fatalf("ensure schema: %v", err)
	}
	if err := ingestSvc.Reindex(ctx); err != nil {
		logger.Printf("initial index build failed, serving without a snapshot: %v", err)
	}

	retriever := retrieval.NewRetriever(store, embedder, cfg.Retrieval, logger)
	scorer := risk.NewScorer(cfg.Risk)
	validator := hierarchy.NewValidator(hierarchy.DefaultRuleSet())

	orchestrator := pipeline.NewOrchestrator(retriever, scorer, validator, generator, certs, graph, pipeline.Options{
		TopK:              cfg.Retrieval.TopK,
		ContextLimit:      cfg.Retrieval.TopK,
		GenerationTimeout: cfg.Generation.Timeout,
	}, logger)

	pool := pipeline.NewPool(orchestrator, cfg.Workers)
	defer pool.Close()

	server := api.New(pool, ingestSvc, store, pgPool, neo4jDriver, logger)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s (%d workers, %s/%s embeddings)", *addr, cfg.Workers,
		strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server: %v", err)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "path to directory containing document envelopes")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	store := index.NewStore()
	loader := index.NewLoader(pgPool)
	graph := norms.NewStore(neo4jDriver)
	chunker := ingestion.NewChunker(cfg.Chunking)
	svc := ingestion.NewService(pgPool, graph, embedder, chunker, store, loader, logger, cfg.Embeddings.Dimension)

	logger.Printf("ingesting envelopes from %s using %s/%s embeddings", *dataDir,
		strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	if err := svc.IngestDirectory(ctx, *dataDir); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
}

func askCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	question := flags.String("question", "", "legal question to analyze")
	jurisdictions := flags.String("jurisdictions", "", "comma-separated jurisdiction codes (e.g. ES,FR)")
	historical := flags.Bool("historical", false, "include superseded norms in retrieval")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	generator, err := generation.NewClient(cfg)
	if err != nil {
		logger.Fatalf("generator setup: %v", err)
	}

	certs, err := certificate.Open(cfg.AuditDir)
	if err != nil {
		logger.Fatalf("open audit log: %v", err)
	}
	defer certs.Close()

	store := index.NewStore()
	loader := index.NewLoader(pgPool)
	snap, err := loader.Load(ctx, store.NextVersion())
	if err != nil {
		logger.Fatalf("build index snapshot: %v", err)
	}
	store.Publish(snap)

	graph := norms.NewStore(neo4jDriver)
	retriever := retrieval.NewRetriever(store, embedder, cfg.Retrieval, logger)
	scorer := risk.NewScorer(cfg.Risk)
	validator := hierarchy.NewValidator(hierarchy.DefaultRuleSet())

	orchestrator := pipeline.NewOrchestrator(retriever, scorer, validator, generator, certs, graph, pipeline.Options{
		TopK:              cfg.Retrieval.TopK,
		ContextLimit:      cfg.Retrieval.TopK,
		GenerationTimeout: cfg.Generation.Timeout,
	}, logger)

	query := legal.Query{Text: *question, Historical: *historical}
	if trimmed := strings.TrimSpace(*jurisdictions); trimmed != "" {
		query.Jurisdictions = strings.Split(trimmed, ",")
	}

	result, err := orchestrator.Process(ctx, query)
	if err != nil {
		logger.Fatalf("analysis failed: %v", err)
	}

	printResult(result)
}

func printResult(result pipeline.Result) {
	fmt.Printf("Decision: %s (RoH %.2f%%, ISR %.2f)\n", result.Decision, result.Risk.RoH*100, result.Risk.ISR)
	if result.Answer != "" {
		fmt.Println()
		fmt.Println(result.Answer)
	}
	if len(result.Risk.ClarifyHints) > 0 {
		fmt.Println()
		fmt.Println("Clarification needed:")
		for _, hint := range result.Risk.ClarifyHints {
			fmt.Printf("  - %s\n", hint)
		}
	}
	if len(result.Citations) > 0 {
		fmt.Println()
		fmt.Println("Citations:")
		for idx, citation := range result.Citations {
			fmt.Printf("%d. %s (%s, %s, rank %d)\n", idx+1, citation.Title,
				citation.Jurisdiction, citation.Type, citation.HierarchyRank)
		}
	}
	if len(result.RelatedNorms) > 0 {
		fmt.Println()
		fmt.Println("Related norms:")
		for _, entries := range result.RelatedNorms {
			for _, related := range entries {
				fmt.Printf("  - %s (%s)\n", related.Title, related.Relation)
			}
		}
	}
	fmt.Println()
	fmt.Printf("Certificate: %s\n", result.Certificate.Digest)
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete the ingested legal corpus from Postgres and Neo4j. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	store := index.NewStore()
	svc := ingestion.NewService(pgPool, norms.NewStore(neo4jDriver), nil, nil,
		store, index.NewLoader(pgPool), logger, cfg.Embeddings.Dimension)

	if err := svc.Clear(ctx); err != nil {
		logger.Fatalf("clear corpus: %v", err)
	}
	logger.Println("corpus removed; the audit log is append-only and was not touched")
}

func printUsage() {
	fmt.Println("Usage: lexgate <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP analysis API")
	fmt.Println("  ingest   Ingest document envelopes into the corpus (use --dir to override the data directory)")
	fmt.Println("  ask      Analyze a single question from the command line")
	fmt.Println("  clear    Remove the ingested corpus from Postgres and Neo4j")
	fmt.Println()
	fmt.Println("Environment: POSTGRES_DSN, NEO4J_URI, EMBEDDINGS_PROVIDER, GENERATION_PROVIDER, LEXGATE_*")
}
