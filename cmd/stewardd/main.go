package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"steward/core/internal/archive"
	"steward/core/internal/audit"
	"steward/core/internal/cache"
	"steward/core/internal/config"
	"steward/core/internal/contentgen"
	"steward/core/internal/engine"
	"steward/core/internal/gitstore"
	"steward/core/internal/mcptools"
	"steward/core/internal/search"
	"steward/core/internal/store"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	ledger, err := audit.Open(cfg.AuditDir)
	if err != nil {
		log.Fatalf("audit ledger init failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitstore.New(cfg.ReposDir, gitstore.Options{
		LockWait: cfg.LockWait,
		Retries:  cfg.CommitRetries,
		Backoff:  cfg.RetryBackoff,
	})

	core := engine.New(cfg, dataStore, gitService, ledger)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		revCache, err := cache.NewRevisionCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer revCache.Close()
		core.AttachCache(revCache)
		log.Printf("Using Redis head-revision cache")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewScan(ledger))
	core.AttachSearch(searchService)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		archiver, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		core.AttachArchiver(archiver)
		log.Printf("Archiving closed projects to %s/%s", cfg.S3Endpoint, cfg.S3Bucket)
	}

	generator, err := contentgen.NewTemplateGenerator()
	if err != nil {
		log.Fatalf("content templates failed to load: %v", err)
	}
	core.AttachGenerator(generator)

	s := server.NewMCPServer(
		"steward",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	registerTools(s, core, searchService)

	// MCP speaks on stdout; everything else goes to stderr via log.
	log.Printf("steward %s serving MCP on stdio", version)
	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func registerTools(s *server.MCPServer, core *engine.Engine, searchService *search.Service) {
	createProject := mcptools.NewCreateProjectTool(core)
	s.AddTool(createProject.Definition(), createProject.Handle)

	getProject := mcptools.NewGetProjectTool(core)
	s.AddTool(getProject.Definition(), getProject.Handle)

	listProjects := mcptools.NewListProjectsTool(core)
	s.AddTool(listProjects.Definition(), listProjects.Handle)

	transition := mcptools.NewTransitionTool(core)
	s.AddTool(transition.Definition(), transition.Handle)

	readArtifact := mcptools.NewReadArtifactTool(core)
	s.AddTool(readArtifact.Definition(), readArtifact.Handle)

	history := mcptools.NewHistoryTool(core)
	s.AddTool(history.Definition(), history.Handle)

	compare := mcptools.NewCompareTool(core)
	s.AddTool(compare.Definition(), compare.Handle)

	createProposal := mcptools.NewCreateProposalTool(core)
	s.AddTool(createProposal.Definition(), createProposal.Handle)

	generateProposal := mcptools.NewGenerateProposalTool(core)
	s.AddTool(generateProposal.Definition(), generateProposal.Handle)

	previewProposal := mcptools.NewPreviewProposalTool(core)
	s.AddTool(previewProposal.Definition(), previewProposal.Handle)

	applyProposal := mcptools.NewApplyProposalTool(core)
	s.AddTool(applyProposal.Definition(), applyProposal.Handle)

	rejectProposal := mcptools.NewRejectProposalTool(core)
	s.AddTool(rejectProposal.Definition(), rejectProposal.Handle)

	listProposals := mcptools.NewListProposalsTool(core)
	s.AddTool(listProposals.Definition(), listProposals.Handle)

	auditList := mcptools.NewAuditListTool(core)
	s.AddTool(auditList.Definition(), auditList.Handle)

	auditVerify := mcptools.NewAuditVerifyTool(core)
	s.AddTool(auditVerify.Definition(), auditVerify.Handle)

	governanceSearch := mcptools.NewSearchTool(searchService)
	s.AddTool(governanceSearch.Definition(), governanceSearch.Handle)
}
