package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/finassist/internal/api"
	"github.com/kalambet/finassist/internal/chunker"
	"github.com/kalambet/finassist/internal/composer"
	"github.com/kalambet/finassist/internal/config"
	"github.com/kalambet/finassist/internal/engine"
	"github.com/kalambet/finassist/internal/invoices"
	"github.com/kalambet/finassist/internal/reindex"
	"github.com/kalambet/finassist/internal/retrieval"
	"github.com/kalambet/finassist/internal/router"
	"github.com/kalambet/finassist/internal/sharepoint"
	"github.com/kalambet/finassist/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the finassist HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "finassist version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.API.Token == "" {
		slog.Warn("api.token is not set; the HTTP API accepts unauthenticated requests")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.LLM.ChatModel, cfg.LLM.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	embedder := retrieval.NewEmbedder(eng, cfg.LLM.EmbedModel)
	index := retrieval.NewIndex(cfg.IndexPath(), embedder)

	// A nil interface, not a nil *invoices.Source, tells the router no
	// database is configured.
	var data router.DataSource
	if cfg.InvoicesConfigured() {
		src, err := invoices.Open(invoices.Config{
			Driver:   cfg.Invoices.Driver,
			Host:     cfg.Invoices.Host,
			Port:     cfg.Invoices.Port,
			User:     cfg.Invoices.User,
			Password: cfg.Invoices.Password,
			Name:     cfg.Invoices.Name,
			DSN:      cfg.Invoices.DSN,
		})
		if err != nil {
			return fmt.Errorf("opening invoice database: %w", err)
		}
		defer src.Close()
		if err := src.Ping(ctx); err != nil {
			slog.Warn("invoice database not reachable", "error", err)
		}
		data = src
	} else {
		slog.Warn("invoice database not configured; invoice questions will report an error")
	}

	rt := router.New(data, index, engine.NewGenerator(eng, cfg.LLM.ChatModel), composer.New(0), router.Config{
		Table: cfg.Invoices.Table,
		Limit: cfg.Invoices.Limit,
		TopK:  cfg.Retrieval.TopK,
	})

	reindexer, err := buildReindexer(cfg, embedder, store)
	if err != nil {
		return err
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Router:    rt,
		Reindexer: reindexerOrNil(reindexer),
		Index:     index,
		Store:     store,
		Token:     cfg.API.Token,
	})

	if reindexer != nil {
		interval, _ := cfg.ReindexInterval()
		if interval > 0 {
			go reindex.NewScheduler(reindexer, interval).Run(ctx)
			slog.Info("scheduled reindex enabled", "interval", interval)
		}
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Router:    rt,
			Reindexer: reindexerOrNil(reindexer),
			Store:     store,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           appHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "finassist listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildReindexer returns nil when SharePoint is not configured.
func buildReindexer(cfg config.Config, embedder *retrieval.Embedder, store *storage.Store) (*reindex.Reindexer, error) {
	spCfg := sharepoint.Config{
		TenantID:     cfg.SharePoint.TenantID,
		ClientID:     cfg.SharePoint.ClientID,
		ClientSecret: cfg.SharePoint.ClientSecret,
		Host:         cfg.SharePoint.Host,
		SiteName:     cfg.SharePoint.SiteName,
		DocLibPath:   cfg.SharePoint.DocLibPath,
	}
	if err := spCfg.Validate(); err != nil {
		slog.Warn("SharePoint not configured; reindexing disabled", "reason", err)
		return nil, nil
	}
	fetcher, err := sharepoint.NewFetcher(spCfg)
	if err != nil {
		return nil, fmt.Errorf("creating SharePoint fetcher: %w", err)
	}
	splitter, err := chunker.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk settings: %w", err)
	}
	return reindex.New(fetcher, embedder, splitter, cfg.IndexPath(), store), nil
}

func reindexerOrNil(r *reindex.Reindexer) api.Reindexer {
	if r == nil {
		return nil
	}
	return r
}
