// Command engram runs the content-addressable memory service.
//
// Usage:
//
//	engram serve
//	engram serve --listen :9000 --storage memory
//	engram version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/entrained/engram"
	"github.com/entrained/engram/pkg/auth"
	"github.com/entrained/engram/pkg/cleanup"
	"github.com/entrained/engram/pkg/config"
	"github.com/entrained/engram/pkg/curation"
	"github.com/entrained/engram/pkg/curator"
	"github.com/entrained/engram/pkg/embedder"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/logger"
	"github.com/entrained/engram/pkg/mcpserver"
	"github.com/entrained/engram/pkg/server"
	"github.com/entrained/engram/pkg/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the memory service."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat string `help:"Log format (text or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	v := engram.GetVersion()
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			v.Version = info.Main.Version
		}
	}
	fmt.Println(v.String())
	return nil
}

// ServeCmd starts the HTTP and MCP servers. Flags override the ENGRAM_
// environment, which overrides .env files.
type ServeCmd struct {
	Listen  string `help:"Listen address (overrides ENGRAM_LISTEN_ADDR)."`
	Storage string `help:"Storage backend: redis or memory (overrides ENGRAM_STORAGE)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	config.LoadEnvFiles()
	cfg := config.Load()
	if c.Listen != "" {
		cfg.ListenAddr = c.Listen
	}
	if c.Storage != "" {
		cfg.Storage = c.Storage
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.LogFormat = cli.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	emb := buildEmbedder(cfg)
	eng := engine.New(st, cfg.VectorDimensions)

	cur := curator.NewOpenAICurator(curator.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.CurationModel,
	})
	pipe := curation.New(eng, emb, cur)

	scheduler := cleanup.New(st, eng.Invalidate, cleanup.Config{
		DailySpec:   cfg.CleanupDailySpec,
		WeeklySpec:  cfg.CleanupWeeklySpec,
		MonthlySpec: cfg.CleanupMonthlySpec,
	})
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("cleanup scheduler: %w", err)
	}
	defer scheduler.Stop()

	mcp := mcpserver.New(eng, emb, engram.Version)

	srv := server.New(server.Options{
		Engine:        eng,
		Pipeline:      pipe,
		APISecretKey:  cfg.APISecretKey,
		EnableAPIAuth: cfg.EnableAPIAuth,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		Limiter: auth.NewLimiter(auth.LimiterConfig{
			PerMinute:     cfg.RateLimitPerMinute,
			PerHour:       cfg.RateLimitPerHour,
			BlockDuration: cfg.BlockDuration,
		}),
		Sanitizer:    auth.NewSanitizer(cfg.MaxCommentLength, 0),
		MCPHandler:   mcp.HTTPHandler(),
		MaxBodyBytes: int64(cfg.MaxBodyBytes),
		Version:      engram.Version,
	})

	slog.Info("engram starting",
		"listen", cfg.ListenAddr,
		"storage", cfg.Storage,
		"embedding_provider", cfg.EmbeddingProvider,
		"vector_dims", cfg.VectorDimensions,
		"api_auth", cfg.EnableAPIAuth,
	)
	return srv.Start(ctx, cfg.ListenAddr)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage {
	case "memory":
		slog.Warn("using in-memory storage, data will not survive restarts")
		return store.NewMemStore(), nil
	default:
		st, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:      cfg.RedisAddr(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			IndexName: cfg.VectorIndexName,
			Dims:      cfg.VectorDimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		return st, nil
	}
}

func buildEmbedder(cfg *config.Config) embedder.Embedder {
	if cfg.EmbeddingProvider == "openai" {
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.VectorDimensions,
		})
	}
	return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.EmbeddingBaseURL,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.VectorDimensions,
	})
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("engram"),
		kong.Description("Engram - semantic memory service for AI agents"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
