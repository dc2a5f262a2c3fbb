package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/api/handlers"
	"github.com/papertrend/backend/internal/cache/redis"
	"github.com/papertrend/backend/internal/cluster"
	"github.com/papertrend/backend/internal/generator"
	"github.com/papertrend/backend/internal/ingestion"
	"github.com/papertrend/backend/internal/llm"
	"github.com/papertrend/backend/internal/metrics"
	"github.com/papertrend/backend/internal/middleware/ratelimit"
	"github.com/papertrend/backend/internal/pipeline"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/syllabus"
	"github.com/papertrend/backend/internal/trend"
	"github.com/papertrend/backend/internal/vector"
	"github.com/papertrend/backend/internal/vector/zilliz"
	"github.com/papertrend/backend/internal/voting"
	"github.com/papertrend/backend/pkg/config"
	appLogger "github.com/papertrend/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting PaperTrend API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	index := buildVectorIndex(cfg, sqliteClient)

	var cache llm.EmbeddingCache
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache = redisClient
	}

	var graph *syllabus.Client
	graph, err = syllabus.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		appLogger.Warn("Neo4j unavailable, syllabus hierarchy disabled", zap.Error(err))
		graph = nil
	} else {
		defer graph.Close(context.Background())
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cache,
	)

	sections := generator.DefaultSections()

	processor := ingestion.NewProcessor(sqliteClient, index, llmClient)
	clusterEngine := cluster.NewEngine(sqliteClient, index, llmClient,
		cfg.Analysis.GroupingThreshold, cfg.Analysis.CommitBatchSize)
	mapper := syllabus.NewMapper(sqliteClient, llmClient)

	var hierarchy trend.HierarchySource
	if graph != nil {
		hierarchy = graph
	}
	analyzer := trend.NewAnalyzer(sqliteClient, llmClient, hierarchy, cfg.Analysis)

	gen := generator.NewGenerator(sqliteClient, llmClient, sections, 0)
	dedup := generator.NewDeduplicator(sqliteClient, llmClient, cfg.Analysis.DedupThreshold)
	voter := voting.NewVoter(sqliteClient, llmClient, sections, cfg.Analysis.RelevanceFloor)

	wsHandler := handlers.NewWebSocketHandler()

	pipe := pipeline.New(sqliteClient, processor, clusterEngine, mapper, analyzer,
		gen, dedup, voter, sections, wsHandler.Broadcast)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(120)
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(limiter.Middleware())

	questionHandler := handlers.NewQuestionHandler(processor, sqliteClient, graph)
	pipelineHandler := handlers.NewPipelineHandler(pipe)
	snapshotHandler := handlers.NewSnapshotHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/questions", questionHandler.IngestQuestions)
	api.Post("/topics", questionHandler.IngestTopics)

	api.Post("/pipeline/run", pipelineHandler.RunPipeline)
	api.Get("/pipeline/status", pipelineHandler.GetStatus)

	api.Get("/snapshots/:id", snapshotHandler.GetSnapshot)
	api.Get("/snapshots/:id/selected", snapshotHandler.GetSelected)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/pipeline", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// buildVectorIndex prefers the Zilliz collection and falls back to an
// exact in-memory index seeded from the store when the cluster is
// unreachable.
func buildVectorIndex(cfg *config.Config, db *sqlite.Client) vector.Index {
	zillizClient, err := zilliz.NewClient(
		cfg.Zilliz.Endpoint,
		cfg.Zilliz.APIKey,
		cfg.Zilliz.CollectionName,
		cfg.Zilliz.VectorDim,
	)
	if err == nil {
		if err := zillizClient.CreateCollection(context.Background()); err == nil {
			return zillizClient
		}
		appLogger.Warn("Failed to create vector collection, falling back to in-memory index", zap.Error(err))
		zillizClient.Close()
	} else {
		appLogger.Warn("Zilliz unavailable, falling back to in-memory index", zap.Error(err))
	}

	index := vector.NewMemoryIndex()
	seeded := 0

	questions, err := db.ListUngroupedQuestions()
	if err == nil {
		for _, q := range questions {
			if len(q.Embedding) > 0 {
				_ = index.Add(context.Background(), q.ID, q.Embedding)
				seeded++
			}
		}
	}
	grouped, err := db.ListGroupedQuestions()
	if err == nil {
		for _, q := range grouped {
			if len(q.Embedding) > 0 {
				_ = index.Add(context.Background(), q.ID, q.Embedding)
				seeded++
			}
		}
	}

	appLogger.Info("In-memory vector index seeded", zap.Int("vectors", seeded))
	return index
}
