package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/anchor"
	"github.com/reservewatch/reservewatch-go/pkg/anchor/ethereum"
	"github.com/reservewatch/reservewatch-go/pkg/anchor/local"
	"github.com/reservewatch/reservewatch-go/pkg/auditor"
	"github.com/reservewatch/reservewatch-go/pkg/config"
	"github.com/reservewatch/reservewatch-go/pkg/crypto"
	"github.com/reservewatch/reservewatch-go/pkg/logger"
	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/persistence/badger"
	"github.com/reservewatch/reservewatch-go/pkg/persistence/memory"
	"github.com/reservewatch/reservewatch-go/pkg/persistence/redis"
	"github.com/reservewatch/reservewatch-go/pkg/risk"
	"github.com/reservewatch/reservewatch-go/pkg/server"
)

func main() {
	app := &cli.App{
		Name:  "reserve-server",
		Usage: "Proof-of-reserves commitment and risk scoring service",
		Description: `An HTTP service that commits reserve balances to merkle roots and scores reporting entities.

This server implements:
- Merkle commitments over ordered batches of reserve records
- Inclusion proofs for any committed record, served after restarts
- Root anchoring to a local log or an on-chain registry
- Deterministic, explainable risk scoring of disclosed financials`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvReservePort},
			},
			&cli.StringFlag{
				Name:    "hash-algorithm",
				Usage:   fmt.Sprintf("Hash used for leaves and nodes: %v", crypto.SupportedHashAlgorithms()),
				Value:   crypto.DefaultHashAlgorithm.String(),
				EnvVars: []string{config.EnvReserveHashAlgorithm},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Storage backend: memory, badger or redis",
				Value:   config.DefaultPersistence.String(),
				EnvVars: []string{config.EnvReservePersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Badger data directory",
				Value:   config.DefaultDataDir,
				EnvVars: []string{config.EnvReserveDataDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis server address (host:port)",
				EnvVars: []string{config.EnvReserveRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvReserveRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				Value:   config.DefaultRedisDB,
				EnvVars: []string{config.EnvReserveRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix applied to every Redis key",
				EnvVars: []string{config.EnvReserveRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "anchor",
				Usage:   "Where committed roots are published: none, local or ethereum",
				Value:   config.DefaultAnchor.String(),
				EnvVars: []string{config.EnvReserveAnchorType},
			},
			&cli.StringFlag{
				Name:    "anchor-log",
				Usage:   "Append-only root log used by the local anchor",
				Value:   config.DefaultAnchorLog,
				EnvVars: []string{config.EnvReserveAnchorLogPath},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   config.DefaultRpcUrl,
				EnvVars: []string{config.EnvReserveRPCURL},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars: []string{config.EnvReserveChainID},
			},
			&cli.StringFlag{
				Name:    "anchor-contract",
				Usage:   "Root registry contract address",
				EnvVars: []string{config.EnvReserveAnchorContract},
			},
			&cli.StringFlag{
				Name:    "anchor-private-key",
				Usage:   "Hex secp256k1 key that signs root updates",
				EnvVars: []string{config.EnvReserveAnchorPrivateKey},
			},
			&cli.DurationFlag{
				Name:    "publish-timeout",
				Usage:   "Upper bound on publishing one root, including the wait for its receipt",
				Value:   config.DefaultPublishTimeout,
				EnvVars: []string{config.EnvReservePublishTimeout},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Requests per second accepted by the API, 0 disables limiting",
				Value:   config.DefaultRateLimit,
				EnvVars: []string{config.EnvReserveRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Usage:   "Burst size for the API rate limiter",
				Value:   config.DefaultRateBurst,
				EnvVars: []string{config.EnvReserveRateBurst},
			},
			&cli.StringFlag{
				Name:    "scoring-config",
				Usage:   "YAML or JSON file with lowThreshold, highThreshold, weightCash and weightFloat",
				EnvVars: []string{config.EnvReserveScoringConfig},
			},
			&cli.IntFlag{
				Name:    "scoring-concurrency",
				Usage:   "Entities scored in parallel, 0 uses GOMAXPROCS",
				EnvVars: []string{config.EnvReserveScoringConcurrency},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvReserveVerbose},
			},
		},
		Action: runReserveServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runReserveServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	serverConfig := parseServerConfig(c)
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	scoringConfig := risk.DefaultScoringConfig()
	if serverConfig.ScoringConfigPath != "" {
		scoringConfig, err = risk.LoadConfigFile(serverConfig.ScoringConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load scoring config: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newPersistence(serverConfig, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	rootAnchor, closeAnchor, err := newAnchor(ctx, serverConfig, l)
	if err != nil {
		return err
	}
	defer closeAnchor()

	a, err := auditor.NewAuditor(auditor.Config{
		HashAlgorithm:      serverConfig.HashAlgorithm,
		Scoring:            scoringConfig,
		ScoringConcurrency: serverConfig.ScoringConcurrency,
		PublishTimeout:     serverConfig.PublishTimeout,
	}, store, rootAnchor, l)
	if err != nil {
		return fmt.Errorf("failed to create auditor: %w", err)
	}

	if err := a.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile latest batch with anchored root: %w", err)
	}

	if serverConfig.Verbose {
		l.Sugar().Infow("Reserve Server Configuration",
			"port", serverConfig.Port,
			"hash_algorithm", serverConfig.HashAlgorithm,
			"persistence", serverConfig.PersistenceType,
			"anchor", serverConfig.AnchorType,
			"chain", serverConfig.ChainName,
			"publish_timeout", serverConfig.PublishTimeout,
			"rate_limit", serverConfig.RateLimit,
			"low_threshold", scoringConfig.LowThreshold.String(),
			"high_threshold", scoringConfig.HighThreshold.String(),
		)
	}

	srv := server.NewServer(a, server.Config{
		Port:      serverConfig.Port,
		RateLimit: serverConfig.RateLimit,
		RateBurst: serverConfig.RateBurst,
	}, l)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Reserve Server running", "port", serverConfig.Port)
	l.Sugar().Infow("Available endpoints",
		"commit", "POST /reserves/batches",
		"proof", "GET /reserves/batches/{id}/proof/{recordID}",
		"verify", "POST /reserves/verify",
		"batches", "GET /reserves/batches",
		"history", "GET /reserves/anchor/history",
		"score", "POST /risk/score",
		"runs", "GET /risk/runs",
		"rescore", "POST /risk/runs/{id}/rescore")
	l.Sugar().Info("Press Ctrl+C to stop")

	<-ctx.Done()
	l.Sugar().Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func parseServerConfig(c *cli.Context) *config.ServerConfig {
	return &config.ServerConfig{
		Port:            c.Int("port"),
		HashAlgorithm:   crypto.HashAlgorithm(c.String("hash-algorithm")),
		PersistenceType: config.PersistenceType(c.String("persistence")),
		DataDir:         c.String("data-dir"),
		Redis: config.RedisSettings{
			Address:   c.String("redis-address"),
			Password:  c.String("redis-password"),
			DB:        c.Int("redis-db"),
			KeyPrefix: c.String("redis-key-prefix"),
		},
		AnchorType:    config.AnchorType(c.String("anchor")),
		AnchorLogPath: c.String("anchor-log"),
		Ethereum: config.EthereumAnchorSettings{
			RpcUrl:          c.String("rpc-url"),
			ChainID:         config.ChainId(c.Uint64("chain-id")),
			ContractAddress: c.String("anchor-contract"),
			PrivateKey:      c.String("anchor-private-key"),
		},
		PublishTimeout:     c.Duration("publish-timeout"),
		RateLimit:          c.Float64("rate-limit"),
		RateBurst:          c.Int("rate-burst"),
		ScoringConfigPath:  c.String("scoring-config"),
		ScoringConcurrency: c.Int("scoring-concurrency"),
		Debug:              c.Bool("verbose"),
		Verbose:            c.Bool("verbose"),
	}
}

func newPersistence(cfg *config.ServerConfig, l *zap.Logger) (persistence.IReservePersistence, error) {
	switch cfg.PersistenceType {
	case config.PersistenceTypeMemory:
		l.Sugar().Warnw("Using in-memory persistence, committed batches will not survive a restart")
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		store, err := badger.NewBadgerPersistence(cfg.DataDir, l)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger persistence: %w", err)
		}
		return store, nil
	case config.PersistenceTypeRedis:
		store, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis persistence: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.PersistenceType)
	}
}

func newAnchor(ctx context.Context, cfg *config.ServerConfig, l *zap.Logger) (anchor.IRootAnchor, func(), error) {
	noop := func() {}

	switch cfg.AnchorType {
	case config.AnchorTypeNone:
		return nil, noop, nil
	case config.AnchorTypeLocal:
		la, err := local.NewLocalAnchor(cfg.AnchorLogPath, l)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open local anchor: %w", err)
		}
		return la, func() { _ = la.Close() }, nil
	case config.AnchorTypeEthereum:
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		ea, err := ethereum.Dial(dialCtx, cfg.Ethereum.RpcUrl, &ethereum.Config{
			ContractAddress: common.HexToAddress(cfg.Ethereum.ContractAddress),
			PrivateKey:      cfg.Ethereum.PrivateKey,
		}, l)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create ethereum anchor: %w", err)
		}
		l.Sugar().Infow("Anchoring roots on chain", "chain", cfg.ChainName, "contract", cfg.Ethereum.ContractAddress)
		return ea, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported anchor type: %s", cfg.AnchorType)
	}
}
