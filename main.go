package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/redis/v3"
	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/internal/auth"
	"github.com/khanghh/kguard/internal/challenge"
	"github.com/khanghh/kguard/internal/common"
	"github.com/khanghh/kguard/internal/config"
	"github.com/khanghh/kguard/internal/credential"
	"github.com/khanghh/kguard/internal/handlers/api"
	"github.com/khanghh/kguard/internal/honeytrap"
	"github.com/khanghh/kguard/internal/middlewares"
	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/model"
	"github.com/khanghh/kguard/params"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
	gitTag    string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
	keyOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Directory to write the key pair to",
		Value: ".",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "kguard - grid challenge authentication with honeytraps and one-time credentials"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
		{
			Name:   "keygen",
			Usage:  "Generate an Ed25519 credential signing key pair",
			Flags:  []cli.Flag{keyOutFlag},
			Action: keygen,
		},
	}
	app.Action = run
}

func keygen(ctx *cli.Context) error {
	key, err := credential.GenerateKey()
	if err != nil {
		return err
	}
	privPEM, err := credential.MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}
	pubPEM, err := credential.MarshalPublicKeyPEM(key)
	if err != nil {
		return err
	}
	dir := ctx.String(keyOutFlag.Name)
	privFile := filepath.Join(dir, key.ID+".pem")
	pubFile := filepath.Join(dir, key.ID+".pub.pem")
	if err := os.WriteFile(privFile, privPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(pubFile, pubPEM, 0o644); err != nil {
		return err
	}
	fmt.Printf("kid: %s\nsigning key: %s\npublic key: %s\n", key.ID, privFile, pubFile)
	return nil
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: true,
		},
		TranslateError: true,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Failed to get database handle", "error", err)
		os.Exit(1)
	}
	if dbConfig.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	if dbConfig.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(dbConfig.ConnMaxIdleTime) * time.Second)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
	}

	if len(dbConfig.Replicas) > 0 {
		replicas := make([]gorm.Dialector, 0, len(dbConfig.Replicas))
		for _, dsn := range dbConfig.Replicas {
			replicas = append(replicas, mysql.Open(dsn))
		}
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		})
		if dbConfig.MaxOpenConns > 0 {
			resolver.SetMaxOpenConns(dbConfig.MaxOpenConns)
		}
		if err := db.Use(resolver); err != nil {
			slog.Error("Failed to register database replicas", "error", err)
			os.Exit(1)
		}
	}

	if err := model.AutoMigrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	return db
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redis.Storage {
	return redis.New(redis.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

// mustInitStorage opens the configured challenge and credential store and
// returns the readiness checks of the backend behind it.
func mustInitStorage(storageCfg config.StorageConfig) (store.Storage, map[string]common.ReadinessCheck, func()) {
	var (
		storage store.Storage
		checks  = make(map[string]common.ReadinessCheck)
		closeFn = func() {}
	)
	switch storageCfg.Backend {
	case config.StorageBackendRedis:
		redisStorage := mustInitRedisStorage(storageCfg.Redis)
		storage = store.NewRedisStorage(redisStorage.Conn())
		checks["redis"] = redisCheck(redisStorage.Conn())
		closeFn = func() { redisStorage.Close() }
	case config.StorageBackendBadger:
		badgerStorage, err := store.OpenBadgerStorage(storageCfg.Badger.Dir, storageCfg.Badger.InMemory)
		if err != nil {
			slog.Error("Failed to open badger storage", "dir", storageCfg.Badger.Dir, "error", err)
			os.Exit(1)
		}
		storage = badgerStorage
		checks["badger"] = badgerCheck(badgerStorage.DB())
		closeFn = func() { badgerStorage.Close() }
	default:
		slog.Warn("Using in-process memory storage, challenges and credentials are not shared between replicas")
		memoryStorage := store.NewMemoryStorage()
		storage = memoryStorage
		closeFn = func() { memoryStorage.Close() }
	}

	if storageCfg.Breaker.Enabled {
		storage = store.WithCircuitBreaker(storage, store.BreakerSettings{
			Name:         storageCfg.Backend,
			MaxRequests:  storageCfg.Breaker.MaxRequests,
			Interval:     storageCfg.Breaker.Interval,
			Timeout:      storageCfg.Breaker.Timeout,
			MinRequests:  storageCfg.Breaker.MinRequests,
			FailureRatio: storageCfg.Breaker.FailureRatio,
		})
	}
	return storage, checks, closeFn
}

func mustInitKeyring(credentialCfg config.CredentialConfig) *credential.Keyring {
	keyring, err := credential.LoadKeyring(credentialCfg.SigningKeyFile, credentialCfg.VerificationKeyFiles)
	if err != nil {
		slog.Error("Failed to load credential signing key, generate one with `kguard keygen`", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded credential keys", "kid", keyring.SigningKey().ID, "algorithms", keyring.Algorithms())
	return keyring
}

func setupAPIRoutes(
	router fiber.Router,
	authorizeService *auth.AuthorizeService,
	monitor *honeytrap.Monitor,
	issuer *credential.Issuer,
	auditChain *audit.Chain) {

	// handlers
	var (
		challengeHandler  = api.NewChallengeHandler(authorizeService, monitor)
		credentialHandler = api.NewCredentialHandler(issuer)
		auditHandler      = api.NewAuditHandler(auditChain)
	)

	// routes
	router.Post("/challenges", challengeHandler.PostChallenge)
	router.Post("/challenges/:id/verify", challengeHandler.PostVerify)
	router.Post("/challenges/:id/decoys/:decoyId", challengeHandler.PostDecoyBeacon)
	router.Post("/credentials/verify", credentialHandler.PostVerify)
	router.Post("/credentials/refresh", credentialHandler.PostRefresh)
	router.Get("/credentials/keys", credentialHandler.GetPublicKeys)
	router.Post("/credentials/:jti/revoke", credentialHandler.PostRevoke)
	router.Get("/credentials/:jti", credentialHandler.GetStatus)
	router.Post("/audit/events", auditHandler.PostEvent)
	router.Get("/audit/verify", auditHandler.GetVerify)
	router.Get("/audit/export", auditHandler.GetExport)
	router.Get("/audit", auditHandler.GetEntries)
}

func run(ctx *cli.Context) error {
	config, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return err
	}

	mustInitLogger(config.Debug || ctx.IsSet(debugFlag.Name))

	if err := model.SetNodeID(config.NodeID); err != nil {
		slog.Error("Invalid node id", "nodeID", config.NodeID, "error", err)
		return err
	}

	cacheStorage, checks, closeStorage := mustInitStorage(config.Storage)
	defer closeStorage()

	var auditRepo audit.Repository
	if config.Audit.Backend == "memory" {
		slog.Warn("Using in-process memory audit chain, entries are lost on restart")
		auditRepo = audit.NewMemoryRepository()
	} else {
		db := mustInitDatabase(config.MySQL)
		auditRepo = audit.NewAuditEntryRepository(db)
		checks["mysql"] = databaseCheck(db)
	}
	keyring := mustInitKeyring(config.Credential)

	// services
	auditChain := audit.NewChain(auditRepo, config.Audit.ChainID)
	gridService, err := challenge.NewGridService(cacheStorage, config.MasterKey, challenge.GridConfig{
		Size:           config.Grid.Size,
		TargetCount:    config.Grid.TargetCount,
		HoneytrapCount: config.Grid.HoneytrapCount,
		ChallengeTTL:   config.Grid.ChallengeTTL,
	})
	if err != nil {
		slog.Error("Invalid grid configuration", "error", err)
		return err
	}
	monitor := honeytrap.NewMonitor(cacheStorage, auditChain, honeytrap.MonitorConfig{
		DecoyCount: config.Honeytrap.DecoyCount,
		TTL:        config.Grid.ChallengeTTL,
		MinElapsed: config.Honeytrap.MinElapsed,
		MaxElapsed: config.Honeytrap.MaxElapsed,
	})
	verifier := challenge.NewVerifier(cacheStorage, monitor, auditChain)
	issuer, err := credential.NewIssuer(keyring, cacheStorage, auditChain, credential.IssuerConfig{
		Issuer:        config.Credential.Issuer,
		Audience:      config.Credential.Audience,
		AccessTTL:     config.Credential.AccessTTL,
		RefreshTTL:    config.Credential.RefreshTTL,
		RegistryGrace: config.Credential.RegistryGrace,
	})
	if err != nil {
		slog.Error("Invalid credential configuration", "error", err)
		return err
	}
	authorizeService := auth.NewAuthorizeService(gridService, monitor, verifier, issuer)

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		JSONEncoder:   json.Marshal,
		JSONDecoder:   json.Unmarshal,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(middlewares.RequestTimeout(params.RequestTimeout))
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(config.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	setupAPIRoutes(router.Group("/api"), authorizeService, monitor, issuer, auditChain)

	healthCheckCtx, term := context.WithCancel(ctx.Context)
	done := make(chan struct{})
	go common.StartHealthCheckServer(healthCheckCtx, done, params.HealthCheckServerAddr, checks)
	defer func() {
		term()
		<-done
	}()
	return router.Listen(config.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
