package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/nfse-gateway/internal/application/certificate"
	appnfse "github.com/jhoicas/nfse-gateway/internal/application/nfse"
	infranfse "github.com/jhoicas/nfse-gateway/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/postgres"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/redislock"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/security"
	httpRouter "github.com/jhoicas/nfse-gateway/internal/interfaces/http"
	"github.com/jhoicas/nfse-gateway/pkg/config"
	"github.com/jhoicas/nfse-gateway/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
		Name:  cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("nfse_env", cfg.NFSE.Environment).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migración del esquema")
	}

	redisClient, err := redislock.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a Redis")
	}
	defer redisClient.Close()

	nfseRepo := postgres.NewNfseRepository(pool)
	eventRepo := postgres.NewNfseEventRepository(pool)
	cityRepo := postgres.NewCityConfigurationRepository(pool)
	certRepo := postgres.NewDigitalCertificateRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	locker := redislock.NewRedisLocker(redisClient)
	certStore := certificate.NewStore(certRepo, txRunner, security.NewAESGCMSealer(cfg.NFSE.CertSecret), log.Component("certificates"))

	// Un cliente ABRASF por municipio, firmando con el certificado activo de la empresa.
	registry := infranfse.NewRegistry(cityRepo, certStore, infranfse.NewSOAPClient(cfg.NFSE.CallTimeout()), cfg.NFSE.Environment)

	lifecycle := appnfse.NewLifecycleCoordinator(
		nfseRepo, eventRepo, registry, locker,
		appnfse.Config{
			LockTTL:        cfg.NFSE.LockTTL(),
			RetryAttempts:  cfg.NFSE.RetryAttempts,
			RetryBaseDelay: cfg.NFSE.RetryBaseDelay(),
			AsyncTimeout:   cfg.NFSE.AsyncTimeout(),
		},
		log.Component("lifecycle"),
	)
	issueUC := appnfse.NewIssueUseCase(nfseRepo, cityRepo, eventRepo, locker, log.Component("issue"))

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.NFSE.CallTimeout()*time.Duration(cfg.NFSE.RetryAttempts) + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		Issuer:          issueUC,
		Lifecycle:       lifecycle,
		Certificates:    certStore,
		CertWarningDays: cfg.NFSE.CertExpiryWarningDays,
	})

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	runEvery(bgCtx, &wg, cfg.NFSE.ReconcileInterval(), func(ctx context.Context) {
		report, err := lifecycle.Reconcile(ctx, "")
		if err != nil {
			log.Error().Err(err).Msg("reconciliación periódica")
			return
		}
		if report.Checked > 0 {
			log.Info().
				Int("checked", report.Checked).
				Int("resolved", report.Resolved).
				Int("skipped", report.Skipped).
				Int("failed", report.Failed).
				Msg("reconciliación periódica")
		}
	})
	runEvery(bgCtx, &wg, cfg.NFSE.ExpireSweepInterval(), func(ctx context.Context) {
		if _, err := certStore.ExpireOverdue(ctx); err != nil {
			log.Error().Err(err).Msg("barrido de certificados vencidos")
		}
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	stopBackground()
	wg.Wait()

	log.Info().Msg("aplicación detenida")
}

// runEvery ejecuta fn cada interval hasta que ctx se cancele. interval <= 0 desactiva la tarea.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
