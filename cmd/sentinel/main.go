package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vpn-sentinel/sentinel/app/controllers"
	"github.com/vpn-sentinel/sentinel/internal/pkg/billing"
	"github.com/vpn-sentinel/sentinel/internal/pkg/cache"
	"github.com/vpn-sentinel/sentinel/internal/pkg/certmanager"
	"github.com/vpn-sentinel/sentinel/internal/pkg/database"
	"github.com/vpn-sentinel/sentinel/internal/pkg/env"
	"github.com/vpn-sentinel/sentinel/internal/pkg/jobqueue"
	"github.com/vpn-sentinel/sentinel/internal/pkg/notify"
	"github.com/vpn-sentinel/sentinel/internal/pkg/pki"
	"github.com/vpn-sentinel/sentinel/internal/pkg/router"
)

func main() {
	app, shutdown := NewApplication()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		shutdown()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the full service: database, cache, CA client,
// certificate manager, job queue, billing reconciler and HTTP routes.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	sshCfg, err := pki.NewSSHConfigFromEnv()
	if err != nil {
		log.Fatalf("PKI configuration error: %v", err)
	}
	ca := pki.NewSSHClient(sshCfg)

	stripeCfg, err := billing.NewStripeConfigFromEnv()
	if err != nil {
		log.Fatalf("Billing configuration error: %v", err)
	}
	provider := billing.NewStripeClient(stripeCfg)

	notifier := notify.NewMailNotifierFromEnv()
	store := certmanager.NewDiskStoreFromEnv()

	certRepo := certmanager.NewRepository(database.GetDB())
	certs := certmanager.NewManager(certRepo, ca, store, notifier, certmanager.DefaultValidity)

	sweeper := certmanager.NewSweeper(certs, time.Minute, 10*time.Minute)
	sweeper.Start()

	jobs := jobqueue.NewManager(certs, ca)
	jobs.Start()

	billingRepo := billing.NewRepository(database.GetDB())
	requester := jobqueue.NewRequester(jobs.GetQueue())
	reconciler := billing.NewReconciler(billingRepo, provider, requester, notifier)
	ingestor := billing.NewIngestor(billingRepo, reconciler, stripeCfg.WebhookSecret)

	controllers.Initialize(controllers.Container{
		Ingestor:    ingestor,
		Provider:    provider,
		BillingRepo: billingRepo,
		Certs:       certs,
		CertRepo:    certRepo,
		Store:       store,
		CA:          ca,
		Jobs:        jobs,
	})

	app := fiber.New(fiber.Config{
		AppName: "sentinel",
	})

	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	shutdown := func() {
		jobs.Stop()
		sweeper.Stop()
	}
	return app, shutdown
}
