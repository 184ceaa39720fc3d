package http

import "github.com/gofiber/fiber/v2"

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuer          nfseIssuer
	Lifecycle       nfseLifecycle
	Certificates    certificateManager
	CertWarningDays int
}

// Router registra las rutas de la API. Todas requieren X-Business-ID.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", BusinessMiddleware())

	// NFS-e
	nfse := api.Group("/nfse")
	nfseHandler := NewNfseHandler(deps.Issuer, deps.Lifecycle)
	nfse.Post("/", nfseHandler.Issue)
	nfse.Get("/", nfseHandler.List)
	nfse.Post("/reconcile", nfseHandler.Reconcile)
	nfse.Get("/:id", nfseHandler.GetByID)
	nfse.Delete("/:id", nfseHandler.Delete)
	nfse.Get("/:id/events", nfseHandler.History)
	nfse.Post("/:id/submit", nfseHandler.Submit)
	nfse.Post("/:id/cancel", nfseHandler.Cancel)
	nfse.Post("/:id/substitute", nfseHandler.Substitute)
	nfse.Post("/:id/query", nfseHandler.Query)

	// Certificados digitales
	certs := api.Group("/certificates")
	certHandler := NewCertificateHandler(deps.Certificates, deps.CertWarningDays)
	certs.Post("/", certHandler.Activate)
	certs.Post("/inspect", certHandler.Inspect)
	certs.Get("/active", certHandler.Active)
	certs.Get("/expiring", certHandler.Expiring)
	certs.Delete("/:serial", certHandler.Revoke)
}
