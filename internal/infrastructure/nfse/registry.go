package nfse

import (
	"context"
	"fmt"
	"sync"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/nfse/signer"
)

// Registry mantiene un Client por CityConfiguration (creado al primer uso).
type Registry struct {
	cities repository.CityConfigurationRepository
	certs  CertificateProvider
	caller SOAPCaller
	env    string

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry crea el registro. env es el ambiente del web service (homologacao|producao).
func NewRegistry(cities repository.CityConfigurationRepository, certs CertificateProvider, caller SOAPCaller, env string) *Registry {
	return &Registry{
		cities:  cities,
		certs:   certs,
		caller:  caller,
		env:     env,
		clients: make(map[string]*Client),
	}
}

// ClientFor devuelve el cliente del municipio; falla si no existe o está inactivo.
func (r *Registry) ClientFor(ctx context.Context, cityConfigurationID string) (domainnfse.TransmissionClient, error) {
	r.mu.Lock()
	if c, ok := r.clients[cityConfigurationID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	city, err := r.cities.FindByID(ctx, cityConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("nfse: configuración de municipio: %w", err)
	}
	if city == nil {
		return nil, fmt.Errorf("nfse: municipio %s: %w", cityConfigurationID, domain.ErrNotFound)
	}
	if !city.IsActive {
		return nil, fmt.Errorf("nfse: municipio %s inactivo: %w", city.Name, domain.ErrValidation)
	}
	if city.Provider != "" && city.Provider != ProviderABRASF {
		return nil, fmt.Errorf("nfse: proveedor %q no soportado: %w", city.Provider, domain.ErrValidation)
	}

	c := NewClient(city, r.env, r.certs, signer.NewDigitalSignatureService(signer.AlgorithmForSchema(city.SchemaVersion)), r.caller)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[cityConfigurationID]; ok {
		return existing, nil
	}
	r.clients[cityConfigurationID] = c
	return c, nil
}

// Invalidate descarta el cliente cacheado (tras cambiar la configuración del municipio).
func (r *Registry) Invalidate(cityConfigurationID string) {
	r.mu.Lock()
	delete(r.clients, cityConfigurationID)
	r.mu.Unlock()
}

var _ domainnfse.ClientResolver = (*Registry)(nil)
