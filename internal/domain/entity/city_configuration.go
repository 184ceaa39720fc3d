package entity

import "time"

// Versiones de esquema ABRASF soportadas.
const (
	SchemaVersionABRASF100 = "1.00"
	SchemaVersionABRASF202 = "2.02"
	SchemaVersionABRASF204 = "2.04"
)

// Ambientes del web service municipal.
const (
	EnvironmentHomologation = "homologacao"
	EnvironmentProduction   = "producao"
)

// CityConfiguration parámetros del web service NFSe de un municipio.
// Selecciona la implementación concreta del cliente de transmisión.
type CityConfiguration struct {
	ID               string
	IBGECode         string // Código IBGE de 7 dígitos
	Name             string
	UF               string
	Provider         string // "abrasf"
	SchemaVersion    string // ver SchemaVersionABRASF*
	HomologationURL  string
	ProductionURL    string
	SOAPActionPrefix string // ej: "http://nfse.abrasf.org.br/"
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EndpointFor devuelve la URL del web service para el ambiente indicado.
func (c *CityConfiguration) EndpointFor(env string) string {
	if env == EnvironmentProduction {
		return c.ProductionURL
	}
	return c.HomologationURL
}
