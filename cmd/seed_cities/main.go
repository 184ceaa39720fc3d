// seed_cities genera el script SQL que puebla city_configurations a partir del XML de
// municipios del IBGE (codificado en ISO-8859-1).
//
// Uso: go run ./cmd/seed_cities [ruta/municipios.xml]
// Por defecto busca municipios.xml en el directorio actual.
// Escribe: internal/infrastructure/postgres/seed_cities.sql
//
// Los municipios se insertan inactivos y sin endpoints: cada prefeitura se habilita a mano
// después de cargar sus URLs de homologação y produção.
package main

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

type municipios struct {
	Items []municipio `xml:"municipio"`
}

type municipio struct {
	Codigo string `xml:"codigo,attr"`
	Nome   string `xml:"nome,attr"`
	UF     string `xml:"uf,attr"`
}

func main() {
	xmlPath := "municipios.xml"
	if len(os.Args) > 1 {
		xmlPath = os.Args[1]
	}
	f, err := os.Open(xmlPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Abrir XML: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var m municipios
	dec := xml.NewDecoder(f)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "ISO-8859-1") || strings.EqualFold(charset, "ISO8859-1") {
			return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
		}
		return input, nil
	}
	if err := dec.Decode(&m); err != nil {
		fmt.Fprintf(os.Stderr, "Decodificar XML: %v\n", err)
		os.Exit(1)
	}

	var cities []municipio
	for _, v := range m.Items {
		v.Codigo = strings.TrimSpace(v.Codigo)
		v.Nome = strings.TrimSpace(v.Nome)
		v.UF = strings.ToUpper(strings.TrimSpace(v.UF))
		if len(v.Codigo) != 7 || v.Nome == "" || len(v.UF) != 2 {
			continue
		}
		cities = append(cities, v)
	}
	sort.Slice(cities, func(i, j int) bool { return cities[i].Codigo < cities[j].Codigo })

	outPath := filepath.Join(findModuleRoot(), "internal", "infrastructure", "postgres", "seed_cities.sql")
	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	out.WriteString("-- Municipios brasileños (código IBGE)\n")
	out.WriteString("-- Generado desde el XML de municipios del IBGE\n\n")
	for _, c := range cities {
		fmt.Fprintf(out, "INSERT INTO city_configurations (id, ibge_code, name, uf, provider, schema_version, is_active)\n")
		fmt.Fprintf(out, "VALUES ('city-%s', '%s', '%s', '%s', 'abrasf', '%s', FALSE)\n",
			c.Codigo, c.Codigo, escapeSQL(c.Nome), c.UF, entity.SchemaVersionABRASF204)
		out.WriteString("ON CONFLICT (ibge_code) DO UPDATE SET name = EXCLUDED.name, uf = EXCLUDED.uf;\n")
	}

	fmt.Printf("Generado %s: %d municipios\n", outPath, len(cities))
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
