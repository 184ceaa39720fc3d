// certinfo diagnostica un certificado A1 (.pfx/.p12 o PEM) antes de subirlo.
//
// Uso: go run ./cmd/certinfo <ruta/certificado.pfx>
// La contraseña se lee de CERT_PASSWORD.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/application/certificate"
	"github.com/jhoicas/nfse-gateway/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "uso: certinfo <ruta/certificado.pfx>")
		os.Exit(2)
	}
	certPath := os.Args[1]
	certPass := os.Getenv("CERT_PASSWORD")

	fmt.Println("🔍 DIAGNÓSTICO DE CERTIFICADO A1")
	fmt.Println("--------------------------------")
	fmt.Printf("📂 Intentando leer: %s\n", certPath)

	blob, err := os.ReadFile(certPath)
	if err != nil {
		fmt.Println("\n❌ ERROR DE ARCHIVO:")
		fmt.Printf("   Detalle técnico: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Archivo encontrado. Tamaño: %d bytes\n", len(blob))

	fmt.Println("\n🔐 Intentando abrir el contenedor con la contraseña...")
	store := certificate.NewStore(nil, nil, nil, nil)
	info, err := store.ReadCertificateInfo(blob, certPass)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWrongPassword):
			fmt.Println("\n❌ CONTRASEÑA INCORRECTA (revise CERT_PASSWORD)")
		default:
			fmt.Println("\n❌ CONTENEDOR INVÁLIDO O CORRUPTO")
		}
		fmt.Printf("   Detalle técnico: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✨ Certificado legible:")
	fmt.Printf("   Serial:     %s\n", info.SerialNumber)
	fmt.Printf("   Huella:     %s\n", info.Thumbprint)
	fmt.Printf("   Titular:    %s\n", info.Subject)
	fmt.Printf("   Emisor:     %s\n", info.Issuer)
	if info.CNPJ != "" {
		fmt.Printf("   CNPJ:       %s\n", info.CNPJ)
	}
	fmt.Printf("   Vigencia:   %s → %s\n", info.IssueDate.Format(time.DateOnly), info.ExpirationDate.Format(time.DateOnly))

	days := int(time.Until(info.ExpirationDate).Hours() / 24)
	if days < 0 {
		fmt.Printf("\n⚠️  VENCIDO hace %d días: la activación será rechazada.\n", -days)
		os.Exit(1)
	}
	fmt.Printf("   Vence en:   %d días\n", days)
}
