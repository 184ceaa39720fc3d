package nfse

import (
	"fmt"
	"unicode"
)

// pesos módulo 11 para los dígitos verificadores del CNPJ (Receita Federal).
var (
	cnpjWeights1 = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ valida los dos dígitos verificadores del CNPJ.
// Acepta "11.222.333/0001-81" o "11222333000181".
func ValidateCNPJ(cnpj string) error {
	digits := OnlyDigits(cnpj)
	if len(digits) != 14 {
		return fmt.Errorf("nfse: CNPJ debe tener 14 dígitos, se encontraron %d", len(digits))
	}
	if allEqual(digits) {
		return fmt.Errorf("nfse: CNPJ inválido %q", cnpj)
	}
	d1 := mod11(digits[:12], cnpjWeights1[:])
	d2 := mod11(append(append([]byte{}, digits[:12]...), d1), cnpjWeights2[:])
	if digits[12] != d1 || digits[13] != d2 {
		return fmt.Errorf("nfse: dígitos verificadores del CNPJ inválidos: esperado %c%c, recibido %c%c", d1, d2, digits[12], digits[13])
	}
	return nil
}

// ValidateCPF valida los dos dígitos verificadores del CPF.
func ValidateCPF(cpf string) error {
	digits := OnlyDigits(cpf)
	if len(digits) != 11 {
		return fmt.Errorf("nfse: CPF debe tener 11 dígitos, se encontraron %d", len(digits))
	}
	if allEqual(digits) {
		return fmt.Errorf("nfse: CPF inválido %q", cpf)
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	d1 := mod11(digits[:9], w1)
	d2 := mod11(append(append([]byte{}, digits[:9]...), d1), w2)
	if digits[9] != d1 || digits[10] != d2 {
		return fmt.Errorf("nfse: dígitos verificadores del CPF inválidos: esperado %c%c, recibido %c%c", d1, d2, digits[9], digits[10])
	}
	return nil
}

// ValidateTaxDocument decide por longitud entre CPF (11) y CNPJ (14).
func ValidateTaxDocument(doc string) error {
	if len(OnlyDigits(doc)) == 11 {
		return ValidateCPF(doc)
	}
	return ValidateCNPJ(doc)
}

// IsCNPJ informa si doc tiene longitud de CNPJ.
func IsCNPJ(doc string) bool { return len(OnlyDigits(doc)) == 14 }

// OnlyDigits elimina todo carácter que no sea dígito.
func OnlyDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) && r < 128 {
			out = append(out, byte(r))
		}
	}
	return out
}

func mod11(digits []byte, weights []int) byte {
	var sum int
	for i, d := range digits {
		sum += int(d-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + (11 - r))
}

func allEqual(digits []byte) bool {
	for _, d := range digits[1:] {
		if d != digits[0] {
			return false
		}
	}
	return true
}
