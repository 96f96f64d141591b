package models

import "strings"

// NormalizeAddress deixa o endereço no formato gravado no banco (hex minúsculo).
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
