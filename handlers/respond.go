package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// errValidation marca erros de entrada que viram 400.
var errValidation = errors.New("requisição inválida")

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// decodeRequest lê o corpo JSON e chama Validate.
func decodeRequest(r *http.Request, req interface{ Validate() error }) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(req); err != nil {
		return validationError("corpo JSON inválido: %v", err)
	}
	return req.Validate()
}

func validAddress(field, value string) error {
	if !common.IsHexAddress(strings.TrimSpace(value)) {
		return validationError("%s deve ser um endereço hex válido", field)
	}
	return nil
}

func positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return validationError("%s deve ser maior que zero", field)
	}
	return nil
}
