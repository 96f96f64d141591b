package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvestmentHandler expõe as posições e os rendimentos de cada investidor.
type InvestmentHandler struct {
	Store storage.Store
	log   *zap.SugaredLogger
}

func NewInvestmentHandler(store storage.Store, log *zap.SugaredLogger) *InvestmentHandler {
	return &InvestmentHandler{Store: store, log: log}
}

// GetUserInvestments lista os investimentos de um endereço.
// GET /investments/user/{address}
func (h *InvestmentHandler) GetUserInvestments(w http.ResponseWriter, r *http.Request) {
	holder := models.NormalizeAddress(chi.URLParam(r, "address"))
	var invs []models.Investment
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		invs, err = q.ListInvestmentsByHolder(r.Context(), holder)
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao listar investimentos", "holder", holder, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"investments": invs})
}

// GetUserPayouts lista os rendimentos recebidos por um endereço.
// GET /investments/payouts/user/{address}
func (h *InvestmentHandler) GetUserPayouts(w http.ResponseWriter, r *http.Request) {
	holder := models.NormalizeAddress(chi.URLParam(r, "address"))
	var payouts []models.YieldPayout
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		payouts, err = q.ListPayoutsByHolder(r.Context(), holder)
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao listar rendimentos", "holder", holder, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}

type RecordInvestmentRequest struct {
	HolderAddress   string          `json:"userAddress"`
	PropertyAddress string          `json:"propertyAddress"`
	TokenAmount     decimal.Decimal `json:"tokenAmount"`
	AmountPaid      decimal.Decimal `json:"dinarPaid"`
	TxHash          string          `json:"txHash"`
}

func (r *RecordInvestmentRequest) Validate() error {
	if err := validAddress("userAddress", r.HolderAddress); err != nil {
		return err
	}
	if err := validAddress("propertyAddress", r.PropertyAddress); err != nil {
		return err
	}
	if strings.TrimSpace(r.TxHash) == "" {
		return validationError("txHash é obrigatório")
	}
	if err := positive("tokenAmount", r.TokenAmount); err != nil {
		return err
	}
	if r.AmountPaid.IsNegative() {
		return validationError("dinarPaid não pode ser negativo")
	}
	return nil
}

// RecordInvestment registra manualmente um investimento PENDING, para o caso
// do frontend conhecer a transação antes do evento do escrow chegar.
// POST /investments/record
func (h *InvestmentHandler) RecordInvestment(w http.ResponseWriter, r *http.Request) {
	var req RecordInvestmentRequest
	if err := decodeRequest(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	inv := models.Investment{
		ID:              uuid.New().String(),
		HolderAddress:   models.NormalizeAddress(req.HolderAddress),
		PropertyAddress: models.NormalizeAddress(req.PropertyAddress),
		TokenAmount:     req.TokenAmount,
		AmountPaid:      req.AmountPaid,
		Status:          models.InvestmentPending,
		TxHash:          strings.TrimSpace(req.TxHash),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		// O evento do escrow pode ter chegado antes: qualquer linha da
		// transação já conta como registro.
		existing, err := q.ListInvestmentsByTxHash(r.Context(), inv.TxHash)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return storage.ErrDuplicateTxHash
		}
		return q.CreateInvestment(r.Context(), inv)
	})
	if errors.Is(err, storage.ErrDuplicateTxHash) {
		writeMessage(w, http.StatusConflict, "Transação já registrada")
		return
	}
	if err != nil {
		h.log.Errorw("erro ao registrar investimento", "tx", inv.TxHash, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"investment": inv})
}
