package handlers

import (
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

// YieldDistributor dispara distribuições de rendimento em segundo plano.
type YieldDistributor interface {
	Trigger(propertyAddress string)
	TriggerAll()
}

// PropertyHandler lida com imóveis e com a distribuição de rendimentos.
type PropertyHandler struct {
	Store storage.Store
	Yield YieldDistributor
	log   *zap.SugaredLogger
}

func NewPropertyHandler(store storage.Store, yield YieldDistributor, log *zap.SugaredLogger) *PropertyHandler {
	return &PropertyHandler{Store: store, Yield: yield, log: log}
}

type CreatePropertyRequest struct {
	Address      string          `json:"address"`
	Title        string          `json:"title"`
	Symbol       string          `json:"symbol"`
	ValuationUSD decimal.Decimal `json:"valuationUSD"`
	TotalSupply  decimal.Decimal `json:"totalSupply"`
	YieldRate    decimal.Decimal `json:"yieldRate"`
}

func (r *CreatePropertyRequest) Validate() error {
	if err := validAddress("address", r.Address); err != nil {
		return err
	}
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Symbol) == "" {
		return validationError("title e symbol são obrigatórios")
	}
	if err := positive("totalSupply", r.TotalSupply); err != nil {
		return err
	}
	p := models.Property{ValuationUSD: r.ValuationUSD, YieldRate: r.YieldRate}
	if err := p.Validate(); err != nil {
		return validationError("%v", err)
	}
	return nil
}

// CreateProperty cadastra um imóvel tokenizado.
// POST /properties
func (h *PropertyHandler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req CreatePropertyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	property := models.Property{
		ID:           uuid.New().String(),
		Address:      models.NormalizeAddress(req.Address),
		Title:        req.Title,
		Symbol:       req.Symbol,
		ValuationUSD: req.ValuationUSD,
		TotalSupply:  req.TotalSupply,
		YieldRate:    req.YieldRate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var exists bool
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		if _, exists, err = q.GetProperty(r.Context(), property.Address); err != nil || exists {
			return err
		}
		return q.SaveProperty(r.Context(), property)
	})
	if err != nil {
		h.log.Errorw("erro ao cadastrar imóvel", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Falha ao cadastrar imóvel")
		return
	}
	if exists {
		writeMessage(w, http.StatusConflict, "Imóvel já cadastrado")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"property": property})
}

// ListProperties lista os imóveis.
// GET /properties
func (h *PropertyHandler) ListProperties(w http.ResponseWriter, r *http.Request) {
	var props []models.Property
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		props, err = q.ListProperties(r.Context())
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao listar imóveis", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"properties": props, "total": len(props)})
}

// GetProperty obtém um imóvel pelo endereço do token.
// GET /properties/{address}
func (h *PropertyHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	address := models.NormalizeAddress(chi.URLParam(r, "address"))
	var (
		property models.Property
		found    bool
	)
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		property, found, err = q.GetProperty(r.Context(), address)
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao buscar imóvel", "property", address, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "Imóvel não encontrado")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"property": property})
}

type UpdatePropertyRequest struct {
	ValuationUSD *decimal.Decimal `json:"valuationUSD"`
	YieldRate    *decimal.Decimal `json:"yieldRate"`
}

func (r *UpdatePropertyRequest) Validate() error {
	if r.ValuationUSD == nil && r.YieldRate == nil {
		return validationError("informe valuationUSD ou yieldRate")
	}
	if r.ValuationUSD != nil && r.ValuationUSD.IsNegative() {
		return validationError("%v", models.ErrNegativeValuation)
	}
	if r.YieldRate != nil && r.YieldRate.IsNegative() {
		return validationError("%v", models.ErrNegativeYieldRate)
	}
	return nil
}

// UpdateProperty altera avaliação e/ou taxa de rendimento (admin).
// PATCH /properties/{address}
func (h *PropertyHandler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	address := models.NormalizeAddress(chi.URLParam(r, "address"))
	var req UpdatePropertyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		property models.Property
		found    bool
	)
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		if property, found, err = q.GetProperty(r.Context(), address); err != nil || !found {
			return err
		}
		if req.ValuationUSD != nil {
			property.ValuationUSD = *req.ValuationUSD
		}
		if req.YieldRate != nil {
			property.YieldRate = *req.YieldRate
		}
		property.UpdatedAt = time.Now().UTC()
		return q.SaveProperty(r.Context(), property)
	})
	if err != nil {
		h.log.Errorw("erro ao atualizar imóvel", "property", address, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "Imóvel não encontrado")
		return
	}
	h.log.Infow("imóvel atualizado", "property", address,
		"valuation_usd", property.ValuationUSD.String(), "yield_rate", property.YieldRate.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"property": property})
}

type DistributeYieldRequest struct {
	PropertyAddress string `json:"propertyAddress"`
}

func (r *DistributeYieldRequest) Validate() error {
	if strings.TrimSpace(r.PropertyAddress) == "" {
		return validationError("propertyAddress é obrigatório")
	}
	return nil
}

// DistributeYield dispara a distribuição de rendimento de um imóvel.
// A resposta só confirma que a distribuição começou.
// POST /properties/yield-distribute
func (h *PropertyHandler) DistributeYield(w http.ResponseWriter, r *http.Request) {
	var req DistributeYieldRequest
	if err := decodeRequest(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Yield.Trigger(req.PropertyAddress)
	writeMessage(w, http.StatusOK, "Distribuição de rendimentos iniciada em segundo plano")
}

// DistributeYieldAll dispara a distribuição para todos os imóveis.
// POST /properties/yield-distribute-all
func (h *PropertyHandler) DistributeYieldAll(w http.ResponseWriter, r *http.Request) {
	h.Yield.TriggerAll()
	writeMessage(w, http.StatusOK, "Distribuição global de rendimentos iniciada para todos os imóveis")
}

// AdminStats devolve os totais do painel admin.
// GET /properties/admin/stats
func (h *PropertyHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	var totals models.PayoutTotals
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		totals, err = q.PayoutTotals(r.Context())
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao calcular estatísticas", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": totals})
}
