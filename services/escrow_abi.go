package services

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ferreirogomes/aether/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// escrowManagerABI contém apenas a parte do EscrowManager usada pelo backend.
const escrowManagerABI = `[
	{"type":"event","name":"EscrowInitiated","anonymous":false,"inputs":[
		{"name":"escrowId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":true},
		{"name":"seller","type":"address","indexed":true},
		{"name":"tokenAmount","type":"uint256","indexed":false},
		{"name":"dinarAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"EscrowReleased","anonymous":false,"inputs":[
		{"name":"escrowId","type":"uint256","indexed":true}]},
	{"type":"event","name":"EscrowRefunded","anonymous":false,"inputs":[
		{"name":"escrowId","type":"uint256","indexed":true}]},
	{"type":"function","name":"escrows","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"}],
		"outputs":[
			{"name":"buyer","type":"address"},
			{"name":"seller","type":"address"},
			{"name":"propertyToken","type":"address"},
			{"name":"tokenAmount","type":"uint256"},
			{"name":"dinarAmount","type":"uint256"},
			{"name":"buyerConfirmed","type":"bool"},
			{"name":"sellerConfirmed","type":"bool"},
			{"name":"adminConfirmed","type":"bool"},
			{"name":"state","type":"uint8"}]},
	{"type":"function","name":"confirmEscrowBySeller","stateMutability":"nonpayable",
		"inputs":[{"name":"escrowId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"confirmEscrowByAdmin","stateMutability":"nonpayable",
		"inputs":[{"name":"escrowId","type":"uint256"}],"outputs":[]}
]`

var errUnknownEscrowLog = errors.New("log não pertence ao EscrowManager")

// EscrowABI devolve o ABI parseado do EscrowManager.
func EscrowABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(escrowManagerABI))
	if err != nil {
		panic(fmt.Sprintf("ABI do EscrowManager inválido: %v", err))
	}
	return parsed
}

// escrowTopics são os IDs dos três eventos acompanhados, para o filtro de logs.
func escrowTopics(contract abi.ABI) []common.Hash {
	return []common.Hash{
		contract.Events[string(models.EscrowInitiated)].ID,
		contract.Events[string(models.EscrowReleased)].ID,
		contract.Events[string(models.EscrowRefunded)].ID,
	}
}

// decodeEscrowLog converte um log do contrato em EscrowEvent.
func decodeEscrowLog(contract abi.ABI, lg types.Log) (models.EscrowEvent, error) {
	if len(lg.Topics) == 0 {
		return models.EscrowEvent{}, errUnknownEscrowLog
	}
	ev, err := contract.EventByID(lg.Topics[0])
	if err != nil {
		return models.EscrowEvent{}, errUnknownEscrowLog
	}

	fields := map[string]interface{}{}
	if len(lg.Data) > 0 {
		if err := contract.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
			return models.EscrowEvent{}, fmt.Errorf("falha ao decodificar dados de %s: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return models.EscrowEvent{}, fmt.Errorf("falha ao decodificar tópicos de %s: %w", ev.Name, err)
	}

	escrowID, ok := fields["escrowId"].(*big.Int)
	if !ok {
		return models.EscrowEvent{}, fmt.Errorf("%s sem escrowId", ev.Name)
	}
	evt := models.EscrowEvent{
		Kind:        models.EscrowEventKind(ev.Name),
		EscrowID:    escrowID,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}
	if evt.Kind == models.EscrowInitiated {
		buyer, _ := fields["buyer"].(common.Address)
		seller, _ := fields["seller"].(common.Address)
		evt.Buyer = addressString(buyer)
		evt.Seller = addressString(seller)
		evt.TokenAmount, _ = fields["tokenAmount"].(*big.Int)
		evt.DinarAmount, _ = fields["dinarAmount"].(*big.Int)
		if evt.TokenAmount == nil || evt.DinarAmount == nil {
			return models.EscrowEvent{}, fmt.Errorf("%s sem valores", ev.Name)
		}
	}
	return evt, nil
}

// decodeEscrowRecord converte o retorno de escrows(uint256).
func decodeEscrowRecord(values []interface{}) (models.EscrowRecord, error) {
	if len(values) != 9 {
		return models.EscrowRecord{}, fmt.Errorf("escrows() retornou %d campos, esperado 9", len(values))
	}
	var (
		rec models.EscrowRecord
		ok  [9]bool
	)
	var buyer, seller, token common.Address
	buyer, ok[0] = values[0].(common.Address)
	seller, ok[1] = values[1].(common.Address)
	token, ok[2] = values[2].(common.Address)
	rec.TokenAmount, ok[3] = values[3].(*big.Int)
	rec.DinarAmount, ok[4] = values[4].(*big.Int)
	rec.BuyerConfirmed, ok[5] = values[5].(bool)
	rec.SellerConfirmed, ok[6] = values[6].(bool)
	rec.AdminConfirmed, ok[7] = values[7].(bool)
	var state uint8
	state, ok[8] = values[8].(uint8)
	for i, good := range ok {
		if !good {
			return models.EscrowRecord{}, fmt.Errorf("campo %d de escrows() com tipo inesperado %T", i, values[i])
		}
	}
	rec.Buyer = addressString(buyer)
	rec.Seller = addressString(seller)
	rec.PropertyToken = addressString(token)
	rec.State = models.EscrowState(state)
	return rec, nil
}

func addressString(a common.Address) string {
	return models.NormalizeAddress(a.Hex())
}
