package models

import (
	"math/big"
)

type EscrowEventKind string

const (
	EscrowInitiated EscrowEventKind = "EscrowInitiated"
	EscrowReleased  EscrowEventKind = "EscrowReleased"
	EscrowRefunded  EscrowEventKind = "EscrowRefunded"
)

// EscrowState espelha o enum do contrato EscrowManager.
type EscrowState uint8

const (
	EscrowStateInitiated EscrowState = iota
	EscrowStateReleased
	EscrowStateRefunded
)

// EscrowRecord é a visão on-chain de um escrow (fonte da verdade).
type EscrowRecord struct {
	Buyer           string
	Seller          string
	PropertyToken   string
	TokenAmount     *big.Int
	DinarAmount     *big.Int
	BuyerConfirmed  bool
	SellerConfirmed bool
	AdminConfirmed  bool
	State           EscrowState
}

// EscrowEvent é um log do EscrowManager já decodificado.
// Buyer, Seller e os valores só vêm preenchidos em EscrowInitiated.
type EscrowEvent struct {
	Kind        EscrowEventKind
	EscrowID    *big.Int
	Buyer       string
	Seller      string
	TokenAmount *big.Int
	DinarAmount *big.Int
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
}
