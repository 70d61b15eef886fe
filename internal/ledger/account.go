package ledger

import (
	"SaleLedger/internal/event"
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemRaised
	SubTypeSystemVestingEscrow

	// External sub-types
	SubTypeExternalIssuance
	SubTypeExternalDeposits
)

// AssetID identifies one of the two assets a sale deals in
type AssetID uint16

const (
	AssetPayment AssetID = 1
	AssetSale    AssetID = 2
)

var idToAsset = map[AssetID]string{
	AssetPayment: "PAYMENT",
	AssetSale:    "SALE",
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

func GetAssetID(name string) (AssetID, bool) {
	for id, n := range idToAsset {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Holder  event.Identity // empty for system and external accounts
	SubType AccountSubType
	AssetID AssetID
}

func NewUserAccountKey(holder event.Identity, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Holder:  holder,
		SubType: SubTypeWallet,
		AssetID: assetID,
	}
}

func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for boundary accounts (value entering or leaving the ledger)
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// RaisedAccount holds the payment asset collected by purchases
func RaisedAccount() AccountKey {
	return NewSystemAccountKey(SubTypeSystemRaised, AssetPayment)
}

// EscrowAccount holds the locked portion of every grant
func EscrowAccount() AccountKey {
	return NewSystemAccountKey(SubTypeSystemVestingEscrow, AssetSale)
}

func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Holder, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemRaised:
		return "raised"
	case SubTypeSystemVestingEscrow:
		return "vesting_escrow"
	case SubTypeExternalIssuance:
		return "issuance"
	case SubTypeExternalDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}
