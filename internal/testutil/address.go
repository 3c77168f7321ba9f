package testutil

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address derives a stable address from a label, so scenarios and tests can
// name participants ("alice", "keeper") instead of spelling out hex.
//
// A label that already is a hex address is parsed as one.
func Address(label string) common.Address {
	if common.IsHexAddress(label) {
		return common.HexToAddress(label)
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(label)))
}
