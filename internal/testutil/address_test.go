package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestAddress_Deterministic(t *testing.T) {
	assert.Equal(t, Address("alice"), Address("alice"))
	assert.NotEqual(t, Address("alice"), Address("bob"))
	assert.NotEqual(t, common.Address{}, Address("alice"))
}

func TestAddress_ParsesHex(t *testing.T) {
	hex := "0x00000000000000000000000000000000000000aa"
	assert.Equal(t, common.HexToAddress(hex), Address(hex))
}
