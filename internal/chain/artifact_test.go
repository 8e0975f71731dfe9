package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArtifactJSON = `{
	"abi": [
		{"inputs":[{"internalType":"address payable","name":"_owner","type":"address"},{"internalType":"address","name":"_customer","type":"address"},{"internalType":"uint256","name":"_price","type":"uint256"}],"stateMutability":"nonpayable","type":"constructor"},
		{"inputs":[{"internalType":"address payable","name":"_courier","type":"address"}],"name":"bindCourier","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[],"name":"confirmDelivery","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[],"name":"getOrderState","outputs":[{"internalType":"address","name":"","type":"address"},{"internalType":"address","name":"","type":"address"},{"internalType":"address","name":"","type":"address"},{"internalType":"uint256","name":"","type":"uint256"},{"internalType":"bool","name":"","type":"bool"},{"internalType":"bool","name":"","type":"bool"},{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"payOrder","outputs":[],"stateMutability":"payable","type":"function"}
	],
	"bytecode": "0x6080604052348015600f57600080fd5b50"
}`

func TestParseArtifact(t *testing.T) {
	a, err := ParseArtifact([]byte(testArtifactJSON))
	require.NoError(t, err)

	assert.NotEmpty(t, a.Bytecode)
	assert.Equal(t, byte(0x60), a.Bytecode[0])

	for _, method := range []string{"payOrder", "bindCourier", "confirmDelivery", "getOrderState"} {
		_, ok := a.ABI.Methods[method]
		assert.True(t, ok, "missing method %s", method)
	}
	assert.Len(t, a.ABI.Constructor.Inputs, 3)
}

func TestParseArtifact_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing abi", `{"bytecode":"0x6080"}`},
		{"missing bytecode", `{"abi":[]}`},
		{"bad bytecode hex", `{"abi":[{"inputs":[],"name":"payOrder","outputs":[],"stateMutability":"payable","type":"function"}],"bytecode":"0xzz"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArtifact([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "OrderEscrow.json")
	require.NoError(t, os.WriteFile(path, []byte(testArtifactJSON), 0o600))

	a, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Bytecode)

	_, err = LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
