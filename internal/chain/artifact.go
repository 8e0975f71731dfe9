package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Artifact holds the compiled escrow contract: parsed ABI and creation
// bytecode. It is loaded once at startup and shared by all gateway calls.
type Artifact struct {
	ABI      abi.ABI
	Bytecode []byte
}

// artifactFile mirrors the JSON layout produced by solc output tooling.
type artifactFile struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

// LoadArtifact reads and parses a compiled contract artifact from path.
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return ParseArtifact(raw)
}

// ParseArtifact parses artifact JSON bytes.
func ParseArtifact(raw []byte) (*Artifact, error) {
	var f artifactFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if len(f.ABI) == 0 {
		return nil, fmt.Errorf("parse artifact: missing abi")
	}
	if f.Bytecode == "" {
		return nil, fmt.Errorf("parse artifact: missing bytecode")
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(f.ABI)))
	if err != nil {
		return nil, fmt.Errorf("parse artifact abi: %w", err)
	}

	code, err := hex.DecodeString(strings.TrimPrefix(f.Bytecode, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse artifact bytecode: %w", err)
	}

	return &Artifact{ABI: parsedABI, Bytecode: code}, nil
}
