package project

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	internalcommon "github.com/goran-ethernal/ChainMapper/internal/common"
)

// MaxLogTopics is the number of indexed topic positions an EVM log can carry.
const MaxLogTopics = 4

var signatureRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*\([^()]*(\([^()]*\)[^()]*)*\)$`)

// IsSignature reports whether s looks like a function or event signature, e.g. Transfer(address,address,uint256).
func IsSignature(s string) bool {
	return signatureRe.MatchString(strings.ReplaceAll(s, " ", ""))
}

// TopicHash resolves a log filter topic to the hash it must equal.
// Accepts a 32-byte hex value or an event signature.
func TopicHash(topic string) (common.Hash, bool) {
	topic = strings.TrimSpace(topic)
	if internalcommon.IsHexString(topic, common.HashLength) {
		return common.HexToHash(topic), true
	}
	if IsSignature(topic) {
		return crypto.Keccak256Hash([]byte(strings.ReplaceAll(topic, " ", ""))), true
	}
	return common.Hash{}, false
}

// FunctionSelector resolves a transaction filter function to its 4-byte selector.
// Accepts a 4-byte hex value or a function signature.
func FunctionSelector(function string) ([]byte, bool) {
	function = strings.TrimSpace(function)
	if internalcommon.IsHexString(function, 4) { //nolint:mnd
		b, err := internalcommon.HexToBytes(function)
		return b, err == nil
	}
	if IsSignature(function) {
		return crypto.Keccak256([]byte(strings.ReplaceAll(function, " ", "")))[:4], true
	}
	return nil, false
}

// IsAddress reports whether s is a hex encoded 20-byte address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}
