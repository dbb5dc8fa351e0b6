package common

import (
	"encoding/hex"
	"strconv"
	"strings"
)

const bytesInMB = 1024 * 1024

func has0x(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// ParseUint64OrHex parses a decimal number, or a hex one when it carries the 0x prefix.
func ParseUint64OrHex(s string) (uint64, error) {
	if has0x(s) {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

// HexToBytes decodes an optionally 0x-prefixed hex string. An odd digit count is left-padded.
func HexToBytes(s string) ([]byte, error) {
	if has0x(s) {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// IsHexString reports whether s is a 0x-prefixed hex string of exactly n bytes.
func IsHexString(s string, n int) bool {
	if !has0x(s) || len(s) != 2+2*n {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
