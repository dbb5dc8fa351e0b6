package codegen

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Decoders understood by the generated mapping helpers.
const (
	DecodeAddress = "address"
	DecodeBool    = "bool"
	DecodeNumber  = "number"
	DecodeHex     = "hex"

	// DecodeSkip marks values the generated mapping leaves to the user: dynamic types in log data
	DecodeSkip = "skip"
)

// safeIntegerBits is the widest integer a JavaScript number holds exactly.
const safeIntegerBits = 53

var fixedArrayRe = regexp.MustCompile(`\[(\d+)\]$`)

// IsDynamic reports whether a Solidity type is ABI-encoded out of line.
func IsDynamic(solidityType string) bool {
	if solidityType == "string" || solidityType == "bytes" || strings.HasSuffix(solidityType, "[]") {
		return true
	}
	if m := fixedArrayRe.FindStringSubmatch(solidityType); m != nil {
		return IsDynamic(fixedArrayRe.ReplaceAllString(solidityType, ""))
	}
	return false
}

// HeadWords returns how many 32-byte words a value occupies in the head of log data.
func HeadWords(solidityType string) int {
	if IsDynamic(solidityType) {
		return 1
	}
	if m := fixedArrayRe.FindStringSubmatch(solidityType); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * HeadWords(fixedArrayRe.ReplaceAllString(solidityType, ""))
	}
	return 1
}

// Decoder picks the helper that turns one 32-byte word into a JavaScript value.
// Indexed dynamic values are stored as their keccak hash in the topic.
func Decoder(solidityType string, indexed bool) string {
	if IsDynamic(solidityType) || fixedArrayRe.MatchString(solidityType) {
		if indexed {
			return DecodeHex
		}
		return DecodeSkip
	}

	switch {
	case solidityType == "address":
		return DecodeAddress
	case solidityType == "bool":
		return DecodeBool
	case strings.HasPrefix(solidityType, "uint"), strings.HasPrefix(solidityType, "int"):
		if integerBits(solidityType) <= safeIntegerBits && strings.HasPrefix(solidityType, "uint") {
			return DecodeNumber
		}
		return DecodeHex
	default:
		return DecodeHex
	}
}

func integerBits(solidityType string) int {
	size := strings.TrimPrefix(strings.TrimPrefix(solidityType, "u"), "int")
	if size == "" {
		return 256 //nolint:mnd
	}
	bits, err := strconv.Atoi(size)
	if err != nil {
		return 256 //nolint:mnd
	}
	return bits
}

// ToSnakeCase converts a string from camelCase or PascalCase to snake_case.
func ToSnakeCase(s string) string {
	result := make([]rune, 0, len(s)+len(s))
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '_')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// ToPascalCase converts a string to PascalCase.
func ToPascalCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})

	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}

	return strings.Join(parts, "")
}

// ToLowerCamelCase converts a string to lowerCamelCase.
func ToLowerCamelCase(s string) string {
	pascal := ToPascalCase(s)
	if len(pascal) == 0 {
		return pascal
	}
	return strings.ToLower(pascal[:1]) + pascal[1:]
}

// ToKebabCase converts a PascalCase project name into a manifest name.
func ToKebabCase(s string) string {
	return strings.ReplaceAll(ToSnakeCase(ToPascalCase(s)), "_", "-")
}

// HandlerName is the exported mapping function that receives an event.
func HandlerName(event *EventSignature) string {
	return "handle" + event.Name
}
