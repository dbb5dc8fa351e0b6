package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecoder(t *testing.T) {
	tests := []struct {
		solidityType string
		indexed      bool
		want         string
	}{
		{"address", true, DecodeAddress},
		{"address", false, DecodeAddress},
		{"bool", false, DecodeBool},
		{"uint8", false, DecodeNumber},
		{"uint48", true, DecodeNumber},
		{"uint64", false, DecodeHex},
		{"uint256", false, DecodeHex},
		{"uint", false, DecodeHex},
		{"int32", false, DecodeHex},
		{"bytes32", true, DecodeHex},
		{"string", true, DecodeHex},
		{"string", false, DecodeSkip},
		{"bytes", false, DecodeSkip},
		{"uint256[]", false, DecodeSkip},
		{"address[2]", false, DecodeSkip},
	}

	for _, tt := range tests {
		t.Run(tt.solidityType, func(t *testing.T) {
			assert.Equal(t, tt.want, Decoder(tt.solidityType, tt.indexed))
		})
	}
}

func TestHeadWords(t *testing.T) {
	assert.Equal(t, 1, HeadWords("uint256"))
	assert.Equal(t, 1, HeadWords("string"))
	assert.Equal(t, 1, HeadWords("uint256[]"))
	assert.Equal(t, 3, HeadWords("address[3]"))
	assert.Equal(t, 4, HeadWords("uint8[2][2]"))
	assert.Equal(t, 1, HeadWords("string[2]"))
}

func TestCaseConversion(t *testing.T) {
	assert.Equal(t, "token_id", ToSnakeCase("tokenId"))
	assert.Equal(t, "TokenId", ToPascalCase("tokenId"))
	assert.Equal(t, "MyToken", ToPascalCase("my_token"))
	assert.Equal(t, "tokenId", ToLowerCamelCase("token_id"))
	assert.Equal(t, "erc20-token", ToKebabCase("Erc20Token"))
	assert.Equal(t, "my-token", ToKebabCase("my token"))
}
