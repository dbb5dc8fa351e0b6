package codegen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

var (
	eventNameRe  = regexp.MustCompile(`^[A-Z][a-zA-Z0-9_]*$`)
	paramNameRe  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	fixedBytesRe = regexp.MustCompile(`^bytes([1-9]|[12][0-9]|3[0-2])$`)
	integerRe    = regexp.MustCompile(`^u?int(\d+)?$`)
)

// EventParam is one parameter of an event signature.
type EventParam struct {
	Name    string
	Type    string
	Indexed bool
}

// EventSignature is a parsed Solidity event declaration.
type EventSignature struct {
	Raw    string
	Name   string
	Params []EventParam
}

// ParseEventSignature parses an event declaration. Both the canonical form
// "Transfer(address,address,uint256)" and the declared form
// "Transfer(address indexed from, address indexed to, uint256 value)" are accepted.
// Unnamed parameters are called param0, param1, ...
func ParseEventSignature(sig string) (*EventSignature, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, fmt.Errorf("empty signature")
	}

	open := strings.Index(sig, "(")
	closing := strings.LastIndex(sig, ")")
	if open == -1 || closing == -1 || closing < open || closing != len(sig)-1 {
		return nil, fmt.Errorf("invalid signature %q: malformed parentheses", sig)
	}

	name := strings.TrimSpace(sig[:open])
	if !eventNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid event name %q: must start with an uppercase letter", name)
	}

	params, err := parseParameters(sig[open+1 : closing])
	if err != nil {
		return nil, fmt.Errorf("failed to parse parameters of %s: %w", name, err)
	}

	return &EventSignature{Raw: sig, Name: name, Params: params}, nil
}

func parseParameters(list string) ([]EventParam, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return []EventParam{}, nil
	}

	parts := strings.Split(list, ",")
	params := make([]EventParam, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for i, part := range parts {
		param, err := parseParameter(strings.Fields(part), i)
		if err != nil {
			return nil, fmt.Errorf("parameter %d %q: %w", i, strings.TrimSpace(part), err)
		}
		if seen[param.Name] {
			return nil, fmt.Errorf("duplicate parameter name %s", param.Name)
		}
		seen[param.Name] = true

		params = append(params, param)
	}

	return params, nil
}

// parseParameter accepts "type", "type name", "type indexed" and "type indexed name".
func parseParameter(fields []string, index int) (EventParam, error) {
	if len(fields) == 0 {
		return EventParam{}, fmt.Errorf("empty parameter")
	}

	param := EventParam{Type: fields[0], Name: fmt.Sprintf("param%d", index)}
	if !isValidSolidityType(param.Type) {
		return EventParam{}, fmt.Errorf("invalid Solidity type %s", param.Type)
	}

	rest := fields[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		param.Indexed = true
		rest = rest[1:]
	}

	switch len(rest) {
	case 0:
	case 1:
		if !paramNameRe.MatchString(rest[0]) {
			return EventParam{}, fmt.Errorf("invalid parameter name %s", rest[0])
		}
		param.Name = rest[0]
	default:
		return EventParam{}, fmt.Errorf("unexpected %q", strings.Join(rest, " "))
	}

	return param, nil
}

func isValidSolidityType(typ string) bool {
	if strings.HasSuffix(typ, "[]") {
		return isValidSolidityType(strings.TrimSuffix(typ, "[]"))
	}
	if fixedArrayRe.MatchString(typ) {
		return isValidSolidityType(fixedArrayRe.ReplaceAllString(typ, ""))
	}

	switch typ {
	case "address", "bool", "string", "bytes":
		return true
	}
	if fixedBytesRe.MatchString(typ) {
		return true
	}

	m := integerRe.FindStringSubmatch(typ)
	if m == nil {
		return false
	}
	if m[1] == "" {
		return true
	}
	bits := integerBits(typ)
	return bits >= 8 && bits <= 256 && bits%8 == 0
}

// CanonicalSignature returns the canonical event signature without parameter names.
// Example: "Transfer(address,address,uint256)"
func (e *EventSignature) CanonicalSignature() string {
	types := make([]string, len(e.Params))
	for i, param := range e.Params {
		types[i] = param.Type
	}

	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// Topic0 is the hash every log of this event carries as its first topic.
func (e *EventSignature) Topic0() common.Hash {
	return crypto.Keccak256Hash([]byte(e.CanonicalSignature()))
}

// Field says where a decoded event parameter lives in a log.
type Field struct {
	Name    string
	Type    string
	Decoder string

	// Topic is the topic position of indexed parameters, 0 otherwise
	Topic int

	// Word is the first 32-byte word in log data of non-indexed parameters
	Word int
}

// InTopic reports whether the parameter is read from the log topics.
func (f Field) InTopic() bool {
	return f.Topic > 0
}

// Fields lays out the event parameters over topics and data words.
func (e *EventSignature) Fields() ([]Field, error) {
	fields := make([]Field, 0, len(e.Params))
	topic, word := 1, 0

	for _, param := range e.Params {
		f := Field{
			Name:    ToLowerCamelCase(param.Name),
			Type:    param.Type,
			Decoder: Decoder(param.Type, param.Indexed),
		}

		if param.Indexed {
			if topic >= project.MaxLogTopics {
				return nil, fmt.Errorf("event %s has more than %d indexed parameters", e.Name, project.MaxLogTopics-1)
			}
			f.Topic = topic
			topic++
		} else {
			f.Word = word
			word += HeadWords(param.Type)
		}

		fields = append(fields, f)
	}

	return fields, nil
}
