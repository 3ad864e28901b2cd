package codegen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// maxIndexedParams is the number of indexed parameters an EVM event can carry
// next to its signature topic.
const maxIndexedParams = 3

// EventParam is one declared parameter of an event. Type is stored in
// canonical form: a bare "uint" is normalized to "uint256" during parsing.
type EventParam struct {
	Name    string
	Type    string
	Indexed bool
}

// EventSignature is a parsed event declaration such as
// "Transfer(uint256 indexed propertyId, address from, uint256 value)".
type EventSignature struct {
	Raw    string
	Name   string
	Params []EventParam
}

var (
	eventNameRe = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	paramNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// ParseEventSignature parses an event declaration in Solidity syntax. Both
// the bare canonical form ("Transfer(address,address,uint256)") and
// declarations with parameter names and indexed markers are accepted.
// Unnamed parameters get positional names.
func ParseEventSignature(signature string) (*EventSignature, error) {
	trimmed := strings.TrimSpace(signature)
	if trimmed == "" {
		return nil, fmt.Errorf("event signature is empty")
	}

	open := strings.Index(trimmed, "(")
	if open < 0 || !strings.HasSuffix(trimmed, ")") {
		return nil, fmt.Errorf("event signature %q must have the form Name(type name, ...)", trimmed)
	}

	name := strings.TrimSpace(trimmed[:open])
	if !eventNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid event name %q: must start with an uppercase letter", name)
	}

	params := []EventParam{}
	if inner := strings.TrimSpace(trimmed[open+1 : len(trimmed)-1]); inner != "" {
		seen := make(map[string]struct{})
		for i, rawParam := range strings.Split(inner, ",") {
			param, err := parseParameter(rawParam, i)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", name, err)
			}
			if _, dup := seen[param.Name]; dup {
				return nil, fmt.Errorf("event %s: duplicate parameter name %q", name, param.Name)
			}
			seen[param.Name] = struct{}{}
			params = append(params, param)
		}
	}

	indexed := 0
	for _, param := range params {
		if param.Indexed {
			indexed++
		}
	}
	if indexed > maxIndexedParams {
		return nil, fmt.Errorf("event %s: %d indexed parameters, at most %d are allowed", name, indexed, maxIndexedParams)
	}

	return &EventSignature{Raw: trimmed, Name: name, Params: params}, nil
}

// parseParameter parses a single parameter declaration. The accepted forms
// are "type", "type name" and "type indexed name". Leading underscores on
// the name are dropped so the Solidity-style _from and from map to the same
// column.
func parseParameter(raw string, position int) (EventParam, error) {
	fields := strings.Fields(raw)

	var param EventParam
	switch len(fields) {
	case 1:
		param = EventParam{Name: fmt.Sprintf("param%d", position), Type: fields[0]}
	case 2:
		if fields[1] == "indexed" {
			return EventParam{}, fmt.Errorf("invalid parameter %q: indexed parameters need a name", strings.TrimSpace(raw))
		}
		param = EventParam{Name: fields[1], Type: fields[0]}
	case 3:
		if fields[1] != "indexed" {
			return EventParam{}, fmt.Errorf("invalid parameter %q: expected \"type indexed name\"", strings.TrimSpace(raw))
		}
		param = EventParam{Name: fields[2], Type: fields[0], Indexed: true}
	default:
		return EventParam{}, fmt.Errorf("invalid parameter %q", strings.TrimSpace(raw))
	}

	param.Type = normalizeEventType(param.Type)
	if !isSupportedEventType(param.Type) {
		return EventParam{}, fmt.Errorf("unsupported parameter type %q: supported types are address, bool, bytes32 and uint8 through uint256", param.Type)
	}

	param.Name = strings.TrimLeft(param.Name, "_")
	if !paramNameRe.MatchString(param.Name) {
		return EventParam{}, fmt.Errorf("invalid parameter name in %q", strings.TrimSpace(raw))
	}

	return param, nil
}

// normalizeEventType maps type aliases to the canonical form hashed into the
// event topic.
func normalizeEventType(solType string) string {
	if solType == "uint" {
		return "uint256"
	}

	return solType
}

// isSupportedEventType reports whether handler scaffolding can be generated
// for a parameter type. Every supported type occupies exactly one 32-byte
// word, so dynamic types, arrays and signed integers are rejected.
func isSupportedEventType(solType string) bool {
	switch solType {
	case "address", "bool", "bytes32":
		return true
	}

	if size, ok := strings.CutPrefix(solType, "uint"); ok {
		bits, err := strconv.Atoi(size)
		if err != nil {
			return false
		}
		return bits >= 8 && bits <= 256 && bits%8 == 0
	}

	return false
}

// CanonicalSignature returns the form hashed into the event topic: the event
// name followed by the comma-joined parameter types.
func (e *EventSignature) CanonicalSignature() string {
	types := make([]string, len(e.Params))
	for i, param := range e.Params {
		types[i] = param.Type
	}

	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// IndexedParams returns the parameters carried in log topics, in declaration
// order.
func (e *EventSignature) IndexedParams() []EventParam {
	params := make([]EventParam, 0, len(e.Params))
	for _, param := range e.Params {
		if param.Indexed {
			params = append(params, param)
		}
	}

	return params
}

// NonIndexedParams returns the parameters carried in the log data, in
// declaration order.
func (e *EventSignature) NonIndexedParams() []EventParam {
	params := make([]EventParam, 0, len(e.Params))
	for _, param := range e.Params {
		if !param.Indexed {
			params = append(params, param)
		}
	}

	return params
}
