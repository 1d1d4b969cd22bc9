package game

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"roundkeeper/internal/model"
)

// Args holds the arguments of one log keyed by ABI input name.
type Args map[string]interface{}

// Normalize resolves the inputs of event for raw. Named params are used
// first; inputs still missing are read positionally from the topics and
// data in declaration order. Inputs that neither shape carries stay absent.
func Normalize(event abi.Event, raw model.RawLogEntry) (Args, error) {
	args := make(Args, len(event.Inputs))
	var missingIndexed, missingData bool
	for _, input := range event.Inputs {
		if value, ok := lookupParam(raw.Params, input.Name); ok {
			args[input.Name] = value
			continue
		}
		if input.Indexed {
			missingIndexed = true
		} else {
			missingData = true
		}
	}

	if missingIndexed {
		topics, err := parseIndexedTopics(event, raw.Topics)
		if err != nil {
			return nil, err
		}
		indexed := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(indexed, indexedArguments(event.Inputs), topics); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
		for name, value := range indexed {
			if _, ok := args[name]; !ok {
				args[name] = value
			}
		}
	}

	if missingData && hasData(raw.Data) {
		values, err := unpackNonIndexed(event, raw.Data)
		if err != nil {
			return nil, err
		}
		nonIndexed := event.Inputs.NonIndexed()
		if len(values) != len(nonIndexed) {
			return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
		}
		for i, input := range nonIndexed {
			if _, ok := args[input.Name]; !ok {
				args[input.Name] = values[i]
			}
		}
	}

	return args, nil
}

// lookupParam finds a named param, tolerating a leading underscore on either side.
func lookupParam(params map[string]interface{}, name string) (interface{}, bool) {
	if len(params) == 0 {
		return nil, false
	}
	if v, ok := params[name]; ok && v != nil {
		return v, true
	}
	alt := "_" + name
	if strings.HasPrefix(name, "_") {
		alt = strings.TrimPrefix(name, "_")
	}
	if v, ok := params[alt]; ok && v != nil {
		return v, true
	}
	return nil, false
}

func hasData(data string) bool {
	data = strings.TrimSpace(data)
	return data != "" && data != "0x"
}

// BigInt returns a required numeric argument.
func (a Args) BigInt(name string) (*big.Int, error) {
	v, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("missing field %s", name)
	}
	out, err := asBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", name, err)
	}
	return out, nil
}

// BigIntOr returns a numeric argument or def when it is absent.
func (a Args) BigIntOr(name string, def *big.Int) (*big.Int, error) {
	if _, ok := a[name]; !ok {
		return def, nil
	}
	return a.BigInt(name)
}

// Address returns a required address argument.
func (a Args) Address(name string) (common.Address, error) {
	v, ok := a[name]
	if !ok {
		return common.Address{}, fmt.Errorf("missing field %s", name)
	}
	out, err := asAddress(v)
	if err != nil {
		return common.Address{}, fmt.Errorf("field %s: %w", name, err)
	}
	return out, nil
}

// AddressesOr returns an address list argument or an empty list when absent.
func (a Args) AddressesOr(name string) ([]common.Address, error) {
	v, ok := a[name]
	if !ok {
		return []common.Address{}, nil
	}
	out, err := asAddresses(v)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", name, err)
	}
	return out, nil
}

// RoundID returns the roundId argument as uint64.
func (a Args) RoundID() (uint64, error) {
	v, err := a.BigInt("roundId")
	if err != nil {
		return 0, err
	}
	return roundIDFromBig(v)
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
