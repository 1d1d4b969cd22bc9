package game

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil big.Int")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case string:
		return parseBigString(v)
	case json.Number:
		return parseBigString(v.String())
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("non-integer value %v", v)
		}
		out, _ := big.NewFloat(v).Int(nil)
		return out, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	default:
		return nil, fmt.Errorf("unexpected numeric type %T", value)
	}
}

func parseBigString(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty numeric value")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	out, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return out, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case string:
		if !common.IsHexAddress(v) {
			return common.Address{}, fmt.Errorf("invalid address %q", v)
		}
		return common.HexToAddress(v), nil
	default:
		return common.Address{}, fmt.Errorf("unexpected address type %T", value)
	}
}

func asAddresses(value interface{}) ([]common.Address, error) {
	switch v := value.(type) {
	case []common.Address:
		return append([]common.Address{}, v...), nil
	case []string:
		out := make([]common.Address, 0, len(v))
		for _, item := range v {
			addr, err := asAddress(item)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
		return out, nil
	case []interface{}:
		out := make([]common.Address, 0, len(v))
		for _, item := range v {
			addr, err := asAddress(item)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected address list type %T", value)
	}
}

func roundIDFromBig(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("round id out of range: %s", v.String())
	}
	return v.Uint64(), nil
}
