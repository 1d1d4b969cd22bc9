package game

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"roundkeeper/internal/model"
)

// Caller performs eth_call.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FetchCurrentRoundInfo reads getCurrentRoundInfo from the game contract.
func FetchCurrentRoundInfo(ctx context.Context, caller Caller, lsw common.Address) (model.RoundInfo, error) {
	if caller == nil {
		return model.RoundInfo{}, fmt.Errorf("chain client is nil")
	}
	lswABI, err := LSWABI()
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("parse lsw abi: %w", err)
	}

	const method = "getCurrentRoundInfo"
	data, err := lswABI.Pack(method)
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &lsw, Data: data}, nil)
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := lswABI.Unpack(method, resp)
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 7 {
		return model.RoundInfo{}, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}

	roundID, err := asBigInt(values[0])
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("currentRoundId: %w", err)
	}
	id, err := roundIDFromBig(roundID)
	if err != nil {
		return model.RoundInfo{}, err
	}
	lastStaker, err := asAddress(values[1])
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("lastStaker: %w", err)
	}
	total, err := asBigInt(values[2])
	if err != nil {
		return model.RoundInfo{}, fmt.Errorf("totalAmount: %w", err)
	}
	isActive, ok := values[4].(bool)
	if !ok {
		return model.RoundInfo{}, fmt.Errorf("isActive: unexpected type %T", values[4])
	}

	info := model.RoundInfo{
		RoundID:     id,
		LastStaker:  lastStaker.Hex(),
		TotalAmount: total,
		IsActive:    isActive,
	}
	for _, field := range []struct {
		name  string
		value interface{}
		dst   *uint64
	}{
		{"deadline", values[3], &info.Deadline},
		{"stakersCount", values[5], &info.StakersCount},
		{"stakingAvailableAt", values[6], &info.StakingAvailableAt},
	} {
		v, err := asBigInt(field.value)
		if err != nil {
			return model.RoundInfo{}, fmt.Errorf("%s: %w", field.name, err)
		}
		if !v.IsUint64() {
			return model.RoundInfo{}, fmt.Errorf("%s out of range: %s", field.name, v.String())
		}
		*field.dst = v.Uint64()
	}
	return info, nil
}
