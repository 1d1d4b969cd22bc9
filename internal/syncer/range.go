package syncer

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Size returns the number of blocks in the range.
func (r BlockRange) Size() uint64 {
	return r.To - r.From + 1
}

// RecentWindow returns the last lookback blocks ending at head.
func RecentWindow(head, lookback uint64) BlockRange {
	if lookback == 0 || lookback > head {
		return BlockRange{From: 0, To: head}
	}
	return BlockRange{From: head - lookback + 1, To: head}
}

// SplitRange splits a block range into chunks of at most maxRange blocks,
// the per-call ceiling of the RPC provider.
func SplitRange(from, to, maxRange uint64) ([]BlockRange, error) {
	if maxRange == 0 {
		return nil, fmt.Errorf("max block range must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/maxRange+1)
	for start := from; ; {
		end := to
		if to-start >= maxRange {
			end = start + maxRange - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}
