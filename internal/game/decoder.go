package game

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"roundkeeper/internal/model"
	"roundkeeper/internal/streams"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map registers extra topic0 hashes for a known event kind.
	Topic0Map map[string]string
	// StreamSchemaID is the topic0 given to entries read from the data stream.
	StreamSchemaID common.Hash
}

type decodeFunc func(args Args, ev *model.DomainEvent) error

// Signature is one entry of the signature table.
type Signature struct {
	Kind   model.EventKind
	Event  abi.Event
	decode decodeFunc
}

// Decoder turns raw logs into domain events.
type Decoder struct {
	signatures map[string]Signature
	byKind     map[model.EventKind]common.Hash
	lswTopics  []common.Hash
	rewTopics  []common.Hash
	schemaID   common.Hash
}

// NewDecoder builds the signature table from the contract ABIs.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	lsw, err := LSWABI()
	if err != nil {
		return nil, fmt.Errorf("parse lsw abi: %w", err)
	}
	rewarder, err := RewarderABI()
	if err != nil {
		return nil, fmt.Errorf("parse rewarder abi: %w", err)
	}

	d := &Decoder{
		signatures: make(map[string]Signature),
		byKind:     make(map[model.EventKind]common.Hash),
	}

	lswEvents := []Signature{
		{Kind: model.KindRoundStarted, Event: lsw.Events["RoundStarted"], decode: decodeRoundStarted},
		{Kind: model.KindStakeReceived, Event: lsw.Events["StakeReceived"], decode: decodeStakeReceived},
		{Kind: model.KindRoundEnded, Event: lsw.Events["RoundEnded"], decode: decodeRoundEnded},
		{Kind: model.KindWinnerRewardDistributed, Event: lsw.Events["RewardsDistributed"], decode: decodeWinnerReward},
	}
	rewarderEvents := []Signature{
		{Kind: model.KindRandomnessRequested, Event: rewarder.Events["RandomnessRequested"], decode: decodeRandomnessRequested},
		{Kind: model.KindRandomWinnersDistributed, Event: rewarder.Events["RewardsDistributed"], decode: decodeRandomWinners},
	}
	for _, sig := range lswEvents {
		d.register(sig.Event.ID, sig)
		d.lswTopics = append(d.lswTopics, sig.Event.ID)
	}
	for _, sig := range rewarderEvents {
		d.register(sig.Event.ID, sig)
		d.rewTopics = append(d.rewTopics, sig.Event.ID)
	}

	if cfg.StreamSchemaID != (common.Hash{}) {
		args, err := streams.RoundEndedArguments()
		if err != nil {
			return nil, fmt.Errorf("parse stream schema: %w", err)
		}
		d.schemaID = cfg.StreamSchemaID
		d.signatures[strings.ToLower(cfg.StreamSchemaID.Hex())] = Signature{
			Kind:   model.KindRoundEnded,
			Event:  abi.NewEvent("RoundEnded", "RoundEnded", false, args),
			decode: decodeStreamRoundEnded,
		}
	}

	for topic0, name := range cfg.Topic0Map {
		original := name
		kind := normalizeKind(name)
		if kind == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		sig, ok := d.signatures[strings.ToLower(d.byKind[kind].Hex())]
		if !ok {
			return nil, fmt.Errorf("no signature for event %s", kind)
		}
		d.signatures[strings.ToLower(topic0)] = sig
	}

	return d, nil
}

func (d *Decoder) register(topic common.Hash, sig Signature) {
	d.signatures[strings.ToLower(topic.Hex())] = sig
	d.byKind[sig.Kind] = topic
}

func normalizeKind(name string) model.EventKind {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, kind := range model.AllKinds {
		if strings.ToLower(string(kind)) == name {
			return kind
		}
	}
	return ""
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.signatures[strings.ToLower(topic0)]
	return ok
}

// Topic returns the topic0 of kind.
func (d *Decoder) Topic(kind model.EventKind) common.Hash {
	return d.byKind[kind]
}

// LSWTopics returns the topic0 hashes emitted by the game contract.
func (d *Decoder) LSWTopics() []common.Hash {
	return append([]common.Hash{}, d.lswTopics...)
}

// RewarderTopics returns the topic0 hashes emitted by the rewarder contract.
func (d *Decoder) RewarderTopics() []common.Hash {
	return append([]common.Hash{}, d.rewTopics...)
}

// Topics returns every contract topic0 for log filters, sorted.
func (d *Decoder) Topics() []common.Hash {
	out := append(d.LSWTopics(), d.rewTopics...)
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// SchemaID returns the stream schema id registered as a signature.
func (d *Decoder) SchemaID() common.Hash {
	return d.schemaID
}

// Decode converts a RawLogEntry into a DomainEvent. Unknown signatures return
// an error wrapping model.ErrUnknownEvent; malformed logs a *model.DecodeError.
func (d *Decoder) Decode(raw model.RawLogEntry) (model.DomainEvent, error) {
	topic0 := raw.Topic0()
	if topic0 == "" {
		return model.DomainEvent{}, model.NewDecodeError(raw, "", fmt.Errorf("missing topics"))
	}
	sig, ok := d.signatures[strings.ToLower(topic0)]
	if !ok {
		return model.DomainEvent{}, fmt.Errorf("%w: %s", model.ErrUnknownEvent, topic0)
	}

	args, err := Normalize(sig.Event, raw)
	if err != nil {
		return model.DomainEvent{}, model.NewDecodeError(raw, string(sig.Kind), err)
	}

	ev := model.DomainEvent{
		Kind:        sig.Kind,
		Origin:      raw.Origin,
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TxHash,
		LogIndex:    raw.LogIndex,
		Timestamp:   raw.Timestamp,
	}
	if ev.Timestamp == 0 && !raw.ReceivedAt.IsZero() {
		ev.Timestamp = uint64(raw.ReceivedAt.Unix())
	}
	if err := sig.decode(args, &ev); err != nil {
		return model.DomainEvent{}, model.NewDecodeError(raw, string(sig.Kind), err)
	}
	return ev, nil
}

func decodeRoundStarted(args Args, ev *model.DomainEvent) error {
	roundID, err := args.RoundID()
	if err != nil {
		return err
	}
	deadline, err := args.BigInt("deadline")
	if err != nil {
		return err
	}
	start, err := args.BigInt("_stakingStartTime")
	if err != nil {
		return err
	}
	ev.RoundID = roundID
	ev.Payload = model.RoundStartedData{Deadline: deadline, StakingStartTime: start}
	return nil
}

func decodeStakeReceived(args Args, ev *model.DomainEvent) error {
	roundID, err := args.RoundID()
	if err != nil {
		return err
	}
	staker, err := args.Address("staker")
	if err != nil {
		return err
	}
	amount, err := args.BigInt("amount")
	if err != nil {
		return err
	}
	newDeadline, err := args.BigInt("newDeadline")
	if err != nil {
		return err
	}
	ev.RoundID = roundID
	ev.Payload = model.StakeReceivedData{Staker: staker, Amount: amount, NewDeadline: newDeadline}
	return nil
}

func decodeRoundEnded(args Args, ev *model.DomainEvent) error {
	roundID, err := args.RoundID()
	if err != nil {
		return err
	}
	winner, err := args.Address("winner")
	if err != nil {
		return err
	}
	total, err := args.BigInt("totalAmount")
	if err != nil {
		return err
	}
	ev.RoundID = roundID
	ev.Payload = model.RoundEndedData{Winner: winner, TotalAmount: total}
	return nil
}

func decodeStreamRoundEnded(args Args, ev *model.DomainEvent) error {
	if err := decodeRoundEnded(args, ev); err != nil {
		return err
	}
	ts, err := args.BigInt("timestamp")
	if err != nil {
		return err
	}
	if !ts.IsUint64() {
		return fmt.Errorf("timestamp out of range: %s", ts.String())
	}
	ev.Timestamp = ts.Uint64()
	return nil
}

func decodeWinnerReward(args Args, ev *model.DomainEvent) error {
	roundID, err := args.RoundID()
	if err != nil {
		return err
	}
	winner, err := args.Address("winner")
	if err != nil {
		return err
	}
	winnerAmount, err := args.BigInt("winnerAmount")
	if err != nil {
		return err
	}
	participantAmount, err := args.BigInt("participantAmount")
	if err != nil {
		return err
	}
	treasuryAmount, err := args.BigInt("treasuryAmount")
	if err != nil {
		return err
	}
	ev.RoundID = roundID
	ev.Payload = model.WinnerRewardData{
		Winner:            winner,
		WinnerAmount:      winnerAmount,
		ParticipantAmount: participantAmount,
		TreasuryAmount:    treasuryAmount,
	}
	return nil
}

// decodeRandomWinners treats winners as optional: a draw with no eligible
// participants carries an empty list.
func decodeRandomWinners(args Args, ev *model.DomainEvent) error {
	roundID, err := args.RoundID()
	if err != nil {
		return err
	}
	winners, err := args.AddressesOr("winners")
	if err != nil {
		return err
	}
	perWinner, err := args.BigInt("rewardPerWinner")
	if err != nil {
		return err
	}
	treasuryAmount, err := args.BigInt("treasuryAmount")
	if err != nil {
		return err
	}
	ev.RoundID = roundID
	ev.Payload = model.RandomWinnersData{
		RandomWinners:   winners,
		RewardPerWinner: perWinner,
		TreasuryAmount:  treasuryAmount,
	}
	return nil
}

func decodeRandomnessRequested(args Args, ev *model.DomainEvent) error {
	roundID, err := args.RoundID()
	if err != nil {
		return err
	}
	requestID, err := args.BigInt("requestId")
	if err != nil {
		return err
	}
	paid, err := args.BigIntOr("paid", new(big.Int))
	if err != nil {
		return err
	}
	ev.RoundID = roundID
	ev.Payload = model.RandomnessRequestedData{VRFRequestID: requestID, Paid: paid}
	return nil
}
