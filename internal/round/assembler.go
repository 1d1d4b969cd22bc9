package round

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"roundkeeper/internal/model"
)

const (
	defaultRetentionRounds = 50
	defaultPendingCapacity = 64
)

// State is the settlement progress of one round.
type State int

const (
	StateUnseen State = iota
	StateEnded
	StateWinnerSettled
	StateFullySettled
)

func (s State) String() string {
	switch s {
	case StateEnded:
		return "ended"
	case StateWinnerSettled:
		return "winner-settled"
	case StateFullySettled:
		return "fully-settled"
	default:
		return "unseen"
	}
}

// Outcome is the effect of applying one event.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
	Buffered
	Rejected
	Stale
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Buffered:
		return "buffered"
	case Rejected:
		return "rejected"
	case Stale:
		return "stale"
	case Ignored:
		return "ignored"
	default:
		return "unchanged"
	}
}

// Config configures an Assembler.
type Config struct {
	// RetentionRounds bounds how far below the highest seen round new
	// rounds and fragments are still accepted.
	RetentionRounds uint64
	// PendingCapacity bounds the number of rounds with buffered fragments.
	PendingCapacity int
}

// fragment holds settlement data that arrived before its RoundEnded.
type fragment struct {
	winnerReward  *model.WinnerRewardData
	randomWinners *model.RandomWinnersData
	vrfRequested  bool
	vrfRequestID  *string
}

// Assembler merges settlement fragments into one CompletedRound per round id.
// It is not safe for concurrent use.
type Assembler struct {
	cfg          Config
	logger       *zap.Logger
	rounds       map[uint64]*model.CompletedRound
	pending      map[uint64]*fragment
	pendingOrder []uint64
	highest      uint64
}

// NewAssembler creates an empty assembler.
func NewAssembler(cfg Config, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetentionRounds == 0 {
		cfg.RetentionRounds = defaultRetentionRounds
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = defaultPendingCapacity
	}
	return &Assembler{
		cfg:     cfg,
		logger:  logger,
		rounds:  make(map[uint64]*model.CompletedRound),
		pending: make(map[uint64]*fragment),
	}
}

// Apply folds ev into the round it belongs to and returns the outcome with a
// copy of the round when one exists.
func (a *Assembler) Apply(ev model.DomainEvent) (Outcome, model.CompletedRound, error) {
	switch ev.Kind {
	case model.KindRoundEnded:
		return a.applyRoundEnded(ev)
	case model.KindWinnerRewardDistributed, model.KindRandomnessRequested, model.KindRandomWinnersDistributed:
		return a.applyFragment(ev)
	default:
		return Ignored, model.CompletedRound{}, nil
	}
}

func (a *Assembler) applyRoundEnded(ev model.DomainEvent) (Outcome, model.CompletedRound, error) {
	data, ok := ev.RoundEnded()
	if !ok {
		return Rejected, model.CompletedRound{}, fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
	}
	winner := data.Winner.Hex()
	total := model.AmountString(data.TotalAmount)
	if !model.IsValidWinner(winner) || !model.IsPositiveAmount(total) {
		return Rejected, model.CompletedRound{}, fmt.Errorf("%w: round %d winner %s total %s", model.ErrInvalidRound, ev.RoundID, winner, total)
	}

	if existing, ok := a.rounds[ev.RoundID]; ok {
		outcome := Unchanged
		if !strings.EqualFold(existing.Winner, winner) || existing.TotalAmount != total {
			a.logger.Warn("conflicting round ended",
				zap.Uint64("round_id", ev.RoundID),
				zap.String("winner", existing.Winner),
				zap.String("incoming_winner", winner),
				zap.String("total", existing.TotalAmount),
				zap.String("incoming_total", total),
				zap.String("origin", string(ev.Origin)),
			)
		}
		if existing.Timestamp == 0 && ev.Timestamp != 0 {
			existing.Timestamp = ev.Timestamp
			outcome = Updated
		}
		return outcome, existing.Clone(), nil
	}

	if a.isStale(ev.RoundID) {
		a.logger.Debug("stale round ended ignored", zap.Uint64("round_id", ev.RoundID), zap.Uint64("highest", a.highest))
		return Stale, model.CompletedRound{}, nil
	}

	rec := &model.CompletedRound{
		RoundID:       ev.RoundID,
		Winner:        winner,
		TotalAmount:   total,
		Timestamp:     ev.Timestamp,
		RandomWinners: []string{},
		Source:        ev.Origin,
	}
	if frag, ok := a.pending[ev.RoundID]; ok {
		a.mergeFragment(rec, frag)
		a.dropPending(ev.RoundID)
	}
	a.rounds[ev.RoundID] = rec
	a.advance(ev.RoundID)
	return Created, rec.Clone(), nil
}

func (a *Assembler) applyFragment(ev model.DomainEvent) (Outcome, model.CompletedRound, error) {
	rec, ok := a.rounds[ev.RoundID]
	if !ok {
		if a.isStale(ev.RoundID) {
			return Stale, model.CompletedRound{}, nil
		}
		if err := a.buffer(ev); err != nil {
			return Rejected, model.CompletedRound{}, err
		}
		a.advance(ev.RoundID)
		return Buffered, model.CompletedRound{}, nil
	}

	var changed bool
	switch ev.Kind {
	case model.KindWinnerRewardDistributed:
		data, ok := ev.WinnerReward()
		if !ok {
			return Rejected, model.CompletedRound{}, fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
		}
		changed = a.setWinnerReward(rec, data)
	case model.KindRandomnessRequested:
		data, ok := ev.RandomnessRequested()
		if !ok {
			return Rejected, model.CompletedRound{}, fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
		}
		changed = setRandomnessRequested(rec, vrfID(data))
	case model.KindRandomWinnersDistributed:
		data, ok := ev.RandomWinners()
		if !ok {
			return Rejected, model.CompletedRound{}, fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
		}
		changed = a.setRandomWinners(rec, data)
	}
	if !changed {
		return Unchanged, rec.Clone(), nil
	}
	return Updated, rec.Clone(), nil
}

func (a *Assembler) setWinnerReward(rec *model.CompletedRound, data model.WinnerRewardData) bool {
	winnerAmount := model.AmountString(data.WinnerAmount)
	participantAmount := model.AmountString(data.ParticipantAmount)
	treasuryAmount := model.AmountString(data.TreasuryAmount)

	if rec.HasWinnerReward() {
		if *rec.WinnerAmount != winnerAmount || *rec.ParticipantAmount != participantAmount {
			a.logger.Warn("conflicting winner reward",
				zap.Uint64("round_id", rec.RoundID),
				zap.String("winner_amount", *rec.WinnerAmount),
				zap.String("incoming_winner_amount", winnerAmount),
			)
		}
		return false
	}
	if !strings.EqualFold(rec.Winner, data.Winner.Hex()) {
		a.logger.Warn("winner reward recipient differs from round winner",
			zap.Uint64("round_id", rec.RoundID),
			zap.String("winner", rec.Winner),
			zap.String("recipient", data.Winner.Hex()),
		)
	}
	rec.WinnerAmount = &winnerAmount
	rec.ParticipantAmount = &participantAmount
	rec.TreasuryAmount = &treasuryAmount
	return true
}

func setRandomnessRequested(rec *model.CompletedRound, requestID *string) bool {
	changed := false
	if rec.VRFRequestID == nil && requestID != nil {
		rec.VRFRequestID = requestID
		changed = true
	}
	if !rec.HasRandomWinners() && !rec.IsVRFPending {
		rec.IsVRFPending = true
		changed = true
	}
	return changed
}

func (a *Assembler) setRandomWinners(rec *model.CompletedRound, data model.RandomWinnersData) bool {
	perWinner := model.AmountString(data.RewardPerWinner)
	winners := make([]string, 0, len(data.RandomWinners))
	for _, w := range data.RandomWinners {
		winners = append(winners, w.Hex())
	}

	if rec.HasRandomWinners() {
		if *rec.RewardPerWinner != perWinner || len(rec.RandomWinners) != len(winners) {
			a.logger.Warn("conflicting random winners",
				zap.Uint64("round_id", rec.RoundID),
				zap.String("reward_per_winner", *rec.RewardPerWinner),
				zap.String("incoming_reward_per_winner", perWinner),
			)
		}
		return false
	}
	rec.RandomWinners = winners
	rec.RewardPerWinner = &perWinner
	rec.IsVRFPending = false
	if rec.TreasuryAmount == nil && data.TreasuryAmount != nil {
		rec.TreasuryAmount = model.AmountPtr(data.TreasuryAmount)
	}
	return true
}

func (a *Assembler) mergeFragment(rec *model.CompletedRound, frag *fragment) {
	if frag.winnerReward != nil {
		a.setWinnerReward(rec, *frag.winnerReward)
	}
	if frag.vrfRequested {
		setRandomnessRequested(rec, frag.vrfRequestID)
	}
	if frag.randomWinners != nil {
		a.setRandomWinners(rec, *frag.randomWinners)
	}
}

func (a *Assembler) buffer(ev model.DomainEvent) error {
	frag, ok := a.pending[ev.RoundID]
	if !ok {
		if len(a.pending) >= a.cfg.PendingCapacity && len(a.pendingOrder) > 0 {
			evicted := a.pendingOrder[0]
			a.dropPending(evicted)
			a.logger.Debug("pending fragments evicted", zap.Uint64("round_id", evicted))
		}
		frag = &fragment{}
		a.pending[ev.RoundID] = frag
		a.pendingOrder = append(a.pendingOrder, ev.RoundID)
	}

	switch ev.Kind {
	case model.KindWinnerRewardDistributed:
		data, ok := ev.WinnerReward()
		if !ok {
			return fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
		}
		if frag.winnerReward == nil {
			frag.winnerReward = &data
		}
	case model.KindRandomnessRequested:
		data, ok := ev.RandomnessRequested()
		if !ok {
			return fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
		}
		frag.vrfRequested = true
		if frag.vrfRequestID == nil {
			frag.vrfRequestID = vrfID(data)
		}
	case model.KindRandomWinnersDistributed:
		data, ok := ev.RandomWinners()
		if !ok {
			return fmt.Errorf("round %d: unexpected payload %T", ev.RoundID, ev.Payload)
		}
		if frag.randomWinners == nil {
			frag.randomWinners = &data
		}
	}
	return nil
}

func (a *Assembler) dropPending(roundID uint64) {
	delete(a.pending, roundID)
	for i, id := range a.pendingOrder {
		if id == roundID {
			a.pendingOrder = append(a.pendingOrder[:i], a.pendingOrder[i+1:]...)
			break
		}
	}
}

func (a *Assembler) horizon() uint64 {
	if a.highest <= a.cfg.RetentionRounds {
		return 0
	}
	return a.highest - a.cfg.RetentionRounds
}

func (a *Assembler) isStale(roundID uint64) bool {
	h := a.horizon()
	return h > 0 && roundID <= h
}

// advance raises the highest seen round and prunes fragments that fell
// behind the retention window.
func (a *Assembler) advance(roundID uint64) {
	if roundID <= a.highest {
		return
	}
	a.highest = roundID
	horizon := a.horizon()
	if horizon == 0 {
		return
	}
	for _, id := range append([]uint64{}, a.pendingOrder...) {
		if id <= horizon {
			a.dropPending(id)
		}
	}
}

// Restore seeds the assembler with previously completed rounds. Rounds
// already known are merged field by field.
func (a *Assembler) Restore(rounds []model.CompletedRound) {
	for _, r := range rounds {
		if !r.Valid() {
			continue
		}
		if existing, ok := a.rounds[r.RoundID]; ok {
			existing.MergeFrom(r)
			continue
		}
		rec := r.Clone()
		if frag, ok := a.pending[r.RoundID]; ok {
			a.mergeFragment(&rec, frag)
			a.dropPending(r.RoundID)
		}
		a.rounds[r.RoundID] = &rec
		a.advance(r.RoundID)
	}
}

// Forget drops a round so it can no longer be updated.
func (a *Assembler) Forget(roundID uint64) {
	delete(a.rounds, roundID)
}

// Reset clears every round and fragment.
func (a *Assembler) Reset() {
	a.rounds = make(map[uint64]*model.CompletedRound)
	a.pending = make(map[uint64]*fragment)
	a.pendingOrder = nil
	a.highest = 0
}

// Round returns a copy of the round with roundID.
func (a *Assembler) Round(roundID uint64) (model.CompletedRound, bool) {
	rec, ok := a.rounds[roundID]
	if !ok {
		return model.CompletedRound{}, false
	}
	return rec.Clone(), true
}

// State returns the settlement state of roundID.
func (a *Assembler) State(roundID uint64) State {
	rec, ok := a.rounds[roundID]
	if !ok {
		return StateUnseen
	}
	switch {
	case rec.HasRandomWinners():
		return StateFullySettled
	case rec.HasWinnerReward():
		return StateWinnerSettled
	default:
		return StateEnded
	}
}

// IsVRFPending reports the randomness flag, including for rounds that only
// have buffered fragments.
func (a *Assembler) IsVRFPending(roundID uint64) bool {
	if rec, ok := a.rounds[roundID]; ok {
		return rec.IsVRFPending
	}
	frag, ok := a.pending[roundID]
	return ok && frag.vrfRequested && frag.randomWinners == nil
}

// RoundIDs returns the ids of all assembled rounds, descending.
func (a *Assembler) RoundIDs() []uint64 {
	ids := make([]uint64, 0, len(a.rounds))
	for id := range a.rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}

// PendingCount returns the number of rounds with buffered fragments.
func (a *Assembler) PendingCount() int {
	return len(a.pending)
}

// Highest returns the highest round id seen.
func (a *Assembler) Highest() uint64 {
	return a.highest
}

func vrfID(data model.RandomnessRequestedData) *string {
	if data.VRFRequestID == nil {
		return nil
	}
	return model.AmountPtr(data.VRFRequestID)
}
