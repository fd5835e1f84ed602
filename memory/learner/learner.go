// Package learner implements the Memory Learner (spec C6): the Hebbian
// association graph between co-referenced memory items, its decay
// schedule, and feedback-driven importance adjustment.
package learner

import (
	"context"
	"time"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

const (
	defaultEta             = 0.1
	defaultDecayLambda     = 30 * 24 * time.Hour
	defaultMinNeighborStrength = 0.15
)

// Learner reinforces co-reference, decays stale associations, and applies
// feedback to memory-item importance.
type Learner struct {
	store store.Store
	eta   float64
	lambda time.Duration
}

func New(s store.Store) *Learner {
	return &Learner{store: s, eta: defaultEta, lambda: defaultDecayLambda}
}

// Reinforce strengthens every pairwise association among itemIDs, the set
// of memory items that search() surfaced and the turn then actually
// referenced.
func (l *Learner) Reinforce(ctx context.Context, itemIDs []string) error {
	for i := 0; i < len(itemIDs); i++ {
		for j := i + 1; j < len(itemIDs); j++ {
			if err := l.reinforcePair(ctx, itemIDs[i], itemIDs[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Learner) reinforcePair(ctx context.Context, aID, bID string) error {
	existing, err := l.store.Get(ctx, aID, bID)
	strength := 0.0
	if err == nil && existing != nil {
		strength = existing.Strength
	}
	next := strength + l.eta*(1-strength)
	return l.store.Upsert(ctx, model.Association{
		AID:            aID,
		BID:            bID,
		Strength:       next,
		LastReinforced: time.Now().UTC(),
	})
}

// Decay applies the exponential decay schedule to every association whose
// last reinforcement is older than the decay interval, then sweeps
// associations that have decayed below the minimum neighbor threshold.
func (l *Learner) Decay(ctx context.Context) (decayed, swept int, err error) {
	decayed, err = l.store.Decay(ctx, time.Now().UTC().Add(-l.lambda), l.lambda)
	if err != nil {
		return decayed, 0, err
	}
	swept, err = l.store.DeleteBelow(ctx, defaultMinNeighborStrength)
	return decayed, swept, err
}

// GetAssociated returns the top-k neighbors of itemID with strength at or
// above the default minimum threshold.
func (l *Learner) GetAssociated(ctx context.Context, itemID string, k int) ([]*model.Association, error) {
	neighbors, err := l.store.Neighbors(ctx, itemID, defaultMinNeighborStrength)
	if err != nil {
		return nil, err
	}
	if k > 0 && k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// importanceDelta and sideEffect implement the feedback table in spec §4.6.
var importanceDelta = map[model.FeedbackKind]float64{
	model.FeedbackHelpful:    0.5,
	model.FeedbackNotHelpful: -0.2,
	model.FeedbackIncorrect:  -1.0,
	model.FeedbackOutdated:   -0.2,
	model.FeedbackRedundant:  -0.2,
}

// ApplyFeedback adjusts itemID's importance per the feedback kind and sets
// the corresponding metadata side effect (spec §4.6). INCORRECT sets
// metadata.flagged; OUTDATED sets metadata.outdated; REDUNDANT leaves the
// item as a consolidation candidate for the hierarchical engine's merge
// pass rather than tagging metadata, since no persistent flag is specified
// for it.
func (l *Learner) ApplyFeedback(ctx context.Context, itemID string, kind model.FeedbackKind) error {
	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	delta, ok := importanceDelta[kind]
	if !ok {
		return nil
	}
	item.Importance = clamp0to10(item.Importance + delta)

	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	switch kind {
	case model.FeedbackIncorrect:
		item.Metadata["flagged"] = true
	case model.FeedbackOutdated:
		item.Metadata["outdated"] = true
	}

	return l.store.UpdateItem(ctx, *item)
}

func clamp0to10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
