// Package score computes a post's rank weight from its vote tally.
//
// The weight is a vote-momentum score: every change to the tally folds the
// previous weight (scaled by OldWeightMultiplier) into the new counts, so a
// recompute is O(1) and never replays vote history.
package score

import "github.com/sujalbistaa/rankfeed/internal/models"

// Tally is the part of a post the score depends on.
type Tally struct {
	Weight   int64
	Likes    int64
	Dislikes int64
}

// Initial is the weight of a freshly created post. It bypasses Recompute.
func Initial(cfg models.WeightConfig) int64 {
	return cfg.InitialWeight
}

// Recompute returns the new weight for the given totals.
func Recompute(cfg models.WeightConfig, weight, likes, dislikes int64) int64 {
	return cfg.OldWeightMultiplier*weight +
		cfg.LikesWeightMultiplier*likes -
		cfg.DislikesWeightMultiplier*dislikes
}

// Eligible reports whether a post with this weight may appear in ranked
// and paginated listings.
func Eligible(cfg models.WeightConfig, weight int64) bool {
	return weight >= cfg.WeightThreshold
}

// Transition applies the single-active-vote rule. Repeating the active
// direction retracts it, the opposite direction flips it, VoteNone retracts.
// The returned deltas are what the post counters must move by.
func Transition(prev, requested models.Direction) (next models.Direction, dLikes, dDislikes int64) {
	next = requested
	if requested == prev {
		next = models.VoteNone
	}
	switch prev {
	case models.VoteLike:
		dLikes--
	case models.VoteDislike:
		dDislikes--
	}
	switch next {
	case models.VoteLike:
		dLikes++
	case models.VoteDislike:
		dDislikes++
	}
	return next, dLikes, dDislikes
}

// Vote moves a tally from prev to the outcome of requested. Both counters
// move first and the weight is recomputed once from the new totals, so a
// flip is one recompute, not two.
func Vote(cfg models.WeightConfig, t Tally, prev, requested models.Direction) (Tally, models.Direction) {
	next, dl, dd := Transition(prev, requested)
	if dl == 0 && dd == 0 {
		return t, next
	}
	likes := t.Likes + dl
	dislikes := t.Dislikes + dd
	return Tally{
		Weight:   Recompute(cfg, t.Weight, likes, dislikes),
		Likes:    likes,
		Dislikes: dislikes,
	}, next
}
