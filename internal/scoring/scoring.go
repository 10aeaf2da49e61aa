// Package scoring holds the pure point and ranking rules of the live game.
package scoring

import (
	"sort"

	"live-quiz-service/internal/domain"
)

const (
	MaxPoints      = 1000
	MinPoints      = 100
	DecayPerSecond = 10
)

// Award maps a submission to points: 0 when wrong, otherwise 1000 minus 10 per
// elapsed second with a floor of 100. The time limit does not move the floor.
func Award(timeLimitSeconds, elapsedSeconds int, correct bool) int {
	if !correct {
		return 0
	}
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	points := MaxPoints - elapsedSeconds*DecayPerSecond
	if points < MinPoints {
		return MinPoints
	}
	return points
}

// Leaderboard projects players (in join order) into entries ordered by score.
func Leaderboard(players []domain.Player) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			ID:        p.ID,
			Nickname:  p.Nickname,
			Score:     p.Score,
			AvatarURL: p.AvatarURL,
		})
	}
	return SortEntries(entries)
}

// SortEntries returns a copy ordered by score descending. Ties keep their input
// order, so sorting an already sorted board changes nothing.
func SortEntries(entries []domain.LeaderboardEntry) []domain.LeaderboardEntry {
	out := append([]domain.LeaderboardEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
