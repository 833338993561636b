package game

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Letters is the draw alphabet. The hard letters (Q, V, W, X, Y, Z) are
// excluded so every round has a fair shot at all five categories.
const Letters = "ABCDEFGHIJKLMNOPRSTU"

// Categories is the static table rounds sample from.
var Categories = []string{
	"Boy's Name", "Girl's Name", "Animal", "Country", "Food",
	"Movie", "TV Show", "Color", "City", "Fruit/Vegetable",
	"Job", "Historical Figure", "Brand", "Sport", "Song Title",
	"Band/Musician", "School Subject", "Hobby", "Drink", "Car Brand",
}

const categoriesPerRound = 5

// drawLetter picks uniformly from the letters not yet used in this room.
// When the pool is exhausted it resets and the full alphabet becomes
// eligible again before drawing.
func drawLetter(used []string) (letter string, newUsed []string) {
	available := make([]string, 0, len(Letters))
	for _, r := range Letters {
		l := string(r)
		if !slices.Contains(used, l) {
			available = append(available, l)
		}
	}
	if len(available) == 0 {
		used = used[:0]
		for _, r := range Letters {
			available = append(available, string(r))
		}
	}
	letter = available[rand.IntN(len(available))]
	return letter, append(used, letter)
}

// drawCategories samples n categories without replacement.
func drawCategories(n int) []string {
	picked := append([]string(nil), Categories...)
	rand.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	return picked[:n]
}

// finalizeRound reconciles scoring votes into per-category scores and folds
// them into cumulative player scores, then archives the round. Runs exactly
// once per round; caller holds the room lock and guards against re-entry via
// the state machine.
//
// For each (target, category) the score is the mean of votes from voters who
// submitted a payload, self-votes excluded. No qualifying votes means 0;
// non-voters shrink the denominator rather than dragging the score down.
// Without precise scoring the mean is rounded half-to-even.
func finalizeRound(room *Room) {
	round := room.CurrentRound

	for pid := range room.Players {
		round.Scores[pid] = make(map[string]float64, len(round.Categories))
	}

	for _, cat := range round.Categories {
		for targetID := range room.Players {
			total := 0.0
			count := 0

			for voterID, byCat := range round.ScoringVotes {
				if voterID == targetID {
					continue
				}
				vote, ok := byCat[cat][targetID]
				if !ok {
					continue
				}
				total += float64(vote)
				count++
			}

			score := 0.0
			if count > 0 {
				score = total / float64(count)
				if !room.PreciseScoring {
					score = math.RoundToEven(score)
				}
			}
			round.Scores[targetID][cat] = score
		}
	}

	for pid, p := range room.Players {
		for _, score := range round.Scores[pid] {
			p.Score += score
		}
	}

	room.History = append(room.History, round)
}
