package inference

import (
	"math"
	"math/rand"
	"sort"
)

// Sample applies the fixed sampler chain order spec §4.4.1 mandates —
// temperature, then repeat penalty (if ≠ 1.0), then top_p, then min_p (if >
// 0), then distributional-or-greedy selection — over a candidate set of
// (token index, logit) pairs and returns the chosen index.
func Sample(logits []float32, recentCounts map[int]int, p SamplerParams, rng *rand.Rand) int {
	scores := make([]float32, len(logits))
	copy(scores, logits)

	if p.Temperature > 0 {
		for i := range scores {
			scores[i] /= p.Temperature
		}
	}

	if p.RepeatPenalty != 0 && p.RepeatPenalty != 1.0 {
		for i := range scores {
			if n := recentCounts[i]; n > 0 {
				if scores[i] > 0 {
					scores[i] /= p.RepeatPenalty
				} else {
					scores[i] *= p.RepeatPenalty
				}
			}
		}
	}

	probs := softmax(scores)
	order := argsortDesc(probs)

	if p.TopP > 0 && p.TopP < 1.0 {
		order = applyTopP(order, probs, p.TopP)
	}
	if p.MinP > 0 {
		order = applyMinP(order, probs, p.MinP)
	}
	if len(order) == 0 {
		order = argsortDesc(probs)
	}

	if p.Temperature <= 0 {
		return order[0] // greedy
	}
	return distributionalPick(order, probs, rng)
}

func softmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return nil
	}
	max := scores[0]
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make([]float32, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s - max))
		out[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func argsortDesc(probs []float32) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	return idx
}

func applyTopP(order []int, probs []float32, topP float32) []int {
	var cum float32
	var out []int
	for _, i := range order {
		out = append(out, i)
		cum += probs[i]
		if cum >= topP {
			break
		}
	}
	return out
}

func applyMinP(order []int, probs []float32, minP float32) []int {
	if len(order) == 0 {
		return order
	}
	top := probs[order[0]]
	threshold := top * minP
	var out []int
	for _, i := range order {
		if probs[i] >= threshold {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		out = order[:1]
	}
	return out
}

func distributionalPick(order []int, probs []float32, rng *rand.Rand) int {
	var total float32
	for _, i := range order {
		total += probs[i]
	}
	if total <= 0 {
		return order[0]
	}
	target := rng.Float32() * total
	var cum float32
	for _, i := range order {
		cum += probs[i]
		if cum >= target {
			return i
		}
	}
	return order[len(order)-1]
}
