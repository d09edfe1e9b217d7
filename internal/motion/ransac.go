package motion

import (
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

// Estimator defaults.
const (
	DefaultTrials    = 75
	DefaultStreams   = 3
	DefaultThreshold = 1.5 // pixels
	// MinPoints is the smallest set Estimate will fit.
	MinPoints = 3
)

// Estimator fits a Similarity with RANSAC, running several independently
// seeded sampling streams in parallel.
type Estimator struct {
	Trials    int     // hypotheses per stream
	Streams   int     // parallel sampling streams
	Threshold float64 // inlier transfer error in pixels
}

// NewEstimator returns an Estimator with the default parameters.
func NewEstimator() *Estimator {
	return &Estimator{Trials: DefaultTrials, Streams: DefaultStreams, Threshold: DefaultThreshold}
}

type streamResult struct {
	model   Similarity
	inliers int
}

// Estimate returns the similarity with the largest consensus. Stream i is
// seeded with i*timestamp. The best stream is the one with strictly more
// inliers, so ties go to the lowest stream index. Fewer than MinPoints pairs,
// or no inliers in any stream, yield Invalid.
func (e *Estimator) Estimate(c Correspondences, timestamp int64) Similarity {
	if c.Len() < MinPoints {
		return Invalid
	}
	streams := max(e.Streams, 1)
	results := make([]streamResult, streams)

	var g errgroup.Group
	for i := range streams {
		seed := uint64(i) * uint64(timestamp)
		g.Go(func() error {
			results[i] = e.runStream(c, seed)
			return nil
		})
	}
	_ = g.Wait()

	best := streamResult{model: Invalid}
	for _, r := range results {
		if r.inliers > best.inliers {
			best = r
		}
	}
	return best.model
}

func (e *Estimator) runStream(c Correspondences, seed uint64) streamResult {
	rng := rand.New(rand.NewPCG(seed, seed))
	n := c.Len()
	th2 := e.Threshold * e.Threshold

	var best []int
	inliers := make([]int, 0, n)
	pairSrc := make([]Point, 2)
	pairDst := make([]Point, 2)

	for range e.Trials {
		i := rng.IntN(n)
		j := rng.IntN(n)
		for j == i {
			j = rng.IntN(n)
		}
		pairSrc[0], pairSrc[1] = c.Src[i], c.Src[j]
		pairDst[0], pairDst[1] = c.Dst[i], c.Dst[j]
		m, ok := FitSimilarity(pairSrc, pairDst)
		if !ok {
			continue
		}

		inliers = inliers[:0]
		for k := 0; k < n; k++ {
			if m.residual2(c.Src[k], c.Dst[k]) < th2 {
				inliers = append(inliers, k)
			}
		}
		if len(inliers) > len(best) {
			best = append(best[:0], inliers...)
		}
	}
	if len(best) == 0 {
		return streamResult{model: Invalid}
	}

	src := make([]Point, len(best))
	dst := make([]Point, len(best))
	for k, idx := range best {
		src[k] = c.Src[idx]
		dst[k] = c.Dst[idx]
	}
	m, ok := FitSimilarity(src, dst)
	if !ok {
		return streamResult{model: Invalid}
	}
	m.Inliers = len(best)
	return streamResult{model: m, inliers: len(best)}
}
