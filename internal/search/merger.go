package search

import (
	"math"
	"sort"
)

// minNormalizedScore is the floor of the rank normalization. The last item
// of a long list still contributes a tenth of its source weight.
const minNormalizedScore = 0.1

// Merger fuses a vector list and a keyword list into one ranking per path.
// It holds no state beyond its configuration and never fails.
//
// Two strategies are available:
//
//	weighted: score(p) = Σ weight_s * max(0.1, 1 - rank_s/len_s*0.9)
//	rrf:      score(p) = Σ weight_s / (k + rank_s)
//
// rank_s is 0-indexed for weighted and 1-indexed for rrf. A path contributes
// only from the sources where it appears.
type Merger struct {
	config HybridConfig
	k      int
}

// NewMerger creates a merger with the given weights and k=60.
func NewMerger(config HybridConfig) *Merger {
	return &Merger{config: config, k: DefaultRRFConstant}
}

// NewMergerWithK creates a merger with a custom RRF constant.
// If k <= 0, defaults to 60.
func NewMergerWithK(config HybridConfig, k int) *Merger {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Merger{config: config, k: k}
}

// Config returns the merger weights.
func (m *Merger) Config() HybridConfig {
	return m.config
}

// Fuse merges with the requested strategy. Unknown strategies use weighted.
func (m *Merger) Fuse(strategy Strategy, vector, keyword []Result, opts Options) []Result {
	if strategy == StrategyRRF {
		return m.MergeWithRRF(vector, keyword, opts)
	}
	return m.Merge(vector, keyword, opts)
}

// Merge fuses the lists with rank-normalized weighted scores.
func (m *Merger) Merge(vector, keyword []Result, opts Options) []Result {
	f := newFusion(len(vector) + len(keyword))

	for i, r := range vector {
		norm := normalizeRank(i, len(vector))
		f.add(r, norm*m.config.VectorWeight, norm, sourceVector)
	}
	for i, r := range keyword {
		norm := normalizeRank(i, len(keyword))
		f.add(r, norm*m.config.TextWeight, norm, sourceKeyword)
	}

	return f.finish(opts)
}

// MergeWithRRF fuses the lists with weighted reciprocal rank scores.
func (m *Merger) MergeWithRRF(vector, keyword []Result, opts Options) []Result {
	f := newFusion(len(vector) + len(keyword))

	for i, r := range vector {
		rrf := 1 / float64(m.k+i+1)
		f.add(r, rrf*m.config.VectorWeight, rrf, sourceVector)
	}
	for i, r := range keyword {
		rrf := 1 / float64(m.k+i+1)
		f.add(r, rrf*m.config.TextWeight, rrf, sourceKeyword)
	}

	return f.finish(opts)
}

// RRF sums weight/(k+rank) per path across any number of ranked lists.
// Ranks are 1-indexed. If k <= 0, defaults to 60.
func RRF(lists []map[string]RankedItem, k int) map[string]float64 {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	scores := make(map[string]float64)
	for _, list := range lists {
		for path, item := range list {
			scores[path] += item.Weight / float64(k+item.Rank)
		}
	}
	return scores
}

// normalizeRank maps a 0-indexed rank to (0.1, 1]. The top item scores 1.
func normalizeRank(rank, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Max(minNormalizedScore, 1-float64(rank)/float64(total)*0.9)
}

type source int

const (
	sourceVector source = iota
	sourceKeyword
)

// fusion accumulates scores per path, remembering first-seen order so the
// final stable sort breaks ties by insertion.
type fusion struct {
	byPath  map[string]*Result
	ordered []*Result
}

func newFusion(capacity int) *fusion {
	return &fusion{
		byPath:  make(map[string]*Result, capacity),
		ordered: make([]*Result, 0, capacity),
	}
}

// add contributes score to r.Path. The first occurrence of a path supplies
// its line range and snippet. Each source contributes at most once per path;
// lower-ranked spans of an already seen path are ignored.
func (f *fusion) add(r Result, score, raw float64, src source) {
	existing, ok := f.byPath[r.Path]
	if !ok {
		existing = &Result{
			Path:      r.Path,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Snippet:   r.Snippet,
		}
		f.byPath[r.Path] = existing
		f.ordered = append(f.ordered, existing)
	}

	switch src {
	case sourceVector:
		if existing.VectorScore != nil {
			return
		}
		existing.VectorScore = ptr(raw)
	case sourceKeyword:
		if existing.TextScore != nil {
			return
		}
		existing.TextScore = ptr(raw)
	}
	existing.Score += score
}

// finish filters by MinScore, sorts by descending score and truncates.
func (f *fusion) finish(opts Options) []Result {
	if opts.MaxResults <= 0 {
		return []Result{}
	}

	kept := make([]Result, 0, len(f.ordered))
	for _, r := range f.ordered {
		if r.Score >= opts.MinScore {
			kept = append(kept, *r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	if len(kept) > opts.MaxResults {
		kept = kept[:opts.MaxResults]
	}
	return kept
}

func ptr(v float64) *float64 { return &v }
