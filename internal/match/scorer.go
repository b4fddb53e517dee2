package match

import "github.com/epgsync/epg-sync/internal/textnorm"

// Scorer rates how alike two channel names are, in [0,1]. The matcher only
// depends on this contract; swap the implementation without touching the
// selection or tie-break policy.
type Scorer interface {
	Score(a, b string) float64
}

// TokenSetScorer scores by Jaccard overlap of normalized token sets:
// |A∩B| / |A∪B|. "Sky Sports F1 HD" vs "Sky Sports F1" scores 1.0 because
// normalization already stripped the quality token.
type TokenSetScorer struct{}

func (TokenSetScorer) Score(a, b string) float64 {
	ta := textnorm.Tokens(a)
	tb := textnorm.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
