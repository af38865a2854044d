package service

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// worstSemanticRank sorts restaurants without a similarity signal after
// every restaurant that has one.
const worstSemanticRank = 1 << 20

// TierList is a list of price tiers. Planner output is not reliably typed,
// so it accepts both JSON numbers and numeric strings.
type TierList []int

func (t *TierList) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		// A single bare value is tolerated as a one-element list.
		var one any
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return err
		}
		raw = []any{one}
	}
	out := make(TierList, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case string:
			trimmed := strings.TrimSpace(n)
			if trimmed != "" && strings.Count(trimmed, "$") == len(trimmed) {
				out = append(out, len(trimmed))
				continue
			}
			parsed, err := strconv.Atoi(trimmed)
			if err != nil {
				continue
			}
			out = append(out, parsed)
		}
	}
	*t = out
	return nil
}

// SearchFilters are the scalar constraints applied at the data layer.
// ExcludeAllergens is enforced as a hard AND-NOT predicate; by the time a
// filter set reaches the ranker the orchestrator has already unioned in the
// user's anaphylactic allergens.
type SearchFilters struct {
	Cuisines         []string `json:"cuisine_types,omitempty"`
	Dietary          []string `json:"dietary,omitempty"`
	PriceTiers       TierList `json:"price_tiers,omitempty"`
	Area             string   `json:"area,omitempty"`
	MinRating        float64  `json:"min_rating,omitempty"`
	ExcludeAllergens []string `json:"exclude_allergens,omitempty"`
}

// Normalized returns a canonical copy: lowercased, trimmed, deduplicated
// and sorted sets, allergen synonyms resolved. Two filter sets that differ
// only in casing or ordering normalize to the same value, which keeps cache
// keys stable.
func (f SearchFilters) Normalized() SearchFilters {
	out := SearchFilters{
		Cuisines:         normalizeSet(f.Cuisines),
		Dietary:          normalizeSet(f.Dietary),
		Area:             strings.ToLower(strings.TrimSpace(f.Area)),
		MinRating:        f.MinRating,
		ExcludeAllergens: allergen.NormalizeAll(f.ExcludeAllergens),
	}
	sort.Strings(out.ExcludeAllergens)
	if len(f.PriceTiers) > 0 {
		out.PriceTiers = append(TierList(nil), f.PriceTiers...)
		sort.Ints(out.PriceTiers)
	}
	return out
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HybridSearchService merges scalar filtering with vector-similarity
// ordering. Scalar filters decide membership, similarity decides order,
// rating breaks ties.
type HybridSearchService struct {
	store    RestaurantStore
	index    VectorIndex
	embedder Embedder
	logger   zerolog.Logger
}

// NewHybridSearchService creates a new HybridSearchService instance.
func NewHybridSearchService(store RestaurantStore, index VectorIndex, embedder Embedder, logger zerolog.Logger) *HybridSearchService {
	return &HybridSearchService{
		store:    store,
		index:    index,
		embedder: embedder,
		logger:   logger.With().Str("service", "hybrid_search").Logger(),
	}
}

// Search returns up to limit candidates satisfying every scalar filter,
// ordered by (semanticRank, rating desc). It never fails for "no results";
// vector-side failures degrade to rating-only ordering.
func (s *HybridSearchService) Search(ctx context.Context, filters SearchFilters, semanticQuery string, limit int) ([]types.RestaurantResult, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	semanticRank := s.similarityRanks(ctx, semanticQuery)

	candidates, err := s.store.FindByFilters(ctx, filters)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []types.RestaurantResult{}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := worstSemanticRank, worstSemanticRank
		if r, ok := semanticRank[candidates[i].ID]; ok {
			ri = r
		}
		if r, ok := semanticRank[candidates[j].ID]; ok {
			rj = r
		}
		if ri != rj {
			return ri < rj
		}
		return ratingOrZero(candidates[i].Rating) > ratingOrZero(candidates[j].Rating)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// similarityRanks maps restaurant IDs to their ordinal position in the
// vector-similarity ordering. An empty query or a failing vector path
// yields an empty map, which downgrades ordering to rating only.
func (s *HybridSearchService) similarityRanks(ctx context.Context, semanticQuery string) map[int64]int {
	ranks := make(map[int64]int)
	query := strings.TrimSpace(semanticQuery)
	if query == "" {
		return ranks
	}

	// An empty index cannot rank anything; skip the embedding call entirely.
	count, err := s.index.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector index count failed, falling back to rating order")
		return ranks
	}
	if count == 0 {
		s.logger.Debug().Msg("vector index is empty, falling back to rating order")
		return ranks
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("query embedding failed, falling back to rating order")
		return ranks
	}

	matches, err := s.index.SimilarReviews(ctx, embedding, 100)
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector index unavailable, falling back to rating order")
		return ranks
	}

	// One rank position per restaurant, first occurrence wins.
	for _, m := range matches {
		if _, ok := ranks[m.RestaurantID]; !ok {
			ranks[m.RestaurantID] = len(ranks)
		}
	}
	return ranks
}

func ratingOrZero(r *float64) float64 {
	if r == nil {
		return 0
	}
	return *r
}
