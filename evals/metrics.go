// Package evals scores retrieval quality against ground-truth chunk IDs and
// the agent's filter-parameter extraction against expected filters.
package evals

import "math"

// RetrievalMetrics is the full metric set for one (retrieved, ground truth,
// k) triple. All values lie in [0, 1]; MRR is nil when nothing relevant was
// retrieved, which is distinct from zero.
type RetrievalMetrics struct {
	RecallAtK            float64  `json:"recall_at_k"`
	PrecisionAtK         float64  `json:"precision_at_k"`
	HitRate              float64  `json:"hit_rate"`
	MRR                  *float64 `json:"mrr"`
	NDCGAtK              float64  `json:"ndcg_at_k"`
	K                    int      `json:"k"`
	NumRetrieved         int      `json:"num_retrieved"`
	NumGroundTruth       int      `json:"num_ground_truth"`
	NumRelevantRetrieved int      `json:"num_relevant_retrieved"`
}

// RecallAtK is the fraction of ground-truth chunks present in the top k.
func RecallAtK(retrieved, groundTruth []int64, k int) float64 {
	if len(groundTruth) == 0 || len(retrieved) == 0 {
		return 0
	}
	return float64(relevantInTopK(retrieved, groundTruth, k)) / float64(len(groundTruth))
}

// PrecisionAtK is the fraction of the top k that is ground truth. The
// denominator is min(k, len(retrieved)) so short result lists are not
// penalised for positions that do not exist.
func PrecisionAtK(retrieved, groundTruth []int64, k int) float64 {
	if len(groundTruth) == 0 || len(retrieved) == 0 {
		return 0
	}
	denom := k
	if len(retrieved) < denom {
		denom = len(retrieved)
	}
	return float64(relevantInTopK(retrieved, groundTruth, k)) / float64(denom)
}

// HitRateAtK is 1 when any ground-truth chunk appears in the top k.
func HitRateAtK(retrieved, groundTruth []int64, k int) float64 {
	if relevantInTopK(retrieved, groundTruth, k) > 0 {
		return 1
	}
	return 0
}

// MRR returns the reciprocal rank of the first relevant item, 1-indexed over
// the whole retrieved list, or nil when no item is relevant.
func MRR(retrieved, groundTruth []int64) *float64 {
	gt := toSet(groundTruth)
	for i, id := range retrieved {
		if gt[id] {
			v := 1.0 / float64(i+1)
			return &v
		}
	}
	return nil
}

// NDCGAtK is the normalised discounted cumulative gain with binary
// relevance: DCG sums 1/log2(i+1) over relevant ranks i in [1, k]; IDCG
// assumes the first min(len(groundTruth), k) positions are all relevant.
func NDCGAtK(retrieved, groundTruth []int64, k int) float64 {
	if len(groundTruth) == 0 || len(retrieved) == 0 {
		return 0
	}
	gt := toSet(groundTruth)

	dcg := 0.0
	for i, id := range topK(retrieved, k) {
		if gt[id] {
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}

	ideal := len(groundTruth)
	if k < ideal {
		ideal = k
	}
	idcg := 0.0
	for i := 0; i < ideal; i++ {
		idcg += 1 / math.Log2(float64(i)+2)
	}

	if dcg == 0 || idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// ComputeRetrievalMetrics evaluates one retrieval at one k.
func ComputeRetrievalMetrics(retrieved, groundTruth []int64, k int) RetrievalMetrics {
	return RetrievalMetrics{
		RecallAtK:            RecallAtK(retrieved, groundTruth, k),
		PrecisionAtK:         PrecisionAtK(retrieved, groundTruth, k),
		HitRate:              HitRateAtK(retrieved, groundTruth, k),
		MRR:                  MRR(retrieved, groundTruth),
		NDCGAtK:              NDCGAtK(retrieved, groundTruth, k),
		K:                    k,
		NumRetrieved:         len(retrieved),
		NumGroundTruth:       len(groundTruth),
		NumRelevantRetrieved: relevantInTopK(retrieved, groundTruth, k),
	}
}

func topK(retrieved []int64, k int) []int64 {
	if len(retrieved) > k {
		return retrieved[:k]
	}
	return retrieved
}

func relevantInTopK(retrieved, groundTruth []int64, k int) int {
	gt := toSet(groundTruth)
	count := 0
	for _, id := range topK(retrieved, k) {
		if gt[id] {
			count++
		}
	}
	return count
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
