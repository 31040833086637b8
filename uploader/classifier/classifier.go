// Package classifier maps raw experiment records to canonical baseline
// names and derives default attributes for newly created reference rows.
// Everything here is pure: no store access, no mutation.
package classifier

import (
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/types"
)

// Canonical baseline names.
const (
	BaselineDense          = "dense"
	BaselineHashAttention  = "hash-attention"
	BaselineOracleTopK     = "oracle-topk"
	BaselineOracleTopP     = "oracle-topp"
	BaselineQuest          = "quest"
	BaselineMagicPig       = "magic-pig"
	BaselineDoubleSparsity = "double-sparsity"

	wrapperName = "vattention"
)

// Masker parameter keys that identify a technique.
const (
	paramHashBits    = "hat_bits"
	paramTopP        = "top_p"
	paramPageSize    = "page_size"
	paramLSHTables   = "lsh_l"
	paramGroupFactor = "group_factor"
)

var log = logrus.WithField("component", "classifier")

// maskers extracts the masker parameter bags from the record's nested
// configuration tree. Malformed or missing structures yield an empty slice.
func maskers(rec *types.Record) []map[string]any {
	cfg := rec.Config
	if cfg == nil {
		return nil
	}
	sparse, ok := cfg["sparse_attention_config"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := sparse["masker_configs"].([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, m := range raw {
		if bag, ok := m.(map[string]any); ok {
			out = append(out, bag)
		}
	}
	return out
}

// anyMaskerHas reports whether any masker's parameter bag contains key.
func anyMaskerHas(rec *types.Record, key string) bool {
	for _, bag := range maskers(rec) {
		if _, ok := bag[key]; ok {
			return true
		}
	}
	return false
}

// generationHas reports whether the generation parameters contain key.
func generationHas(rec *types.Record, key string) bool {
	cfg := rec.Config
	if cfg == nil {
		return false
	}
	gen, ok := cfg["generation_params"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = gen[key]
	return ok
}

// Classify maps a record to its canonical baseline name. The rule order is
// load-bearing: the wrapper checks must precede the generic hash-attention
// check, and the nucleus-sampling check must precede the page-size check,
// because those technique combinations co-occur in real configurations.
// The result is never empty.
func Classify(rec *types.Record) string {
	rawLabel := strings.ToLower(strings.ReplaceAll(rec.Baseline, " ", ""))
	isWrapper := strings.Contains(rawLabel, wrapperName)

	switch {
	case isWrapper && anyMaskerHas(rec, paramHashBits):
		return wrapperName + "+" + BaselineHashAttention
	case isWrapper:
		return wrapperName + "+" + BaselineOracleTopK
	case anyMaskerHas(rec, paramHashBits):
		return BaselineHashAttention
	case generationHas(rec, paramTopP):
		return BaselineOracleTopP
	case anyMaskerHas(rec, paramPageSize):
		return BaselineQuest
	case anyMaskerHas(rec, paramLSHTables):
		return BaselineMagicPig
	case anyMaskerHas(rec, paramGroupFactor):
		return BaselineDoubleSparsity
	case strings.Contains(rawLabel, "oracletopk") || strings.Contains(rawLabel, "oracle_top_k"):
		return BaselineOracleTopK
	}

	// No specific rule matched. A labelled record falling through here is
	// worth a manual look before trusting the dense default.
	if rec.Baseline != "" && rawLabel != BaselineDense {
		log.WithField("baseline", rec.Baseline).Warn("Record matched no classification rule, defaulting to dense")
	}
	return BaselineDense
}

// TargetSparsity extracts the target value stored in the configuration's
// sparsity column (the UI interprets it as density, so density is what gets
// stored). Returns nil when the record carries no usable value.
func TargetSparsity(rec *types.Record) *float64 {
	if rec.DensityTarget != nil {
		v := *rec.DensityTarget
		return &v
	}
	if Classify(rec) == BaselineDense {
		v := 100.0
		return &v
	}
	if rec.AverageDensity != nil {
		v := math.Round(*rec.AverageDensity*100*100) / 100
		return &v
	}
	return nil
}

// AuxMemory extracts the auxiliary-memory target. Dense attention keeps no
// auxiliary state, so dense records are pinned to zero.
func AuxMemory(rec *types.Record, baseline string) *int64 {
	if baseline == BaselineDense {
		v := int64(0)
		return &v
	}
	if rec.AuxMemory == nil {
		return nil
	}
	v := int64(math.Round(*rec.AuxMemory))
	return &v
}
