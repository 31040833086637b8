package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// providerMap resolves well-known org prefixes in model names.
var providerMap = map[string]string{
	"meta-llama": "Meta",
	"qwen":       "Qwen",
	"openai":     "OpenAI",
	"anthropic":  "Anthropic",
	"google":     "Google",
	"mistralai":  "Mistral AI",
}

// paramCountPattern matches size tokens like 3B, 7B, 3.2B or 8B-Instruct.
var paramCountPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)[Bb](?:-|$|\s)`)

// Provider infers the model provider from its name.
func Provider(modelName string) string {
	lower := strings.ToLower(modelName)
	for key, provider := range providerMap {
		if strings.Contains(lower, key) {
			return provider
		}
	}
	if idx := strings.Index(modelName, "/"); idx > 0 {
		org := strings.ReplaceAll(modelName[:idx], "-", " ")
		return titleCase(org)
	}
	return "Unknown"
}

// titleCase upper-cases the first letter of every space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ParameterCount infers the parameter count from a size token in the model
// name. Returns nil when no token is present.
func ParameterCount(modelName string) *int64 {
	match := paramCountPattern.FindStringSubmatch(modelName)
	if match == nil {
		return nil
	}
	billions, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	count := int64(billions * 1_000_000_000)
	return &count
}

// ContextLength returns the default context length for a model, honouring
// explicit window markers in the name.
func ContextLength(modelName string) int64 {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "32k"):
		return 32768
	case strings.Contains(lower, "16k"):
		return 16384
	default:
		return 131072
	}
}

var benchmarkDescriptions = map[string]string{
	"ruler32k":    "RULER benchmark for evaluating long-context understanding (32k)",
	"ruler128k":   "RULER benchmark for evaluating long-context understanding (128k)",
	"needlebench": "Needle in a Haystack benchmark for long-context retrieval",
}

// BenchmarkDescription returns a human description for a benchmark name.
func BenchmarkDescription(name string) string {
	if d, ok := benchmarkDescriptions[strings.ToLower(name)]; ok {
		return d
	}
	return fmt.Sprintf("Benchmark: %s", name)
}

// BenchmarkPaperURL returns the external reference for a benchmark, when
// one is known.
func BenchmarkPaperURL(name string) string {
	if strings.ToLower(name) == "ruler32k" {
		return "https://arxiv.org/abs/2404.06654"
	}
	return ""
}

var datasetDescriptions = map[string]string{
	"qa_1":            "Question Answering Level 1",
	"qa_2":            "Question Answering Level 2",
	"fwe":             "First Word Extraction",
	"vt":              "Variable Tracking",
	"niah_multikey_2": "Needle In A Haystack - Multi-key (2 keys)",
	"niah_multikey_3": "Needle In A Haystack - Multi-key (3 keys)",
	"cwe":             "Common Word Extraction",
}

// DatasetDescription returns a human description for a dataset name.
func DatasetDescription(name string) string {
	if d, ok := datasetDescriptions[name]; ok {
		return d
	}
	return fmt.Sprintf("Dataset: %s", name)
}

var baselineDescriptions = map[string]string{
	BaselineDense:          "Full dense attention (baseline)",
	BaselineOracleTopK:     "Oracle Top-K attention selection",
	BaselineOracleTopP:     "Oracle Top-P (nucleus) attention selection",
	BaselineHashAttention:  "Hash-based Attention (HAT)",
	BaselineQuest:          "QUEST: Query-aware Sparsity for Efficient Long-context Transformers",
	BaselineMagicPig:       "MagicPIG: LSH sampling based attention",
	BaselineDoubleSparsity: "Double Sparsity: Joint Token and Channel Sparsity",
}

// BaselineDescription returns a human description for a canonical baseline.
func BaselineDescription(name string) string {
	if d, ok := baselineDescriptions[name]; ok {
		return d
	}
	switch name {
	case wrapperName + "+" + BaselineOracleTopK:
		return "vAttention with Oracle Top-K"
	case wrapperName + "+" + BaselineHashAttention:
		return "vAttention with Hash-based Attention"
	}
	return fmt.Sprintf("Sparse attention method: %s", name)
}

// MetricDefinition carries the attributes attached to a metric row on first
// sighting. HigherIsBetter drives ranking sort direction.
type MetricDefinition struct {
	DisplayName    string
	Description    string
	Unit           string
	HigherIsBetter bool
}

var metricDefinitions = map[string]MetricDefinition{
	"string_match": {
		DisplayName:    "String Match",
		Description:    "Percentage of exact string matches",
		Unit:           "%",
		HigherIsBetter: true,
	},
	"accuracy": {
		DisplayName:    "Accuracy",
		Description:    "Overall accuracy percentage",
		Unit:           "%",
		HigherIsBetter: true,
	},
	"f1_score": {
		DisplayName:    "F1 Score",
		Description:    "Harmonic mean of precision and recall",
		HigherIsBetter: true,
	},
	"average_local_error": {
		DisplayName:    "Average Local Error",
		Description:    "Average attention output error across all layers",
		HigherIsBetter: false,
	},
	"overall_score": {
		DisplayName:    "Overall Score",
		Description:    "Composite performance score for the configuration",
		Unit:           "%",
		HigherIsBetter: true,
	},
	"average_density": {
		DisplayName:    "Average Density",
		Description:    "Average attention density across all layers",
		Unit:           "%",
		HigherIsBetter: false,
	},
	"aux_memory": {
		DisplayName:    "Auxiliary Memory",
		Description:    "Auxiliary memory used by the sparse attention method",
		Unit:           "tokens",
		HigherIsBetter: false,
	},
}

// MetricFor returns the definition for a metric name, synthesizing a
// higher-is-better default for unknown metrics.
func MetricFor(name string) MetricDefinition {
	if def, ok := metricDefinitions[name]; ok {
		return def
	}
	display := titleCase(strings.ReplaceAll(name, "_", " "))
	return MetricDefinition{
		DisplayName:    display,
		Description:    fmt.Sprintf("Metric: %s", name),
		HigherIsBetter: true,
	}
}
