package callbacks

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field names searched by the extractors, in priority order. The first key
// that yields a usable value wins.
var (
	modelIDKeys       = []string{"model_id", "base_model_id"}
	modelFallbackKeys = []string{"model_name", "model"}

	maxTokensKeys   = []string{"max_tokens", "max_new_tokens"}
	temperatureKeys = []string{"temperature"}
	topPKeys        = []string{"top_p"}

	usageBlockKeys   = []string{"usage", "token_usage"}
	inputTokenKeys   = []string{"prompt_tokens", "input_token_count", "input_tokens"}
	outputTokenKeys  = []string{"completion_tokens", "generated_token_count", "output_tokens"}
	responseModelKey = []string{"model_name", "model_id", "model"}
)

const (
	invocationParamsKey = "invocation_params"
	paramsKey           = "params"
	unknownName         = "unknown"
)

// GenerationParams are the request parameters a model call was made with.
// A nil field means the payload did not carry a usable value.
type GenerationParams struct {
	MaxTokens   *int64
	Temperature *float64
	TopP        *float64
}

// TokenUsage is the token accounting reported by a model call.
type TokenUsage struct {
	InputTokens  *int64
	OutputTokens *int64
}

// ResolveModel finds the model identifier of a model call.
//
// model_id is checked before base_model_id in every source. The direct
// sources come first (serialized kwargs, then the raw extra params), then the
// same keys nested one level under invocation_params. model_name and model
// are consulted only when no id key matched anywhere, and the ls_model_name
// metadata hint last. An empty result means the model is unknown.
func ResolveModel(serialized Serialized, extraParams, metadata map[string]any) string {
	invocation := asMap(extraParams[invocationParamsKey])
	sources := []map[string]any{serialized.Kwargs, extraParams, invocation}

	for _, keys := range [][]string{modelIDKeys, modelFallbackKeys} {
		for _, src := range sources {
			if v, ok := firstString(src, keys...); ok {
				return v
			}
		}
	}

	if v, ok := firstString(metadata, "ls_model_name"); ok {
		return v
	}
	return ""
}

// ExtractGenerationParams reads max_tokens/max_new_tokens, temperature and
// top_p. The parameters object is invocation_params.params when that is an
// object, otherwise invocation_params, otherwise the raw extra params.
// Absent, nil and empty-string values are left unset.
func ExtractGenerationParams(extraParams map[string]any) GenerationParams {
	params := extraParams
	if invocation := asMap(extraParams[invocationParamsKey]); invocation != nil {
		params = invocation
		if nested := asMap(invocation[paramsKey]); nested != nil {
			params = nested
		}
	}

	var out GenerationParams
	if v, ok := firstInt(params, maxTokensKeys...); ok {
		out.MaxTokens = &v
	}
	if v, ok := firstFloat(params, temperatureKeys...); ok {
		out.Temperature = &v
	}
	if v, ok := firstFloat(params, topPKeys...); ok {
		out.TopP = &v
	}
	return out
}

// ExtractTokenUsage reads token counts from the usage block of an output
// payload (usage, then token_usage). Each direction accepts several
// synonymous field names; the first present one wins. A block without any
// usable count does not shadow the next one.
func ExtractTokenUsage(payload map[string]any) TokenUsage {
	for _, key := range usageBlockKeys {
		block := asMap(payload[key])
		if block == nil {
			continue
		}
		var out TokenUsage
		if v, ok := firstInt(block, inputTokenKeys...); ok {
			out.InputTokens = &v
		}
		if v, ok := firstInt(block, outputTokenKeys...); ok {
			out.OutputTokens = &v
		}
		if out.InputTokens != nil || out.OutputTokens != nil {
			return out
		}
	}
	return TokenUsage{}
}

// extractResultUsage reads usage from llm_output and falls back to the
// generation info of the first generation.
func extractResultUsage(result LLMResult) TokenUsage {
	usage := ExtractTokenUsage(result.LLMOutput)
	if usage.InputTokens != nil || usage.OutputTokens != nil {
		return usage
	}
	if len(result.Generations) > 0 && len(result.Generations[0]) > 0 {
		return ExtractTokenUsage(result.Generations[0][0].GenerationInfo)
	}
	return usage
}

// ExtractResponseModel returns the model reported by the provider, if any.
func ExtractResponseModel(result LLMResult) string {
	v, _ := firstString(result.LLMOutput, responseModelKey...)
	return v
}

// ResolveName picks the display name of a run: the explicit run name, the
// resolved model, the serialized name, the last segment of the serialized
// id, then "unknown".
func ResolveName(explicit, model string, serialized Serialized) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if model != "" {
		return model
	}
	if s := strings.TrimSpace(serialized.Name); s != "" {
		return s
	}
	if n := len(serialized.ID); n > 0 {
		if s := strings.TrimSpace(serialized.ID[n-1]); s != "" {
			return s
		}
	}
	return unknownName
}

// SpanName builds "<label> <name>".
func SpanName(kind Kind, name string) string {
	return kind.Label() + " " + name
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// present reports whether v should produce an attribute at all.
func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || !present(v) {
			continue
		}
		switch s := v.(type) {
		case string:
			return s, true
		case fmt.Stringer:
			return s.String(), true
		}
	}
	return "", false
}

func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || !present(v) {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// firstInt reads a count. Negative values and values that do not fit in
// an int64 are skipped.
func firstInt(m map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || !present(v) {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		r := math.Round(f)
		if r < 0 || r >= math.MaxInt64 {
			continue
		}
		return int64(r), true
	}
	return 0, false
}

// toFloat converts a numeric or numeric-string value. NaN and infinities
// are rejected.
func toFloat(v any) (float64, bool) {
	f, ok := parseFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
