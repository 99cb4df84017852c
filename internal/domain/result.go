package domain

import (
	"encoding/json"
	"fmt"
)

// ValuationResult is the calculation engine's output attached to a
// version. The engine's payload is opaque to this subsystem; the few
// fields named here exist only so history consumers can show a headline
// number without reaching into the raw payload.
type ValuationResult struct {
	ValuationLow  float64         `json:"valuationLow"`
	ValuationMid  float64         `json:"valuationMid"`
	ValuationHigh float64         `json:"valuationHigh"`
	Methodology   string          `json:"methodology,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Clone returns a deep copy, or nil for nil.
func (r *ValuationResult) Clone() *ValuationResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Raw != nil {
		out.Raw = make(json.RawMessage, len(r.Raw))
		copy(out.Raw, r.Raw)
	}
	return &out
}

// ParseValuationResult maps the engine's loosely-typed payload into a
// ValuationResult. Fallback key extraction lives here; nothing
// downstream inspects the raw payload again. Growth and CAGR metrics
// stay with the engine.
func ParseValuationResult(payload json.RawMessage) (*ValuationResult, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse valuation result: %w", err)
	}

	result := &ValuationResult{Raw: append(json.RawMessage(nil), payload...)}
	result.ValuationLow = firstNumber(raw, "valuation_low", "valuationLow", "low", "equity_value_low")
	result.ValuationMid = firstNumber(raw, "valuation_mid", "valuationMid", "mid", "equity_value_mid", "equity_value")
	result.ValuationHigh = firstNumber(raw, "valuation_high", "valuationHigh", "high", "equity_value_high")
	result.Methodology = firstString(raw, "methodology", "method", "primary_method")
	return result, nil
}

func firstNumber(raw map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			switch typed := value.(type) {
			case float64:
				return typed
			case json.Number:
				if f, err := typed.Float64(); err == nil {
					return f
				}
			}
		}
	}
	return 0
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
