package main

import (
	"strconv"
	"strings"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/strategy"
	"github.com/avramidis/strategem/internal/utils"
)

// parseParams turns repeated --param name=value flags into a parameter map.
// Numeric values become float64 so they merge cleanly with defaults.
func parseParams(vals []string) (strategy.Params, error) {
	params := strategy.Params{}
	for _, raw := range vals {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return nil, domain.NewError(domain.InvalidInput, "invalid --param %q, want name=value", raw)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			params[name] = f
		} else {
			params[name] = value
		}
	}
	return params, nil
}

// parseOptParams turns repeated --opt name=from:to:step flags into
// optimization ranges.
func parseOptParams(vals []string) ([]domain.OptimizationParam, error) {
	var out []domain.OptimizationParam
	for _, raw := range vals {
		name, spec, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return nil, domain.NewError(domain.InvalidInput, "invalid --opt %q, want name=from:to:step", raw)
		}
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return nil, domain.NewError(domain.InvalidInput, "invalid --opt range %q, want from:to:step", spec)
		}
		nums := make([]float64, 3)
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, domain.WrapError(domain.InvalidInput, err, "invalid --opt bound %q", p)
			}
			nums[i] = f
		}
		out = append(out, domain.OptimizationParam{Name: name, From: nums[0], To: nums[1], Step: nums[2]})
	}
	return out, nil
}

// resolveTickerIDs maps comma-separated symbols to ticker ids.
func resolveTickerIDs(a *app, symbols string) ([]int64, error) {
	var ids []int64
	for _, sym := range utils.ParseCSV(symbols) {
		t, err := a.tickers.GetBySymbol(sym)
		if err != nil {
			return nil, domain.WrapError(domain.PersistenceFault, err, "resolve ticker %s", sym)
		}
		if t == nil {
			return nil, domain.NewError(domain.InvalidInput, "unknown ticker %q", sym)
		}
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return nil, domain.NewError(domain.InvalidInput, "no tickers given")
	}
	return ids, nil
}
