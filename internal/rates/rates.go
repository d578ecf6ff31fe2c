package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Provider quotes how many units of target one unit of base buys.
type Provider interface {
	Rate(ctx context.Context, base, target string) (decimal.Decimal, error)
}

func pair(base, target string) string {
	return strings.ToUpper(base) + "_" + strings.ToUpper(target)
}

// Static serves a fixed table.
type Static map[string]decimal.Decimal

// DefaultStatic is the fallback table for the supported corridors.
func DefaultStatic() Static {
	return Static{
		"GBP_KES": decimal.RequireFromString("176.29"),
		"GBP_UGX": decimal.RequireFromString("4867.80"),
		"GBP_TZS": decimal.RequireFromString("3486.14"),
	}
}

func (s Static) Rate(_ context.Context, base, target string) (decimal.Decimal, error) {
	if strings.EqualFold(base, target) {
		return decimal.NewFromInt(1), nil
	}
	r, ok := s[pair(base, target)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, pair(base, target))
	}
	return r, nil
}

// Fallback asks each provider in order and returns the first usable rate.
type Fallback struct {
	providers []Provider
	logger    *zap.Logger
}

func NewFallback(logger *zap.Logger, providers ...Provider) *Fallback {
	return &Fallback{providers: providers, logger: logger}
}

func (f *Fallback) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	var errs []error
	for i, p := range f.providers {
		r, err := p.Rate(ctx, base, target)
		if err == nil && r.IsPositive() {
			if i > 0 {
				f.logger.Warn("using fallback exchange rate", zap.String("pair", pair(base, target)), zap.Int("source", i))
			}
			return r, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: non-positive rate %s", ErrRateUnavailable, r)
		}
		errs = append(errs, err)
	}
	return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrRateUnavailable, pair(base, target), errors.Join(errs...))
}
