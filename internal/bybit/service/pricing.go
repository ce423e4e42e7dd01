package service

import (
	"github.com/cockroachdb/apd/v3"
	"github.com/pkg/errors"
)

var pricingCtx = apd.BaseContext.WithPrecision(20)

// ComputeTargets derives TP/SL prices from an entry price and percentage
// offsets. For a Buy the take-profit sits above the entry and the stop-loss
// below; for a Sell both are mirrored. Prices are quantized to tickDecimals
// decimal places. A zero percentage yields an empty string so the caller can
// omit the level entirely.
func ComputeTargets(entryPrice, side string, tpPercent, slPercent float64, tickDecimals int) (tp, sl string, err error) {
	entry, _, err := apd.NewFromString(entryPrice)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid entry price %q", entryPrice)
	}
	if entry.Sign() <= 0 {
		return "", "", errors.Errorf("entry price must be positive, got %q", entryPrice)
	}
	if side != "Buy" && side != "Sell" {
		return "", "", errors.Errorf("invalid side %q", side)
	}

	if tpPercent > 0 {
		tp, err = offsetPrice(entry, tpPercent, side == "Buy", tickDecimals)
		if err != nil {
			return "", "", errors.Wrap(err, "take profit")
		}
	}
	if slPercent > 0 {
		sl, err = offsetPrice(entry, slPercent, side != "Buy", tickDecimals)
		if err != nil {
			return "", "", errors.Wrap(err, "stop loss")
		}
	}
	return tp, sl, nil
}

// offsetPrice returns entry * (1 ± percent/100) quantized to tickDecimals.
func offsetPrice(entry *apd.Decimal, percent float64, up bool, tickDecimals int) (string, error) {
	pct := new(apd.Decimal)
	if _, err := pct.SetFloat64(percent); err != nil {
		return "", err
	}

	factor := new(apd.Decimal)
	if _, err := pricingCtx.Quo(factor, pct, apd.New(100, 0)); err != nil {
		return "", err
	}

	one := apd.New(1, 0)
	if up {
		if _, err := pricingCtx.Add(factor, one, factor); err != nil {
			return "", err
		}
	} else {
		if _, err := pricingCtx.Sub(factor, one, factor); err != nil {
			return "", err
		}
	}
	if factor.Sign() <= 0 {
		return "", errors.Errorf("offset of %v%% crosses zero", percent)
	}

	out := new(apd.Decimal)
	if _, err := pricingCtx.Mul(out, entry, factor); err != nil {
		return "", err
	}
	if _, err := pricingCtx.Quantize(out, out, int32(-tickDecimals)); err != nil {
		return "", err
	}
	return out.Text('f'), nil
}
