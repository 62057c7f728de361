// Package pricer prices option legs and derives their Greeks so the
// hedger can compute a portfolio's net delta even when the venue doesn't
// report a greek on a given ticker (e.g. a stale or illiquid strike).
package pricer

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/deltahedge/engine/pkg/delta"
)

var standardNormal = distuv.Normal{Mu: 0, Sigma: 1}

// PriceAndDelta is the minimal result the hedger needs per instrument.
type PriceAndDelta struct {
	Price float64
	Delta delta.Greeks
}

// Pricer prices one option leg given the current underlying price and an
// implied or historical volatility estimate.
type Pricer interface {
	Price(underlyingPrice, strike, riskFreeRate, volatility float64, expiry time.Time, now time.Time, optionType delta.OptionType) (PriceAndDelta, error)
}

// BlackScholes prices European options with the classic Black-Scholes-Merton
// formula, using gonum's normal distribution for N(x) instead of a
// hand-rolled approximation.
type BlackScholes struct{}

// NewBlackScholes returns a stateless Black-Scholes pricer.
func NewBlackScholes() *BlackScholes { return &BlackScholes{} }

// Price computes the option's fair value and Greeks. At or past expiry it
// returns the intrinsic value and a Delta of 0/±1 with all other Greeks zero.
func (b *BlackScholes) Price(underlyingPrice, strike, riskFreeRate, volatility float64, expiry time.Time, now time.Time, optionType delta.OptionType) (PriceAndDelta, error) {
	if underlyingPrice <= 0 {
		return PriceAndDelta{}, fmt.Errorf("pricer: underlying price must be positive")
	}
	if strike <= 0 {
		return PriceAndDelta{}, fmt.Errorf("pricer: strike must be positive")
	}
	if volatility < 0 {
		return PriceAndDelta{}, fmt.Errorf("pricer: volatility must be non-negative")
	}

	T := expiry.Sub(now).Hours() / (24 * 365)
	if T <= 0 {
		return intrinsicAtExpiry(underlyingPrice, strike, optionType), nil
	}

	sqrtT := math.Sqrt(T)
	sigmaT := volatility * sqrtT
	if sigmaT == 0 {
		return intrinsicAtExpiry(underlyingPrice, strike, optionType), nil
	}

	S, K, r := underlyingPrice, strike, riskFreeRate
	d1 := (math.Log(S/K) + (r+0.5*volatility*volatility)*T) / sigmaT
	d2 := d1 - sigmaT

	discount := math.Exp(-r * T)
	var price float64
	if optionType == delta.OptionCall {
		price = S*standardNormal.CDF(d1) - K*discount*standardNormal.CDF(d2)
	} else {
		price = K*discount*standardNormal.CDF(-d2) - S*standardNormal.CDF(-d1)
	}
	if price < 0 {
		price = 0
	}

	pdf := standardNormal.Prob(d1)
	gamma := pdf / (S * volatility * sqrtT)
	vega := S * pdf * sqrtT / 100

	var thetaVal float64
	term1 := -(S * pdf * volatility) / (2 * sqrtT)
	var deltaVal float64
	if optionType == delta.OptionCall {
		deltaVal = standardNormal.CDF(d1)
		thetaVal = term1 - r*K*discount*standardNormal.CDF(d2)
	} else {
		deltaVal = standardNormal.CDF(d1) - 1
		thetaVal = term1 + r*K*discount*standardNormal.CDF(-d2)
	}

	return PriceAndDelta{
		Price: price,
		Delta: delta.Greeks{
			Delta: deltaVal,
			Gamma: gamma,
			Theta: thetaVal,
			Vega:  vega,
		},
	}, nil
}

func intrinsicAtExpiry(underlyingPrice, strike float64, optionType delta.OptionType) PriceAndDelta {
	if optionType == delta.OptionCall {
		intrinsic := math.Max(underlyingPrice-strike, 0)
		d := 0.0
		if underlyingPrice > strike {
			d = 1
		}
		return PriceAndDelta{Price: intrinsic, Delta: delta.Greeks{Delta: d}}
	}
	intrinsic := math.Max(strike-underlyingPrice, 0)
	d := 0.0
	if underlyingPrice < strike {
		d = -1
	}
	return PriceAndDelta{Price: intrinsic, Delta: delta.Greeks{Delta: d}}
}

var _ Pricer = (*BlackScholes)(nil)
