// Package settings resolves the fee table, contribution ratios and loan
// parameters used by a single period run.
package settings

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// ErrMissingContributionSettings indicates no shares/savings ratio row exists.
	ErrMissingContributionSettings = errors.New("settings: contribution settings missing")
	// ErrInvalidRatio indicates a non-positive shares or savings ratio.
	ErrInvalidRatio = errors.New("settings: contribution ratios must be greater than zero")
)

// Defaults are the fallbacks applied when the database holds no value.
type Defaults struct {
	EntryFeeGate      decimal.Decimal
	EntryFeeCharge    decimal.Decimal
	DevelopmentLevy   decimal.Decimal
	LoanActivationDay int
	InterestRate      decimal.Decimal
}

// StandardDefaults returns the built-in fallbacks.
func StandardDefaults() Defaults {
	return Defaults{
		EntryFeeGate:      decimal.NewFromInt(10000),
		EntryFeeCharge:    decimal.NewFromInt(1000),
		DevelopmentLevy:   decimal.NewFromInt(1000),
		LoanActivationDay: 5,
		InterestRate:      decimal.RequireFromString("0.015"),
	}
}

// Ratios is the configured contribution split.
type Ratios struct {
	Shares  decimal.Decimal
	Savings decimal.Decimal
}

// Raw is the unresolved configuration as stored.
type Raw struct {
	Fees              map[string]decimal.Decimal
	Ratios            *Ratios
	InterestRate      *decimal.Decimal
	LoanActivationDay *int
}

// Settings is the resolved, immutable configuration for one run.
type Settings struct {
	// EntryFeeGate is the contribution needed before the entry fee is taken.
	EntryFeeGate decimal.Decimal
	// EntryFee is the amount deducted once the gate is met.
	EntryFee        decimal.Decimal
	DevelopmentLevy decimal.Decimal
	// StationeryRate is applied to the member's pending loan total. Zero
	// disables the stationery step.
	StationeryRate    decimal.Decimal
	SharesRatio       decimal.Decimal
	SavingsRatio      decimal.Decimal
	InterestRate      decimal.Decimal
	LoanActivationDay int `validate:"gte=1,lte=31"`
	// Renormalized is set when the configured ratios did not sum to one.
	Renormalized bool
}

var validate = validator.New()

// Validate checks the resolved settings.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if !s.SharesRatio.IsPositive() || !s.SavingsRatio.IsPositive() {
		return ErrInvalidRatio
	}
	if s.InterestRate.IsNegative() || s.StationeryRate.IsNegative() {
		return errors.New("settings: rates cannot be negative")
	}
	return nil
}

// Resolve applies defaults and ratio normalization to the raw configuration.
func Resolve(raw Raw, defaults Defaults) (Settings, error) {
	if raw.Ratios == nil {
		return Settings{}, ErrMissingContributionSettings
	}
	shares, savings := raw.Ratios.Shares, raw.Ratios.Savings
	if !shares.IsPositive() || !savings.IsPositive() {
		return Settings{}, ErrInvalidRatio
	}
	out := Settings{
		EntryFeeGate:      defaults.EntryFeeGate,
		EntryFee:          defaults.EntryFeeCharge,
		DevelopmentLevy:   defaults.DevelopmentLevy,
		InterestRate:      defaults.InterestRate,
		LoanActivationDay: defaults.LoanActivationDay,
		SharesRatio:       shares,
		SavingsRatio:      savings,
	}
	if fee, ok := raw.Fees["entry"]; ok {
		out.EntryFeeGate = fee
		out.EntryFee = fee
	}
	if levy, ok := raw.Fees["development_levy"]; ok {
		out.DevelopmentLevy = levy
	}
	if rate, ok := raw.Fees["stationery"]; ok {
		out.StationeryRate = rate
	}
	if raw.InterestRate != nil {
		out.InterestRate = *raw.InterestRate
	}
	if raw.LoanActivationDay != nil {
		out.LoanActivationDay = *raw.LoanActivationDay
	}
	sum := shares.Add(savings)
	if !sum.Equal(decimal.NewFromInt(1)) {
		out.SharesRatio = shares.Div(sum)
		out.SavingsRatio = savings.Div(sum)
		out.Renormalized = true
	}
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}
