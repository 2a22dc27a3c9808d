package models

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// NewID returns a prefixed identifier such as "donation_1a2b3c4d5e6f".
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}

// Validate checks required fields and amounts before a record reaches the store.
func Validate(record any) error {
	if err := validate.Struct(record); err != nil {
		return fmt.Errorf("invalid %T: %w", record, err)
	}

	var amount decimal.Decimal
	switch r := record.(type) {
	case *PaymentTransaction:
		amount = r.Amount
	case *Donation:
		amount = r.Amount
	default:
		return nil
	}
	if !amount.IsPositive() {
		return fmt.Errorf("invalid %T: amount must be positive", record)
	}
	return nil
}
