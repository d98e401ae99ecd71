package utils

import (
	"fmt"
	"regexp"
)

var (
	vendorRefRegex   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]{0,63}$`)
	currencyRegex    = regexp.MustCompile(`^[A-Z]{3}$`)
	controlCharRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateVendorRef validates a vendor reference identifier.
func ValidateVendorRef(vendorID string) error {
	if vendorID == "" {
		return fmt.Errorf("vendor reference is required")
	}
	if !vendorRefRegex.MatchString(vendorID) {
		return fmt.Errorf("invalid vendor reference format: %s", vendorID)
	}
	return nil
}

// ValidateCurrency validates an ISO 4217 style currency code.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidateAmount validates an invoice amount.
func ValidateAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive: %.2f", amount)
	}
	return nil
}

// SanitizeString removes control characters from free-text input.
func SanitizeString(s string) string {
	return controlCharRegex.ReplaceAllString(s, "")
}
