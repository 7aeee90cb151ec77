package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	result := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// ProcessValidationErrors flattens validator errors into field => tag pairs
// for JSON error responses.
func ProcessValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range vErrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// ParseDecimal accepts plain and comma-grouped numbers ("1,234.5").
func ParseDecimal(value string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	return decimal.NewFromString(cleaned)
}
