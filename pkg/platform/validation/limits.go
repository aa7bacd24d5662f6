// Package validation holds the size limits applied to untrusted input before
// it reaches a service. Struct-tag rules live in pkg/validation.
package validation

import (
	"fmt"

	dErrors "leadgate/pkg/domain-errors"
)

const (
	// MaxBodySize caps every request body (64 KB).
	MaxBodySize = 64 * 1024

	// MaxFormFields caps the fields in one form submission. Field name and
	// value lengths are enforced by the submission's struct tags.
	MaxFormFields = 50

	// MaxLeadIDLength and MaxSourceLength cap path parameters.
	MaxLeadIDLength = 64
	MaxSourceLength = 64
)

// CheckMapCount rejects maps with more than max entries.
func CheckMapCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength rejects values longer than max bytes.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}
