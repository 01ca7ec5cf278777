package apperrors

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/smithy-go"
)

var queueNotFoundPattern = regexp.MustCompile(`JobQueue .+ not found`)

// Batch reports duplicate queues and compute environments as a generic
// ClientException.
var alreadyExistsPattern = regexp.MustCompile(`(?i)already exists`)

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException": true,
	"FileSystemNotFound":        true,
	"NoSuchEntity":              true,
	"NoSuchBucket":              true,
	"NoSuchKey":                 true,
	"NotFound":                  true,
	"InvalidKeyPair.NotFound":   true,
	"InvalidGroup.NotFound":     true,
}

var conflictCodes = map[string]bool{
	"EntityAlreadyExists":            true,
	"BucketAlreadyOwnedByYou":        true,
	"ResourceAlreadyExistsException": true,
	"ResourceInUseException":         true,
	"InvalidKeyPair.Duplicate":       true,
	"InvalidGroup.Duplicate":         true,
}

var validationCodes = map[string]bool{
	"ClientException":           true,
	"ValidationException":       true,
	"InvalidParameterException": true,
	"InvalidParameterValue":     true,
	"MalformedPolicyDocument":   true,
}

// FromAWS classifies an AWS SDK error by its API error code. Errors that are
// not API errors (transport, context) become Internal.
func FromAWS(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return Internal(op, err)
	}

	code := apiErr.ErrorCode()
	sentinel := ErrInternal
	switch {
	case queueNotFoundPattern.MatchString(apiErr.ErrorMessage()):
		sentinel = ErrNotFound
	case notFoundCodes[code]:
		sentinel = ErrNotFound
	case conflictCodes[code], alreadyExistsPattern.MatchString(apiErr.ErrorMessage()):
		sentinel = ErrConflict
	case validationCodes[code]:
		sentinel = ErrValidation
	}
	return &Error{
		Sentinel: sentinel,
		Message:  fmt.Sprintf("%s: %s: %s", op, code, apiErr.ErrorMessage()),
		Op:       op,
		Cause:    err,
	}
}

// IsQueueNotFound reports whether err is the compute service rejecting a
// submission because the target queue does not exist.
func IsQueueNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return queueNotFoundPattern.MatchString(apiErr.ErrorMessage())
	}
	return queueNotFoundPattern.MatchString(err.Error())
}

// IsAlreadyExists reports whether err means the resource is already there.
func IsAlreadyExists(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return conflictCodes[apiErr.ErrorCode()] || alreadyExistsPattern.MatchString(apiErr.ErrorMessage())
}

// IsNotFound reports whether err means the resource is absent.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()]
}
