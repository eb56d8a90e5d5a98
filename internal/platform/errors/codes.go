// Package errors provides structured error handling for the contacts service.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input validation errors
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeInvalidSearchTerm  Code = "INVALID_SEARCH_TERM"
	CodeEmptyInput         Code = "EMPTY_INPUT"
	CodeTooManyEntries     Code = "TOO_MANY_ENTRIES"
	CodeMalformedHash      Code = "MALFORMED_HASH"
	CodeUnsupportedHashing Code = "UNSUPPORTED_HASHING_METHOD"

	// Abuse guard errors
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeDuplicateEntries  Code = "DUPLICATE_ENTRIES"
	CodeSpamPattern       Code = "SPAM_PATTERN"
	CodeReplayOrClockSkew Code = "REPLAY_OR_CLOCK_SKEW"

	// Sync lifecycle errors
	CodeSyncAlreadyInProgress Code = "SYNC_ALREADY_IN_PROGRESS"

	// Contact and identity errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeHashAlreadyClaimed Code = "HASH_ALREADY_CLAIMED"

	// Authentication errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Infrastructure errors
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidFormat,
		CodeInvalidSearchTerm,
		CodeEmptyInput,
		CodeTooManyEntries,
		CodeMalformedHash,
		CodeUnsupportedHashing,
		CodeDuplicateEntries,
		CodeSpamPattern,
		CodeReplayOrClockSkew:
		return codes.InvalidArgument

	// ResourceExhausted - caller must back off
	case CodeRateLimited:
		return codes.ResourceExhausted

	// Aborted - concurrent operation conflict
	case CodeSyncAlreadyInProgress:
		return codes.Aborted

	// NotFound - resource doesn't exist or isn't owned by caller
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeHashAlreadyClaimed:
		return codes.AlreadyExists

	case CodeUnauthenticated:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP response statuses via their gRPC code.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
