// Package errors provides structured error handling for the split-testing
// services.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Visitor errors
	CodeVisitorIDEmpty Code = "VISITOR_ID_EMPTY"

	// Identity errors
	CodeIdentifierTypeEmpty  Code = "IDENTIFIER_TYPE_EMPTY"
	CodeIdentifierValueEmpty Code = "IDENTIFIER_VALUE_EMPTY"
	CodeIdentityUnavailable  Code = "IDENTITY_SERVICE_UNAVAILABLE"
	CodeIdentityMalformed    Code = "IDENTITY_RESPONSE_MALFORMED"

	// Split errors
	CodeSplitNameEmpty      Code = "SPLIT_NAME_EMPTY"
	CodeSplitWeightNegative Code = "SPLIT_WEIGHT_NEGATIVE"
	CodeSplitWeightSum      Code = "SPLIT_WEIGHT_SUM_INVALID"

	// Session errors
	CodeSessionClosed       Code = "SESSION_CLOSED"
	CodeSessionUnmanaged    Code = "SESSION_UNMANAGED"
	CodeRegistryUnavailable Code = "SPLIT_REGISTRY_UNAVAILABLE"

	// Notification errors
	CodeJobAssignmentsEmpty Code = "JOB_ASSIGNMENTS_EMPTY"
	CodeJobVisitorEmpty     Code = "JOB_VISITOR_EMPTY"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"
)
