// Package errors provides structured error handling for the sync surfaces.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionEmptyID Code = "SESSION_EMPTY_ID"

	// User errors
	CodeUserEmptyID    Code = "USER_EMPTY_ID"
	CodeUserEmptyName  Code = "USER_EMPTY_NAME"
	CodeUserEmptyColor Code = "USER_EMPTY_COLOR"

	// Update record errors
	CodeUpdateEmptyType    Code = "UPDATE_EMPTY_TYPE"
	CodeUpdateUnknownType  Code = "UPDATE_UNKNOWN_TYPE"
	CodeUpdateEmptyAuthor  Code = "UPDATE_EMPTY_AUTHOR"
	CodeUpdateNullPayload  Code = "UPDATE_NULL_PAYLOAD"
	CodeUpdateBadPayload   Code = "UPDATE_BAD_PAYLOAD"
	CodeCharacterEmptyID   Code = "CHARACTER_EMPTY_ID"
	CodeGameStateEmptyBody Code = "GAME_STATE_EMPTY_BODY"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Transport errors
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInternal       Code = "INTERNAL"
)

// HTTPStatus maps an error code to the HTTP status the JSON API responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSessionEmptyID, CodeUserEmptyID, CodeUserEmptyName, CodeUserEmptyColor,
		CodeUpdateEmptyType, CodeUpdateUnknownType, CodeUpdateEmptyAuthor,
		CodeUpdateNullPayload, CodeUpdateBadPayload, CodeCharacterEmptyID,
		CodeGameStateEmptyBody, CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
