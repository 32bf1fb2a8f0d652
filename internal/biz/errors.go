// Package biz holds the signaling broker's domain model: peers, sessions,
// the wire DTOs exchanged with browsers and streaming containers, and the
// error taxonomy reported back to them.
package biz

import "fmt"

// Wire error codes. These are not HTTP statuses; they are sent verbatim in
// an ErrorResponse's code field so browser and container clients can branch
// on them without string-matching the message.
const (
	CodeRequestValidation       = 1400
	CodeSessionsQuotaLimit      = 1429
	CodeSessionSvc              = 1409
	CodeSessionSvcSessionNotFound = 1404
	CodeSigsvcOp                = 1409
	CodeUnknownPeer              = 1404
)

const (
	msgRequestValidation  = "request validation error"
	msgSessionsQuotaLimit = "sessions quota limit exceeded for user"
	msgSessionSvc         = "sessionsvc error"
	msgSessionNotFound    = "sessionsvc: session not found"
	msgSigsvcOp           = "sigsvc operational error"
	msgUnknownPeer        = "unknown peer"
)

// Error is a domain error carrying the numeric wire code sent to clients
// alongside its message.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("biz: [%d] %s", e.Code, e.Message)
}

func newError(code int, fallback, message string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{Code: code, Message: message}
}

func RequestValidation(message string) *Error {
	return newError(CodeRequestValidation, msgRequestValidation, message)
}

func QuotaExceeded() *Error {
	return newError(CodeSessionsQuotaLimit, msgSessionsQuotaLimit, "")
}

func UnknownPeer(message string) *Error {
	return newError(CodeUnknownPeer, msgUnknownPeer, message)
}

func SigsvcOp(message string) *Error {
	return newError(CodeSigsvcOp, msgSigsvcOp, message)
}

func SessionSvc(message string) *Error {
	return newError(CodeSessionSvc, msgSessionSvc, message)
}

// SessionNotFound is raised internally by the sessionsvc client and is
// never sent over the wire directly: SessionsManager.GetSession swallows it
// and returns a nil session instead.
func SessionNotFound(message string) *Error {
	return newError(CodeSessionSvcSessionNotFound, msgSessionNotFound, message)
}
