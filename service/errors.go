package service

import "errors"

type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindAuth
	KindForbidden
	KindNotFound
	KindInfra
)

// CodedError is the closed set of errors the service layer returns to its
// callers. Handlers map Kind to a transport status and send Code to clients,
// so wrapped internals never leak over the wire.
type CodedError struct {
	Code string
	Kind ErrorKind
}

func (e *CodedError) Error() string {
	return e.Code
}

var (
	ErrUnauthorized   = &CodedError{Code: "UNAUTHORIZED", Kind: KindAuth}
	ErrBadCredentials = &CodedError{Code: "BAD_CREDENTIALS", Kind: KindAuth}

	ErrNotInChat      = &CodedError{Code: "NOT_IN_CHAT", Kind: KindForbidden}
	ErrNotChatCreator = &CodedError{Code: "NOT_CHAT_CREATOR", Kind: KindForbidden}
	ErrNotAuthor      = &CodedError{Code: "NOT_AUTHOR", Kind: KindForbidden}

	ErrChatNotFound    = &CodedError{Code: "CHAT_NOT_FOUND", Kind: KindNotFound}
	ErrUserNotFound    = &CodedError{Code: "USER_NOT_FOUND", Kind: KindNotFound}
	ErrMessageNotFound = &CodedError{Code: "MESSAGE_NOT_FOUND", Kind: KindNotFound}
	ErrNoPublicKey     = &CodedError{Code: "NO_PUBLIC_KEY", Kind: KindNotFound}
	ErrNoChatKey       = &CodedError{Code: "NO_CHAT_KEY", Kind: KindNotFound}

	ErrEmailTaken      = &CodedError{Code: "EMAIL_TAKEN", Kind: KindValidation}
	ErrEmptyText       = &CodedError{Code: "EMPTY_TEXT", Kind: KindValidation}
	ErrMissingImageURL = &CodedError{Code: "MISSING_IMAGE_URL", Kind: KindValidation}
	ErrBadSha256       = &CodedError{Code: "BAD_SHA256", Kind: KindValidation}
	ErrBadSignature    = &CodedError{Code: "BAD_SIGNATURE", Kind: KindValidation}
	ErrBadMessageType  = &CodedError{Code: "BAD_MESSAGE_TYPE", Kind: KindValidation}
	ErrBadRequest      = &CodedError{Code: "BAD_REQUEST", Kind: KindValidation}
	ErrMessageDeleted  = &CodedError{Code: "MESSAGE_DELETED", Kind: KindValidation}

	ErrInternal = &CodedError{Code: "INTERNAL", Kind: KindInfra}
)

// CodeOf returns the wire code for any error, collapsing everything outside
// the closed set to INTERNAL.
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrInternal.Code
}

// KindOf mirrors CodeOf for status mapping.
func KindOf(err error) ErrorKind {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return KindInfra
}
