// Package errs implements the closed error-kind taxonomy described in the
// specification's error handling design: a fixed set of sentinel kinds that
// every component maps its failures onto, plus the HTTP/WebSocket status
// translation tables the gateways use. Errors are wrapped with fmt.Errorf's
// %w the same way the teacher's pkg/utils.Wrap helper does, so errors.Is and
// errors.As keep working through the call stack.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed enumeration of error categories. New values must not be
// added casually: every Kind needs an HTTP status and a WebSocket code, or
// callers silently fall back to InternalError.
type Kind string

const (
	// Validation
	KindEmptyTexts        Kind = "EmptyTexts"
	KindTooManyTexts       Kind = "TooManyTexts"
	KindTextTooLong        Kind = "TextTooLong"
	KindInvalidChainId     Kind = "InvalidChainId"
	KindInvalidNonceSize   Kind = "InvalidNonceSize"
	KindInvalidHexEncoding Kind = "InvalidHexEncoding"
	KindInvalidPath        Kind = "InvalidPath"
	KindInvalidSessionKey  Kind = "InvalidSessionKey"

	// Security
	KindOwnerMismatch          Kind = "OwnerMismatch"
	KindDecryptionFailed       Kind = "DecryptionFailed"
	KindInvalidSignature       Kind = "InvalidSignature"
	KindEncryptionNotSupported Kind = "EncryptionNotSupported"
	KindSessionKeyNotFound     Kind = "SessionKeyNotFound"
	KindAeadAuthFailed         Kind = "AeadAuthFailed"

	// Resources
	KindMemoryLimitExceeded Kind = "MemoryLimitExceeded"
	KindRateLimitExceeded   Kind = "RateLimitExceeded"
	KindTimeout             Kind = "Timeout"

	// Model / state
	KindModelNotFound      Kind = "ModelNotFound"
	KindDimensionMismatch  Kind = "DimensionMismatch"
	KindEmptyDatabase      Kind = "EmptyDatabase"
	KindSessionNotFound    Kind = "SessionNotFound"

	// Transport
	KindChunkDownloadFailed    Kind = "ChunkDownloadFailed"
	KindManifestDownloadFailed Kind = "ManifestDownloadFailed"
	KindManifestNotFound       Kind = "ManifestNotFound"
	KindIndexBuildFailed       Kind = "IndexBuildFailed"
	KindRpcTransient           Kind = "RpcTransient"
	KindContractRevert         Kind = "ContractRevert"

	// Internal — a bug signal, never the default for well-understood
	// conditions. When this appears in logs, operators must investigate.
	KindInternalError Kind = "InternalError"
)

// Error wraps an underlying cause with a Kind, preserving the chain for
// errors.Unwrap/errors.Is.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// Wrap attaches a Kind and message to an existing error. Returns nil if err
// is nil, mirroring pkg/utils.Wrap's nil-safety.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternalError — the "bug signal" default the
// spec calls out explicitly.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalError
}

// httpStatus is the exhaustive Kind → HTTP status table from spec §7.
var httpStatus = map[Kind]int{
	KindEmptyTexts:        http.StatusBadRequest,
	KindTooManyTexts:       http.StatusBadRequest,
	KindTextTooLong:        http.StatusBadRequest,
	KindInvalidChainId:     http.StatusBadRequest,
	KindInvalidNonceSize:   http.StatusBadRequest,
	KindInvalidHexEncoding: http.StatusBadRequest,
	KindInvalidPath:        http.StatusBadRequest,
	KindInvalidSessionKey:  http.StatusBadRequest,

	KindOwnerMismatch:      http.StatusForbidden,
	KindInvalidSignature:   http.StatusUnauthorized,
	KindSessionKeyNotFound: http.StatusUnauthorized,
	KindDecryptionFailed:   http.StatusBadRequest,

	KindMemoryLimitExceeded: http.StatusInsufficientStorage,
	KindRateLimitExceeded:   http.StatusTooManyRequests,
	KindTimeout:             http.StatusGatewayTimeout,

	KindModelNotFound:     http.StatusNotFound,
	KindManifestNotFound:  http.StatusNotFound,
	KindDimensionMismatch: http.StatusBadRequest,
	KindEmptyDatabase:     http.StatusBadRequest,
	KindSessionNotFound:   http.StatusNotFound,

	KindChunkDownloadFailed:    http.StatusBadGateway,
	KindManifestDownloadFailed: http.StatusBadGateway,
	KindIndexBuildFailed:       http.StatusInternalServerError,
	KindRpcTransient:           http.StatusBadGateway,
	KindContractRevert:         http.StatusConflict,

	KindEncryptionNotSupported: http.StatusServiceUnavailable,
	KindAeadAuthFailed:         http.StatusBadRequest,

	KindInternalError: http.StatusInternalServerError,
}

// HTTPStatus maps a Kind to the status code the HTTP gateway should return.
// Unknown kinds map to 500, matching the InternalError default.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// wsCode is the Kind → WebSocket "error" frame code table; names mirror the
// vector_loading_error taxonomy in spec §4.6 and extend to every Kind so the
// generic `error{code,message}` frame (spec §4.10.2) has one source of truth.
var wsCode = map[Kind]string{
	KindManifestNotFound:       "MANIFEST_NOT_FOUND",
	KindManifestDownloadFailed: "MANIFEST_DOWNLOAD_FAILED",
	KindOwnerMismatch:          "OWNER_MISMATCH",
	KindDecryptionFailed:       "DECRYPTION_FAILED",
	KindDimensionMismatch:      "DIMENSION_MISMATCH",
	KindMemoryLimitExceeded:    "MEMORY_LIMIT_EXCEEDED",
	KindRateLimitExceeded:      "RATE_LIMIT_EXCEEDED",
	KindTimeout:                "TIMEOUT",
	KindInvalidPath:            "INVALID_PATH",
	KindInvalidSessionKey:      "INVALID_SESSION_KEY",
	KindEmptyDatabase:          "EMPTY_DATABASE",
	KindChunkDownloadFailed:    "CHUNK_DOWNLOAD_FAILED",
	KindIndexBuildFailed:       "INDEX_BUILD_FAILED",
	KindSessionNotFound:        "SESSION_NOT_FOUND",
	KindInvalidSignature:       "INVALID_SIGNATURE",
	KindInvalidNonceSize:       "INVALID_NONCE_SIZE",
	KindAeadAuthFailed:         "AEAD_AUTH_FAILED",
	KindEmptyTexts:             "EMPTY_TEXTS",
	KindTooManyTexts:           "TOO_MANY_TEXTS",
	KindTextTooLong:            "TEXT_TOO_LONG",
	KindInvalidChainId:         "INVALID_CHAIN_ID",
	KindInvalidHexEncoding:     "INVALID_HEX_ENCODING",
	KindEncryptionNotSupported: "ENCRYPTION_NOT_SUPPORTED",
	KindSessionKeyNotFound:     "SESSION_KEY_NOT_FOUND",
	KindModelNotFound:          "MODEL_NOT_FOUND",
	KindRpcTransient:           "RPC_TRANSIENT",
	KindContractRevert:         "CONTRACT_REVERT",
	KindInternalError:          "INTERNAL_ERROR",
}

// WSCode maps a Kind to the wire code used in vector_loading_error and error
// frames. Unknown kinds map to INTERNAL_ERROR.
func WSCode(k Kind) string {
	if c, ok := wsCode[k]; ok {
		return c
	}
	return "INTERNAL_ERROR"
}
