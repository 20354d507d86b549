// Package apperrors provides the tagged error kinds used across the
// indexing pipeline, mapped to the error-handling policy table: each kind
// carries whether the caller should treat it as recoverable (skip the file,
// continue the batch) or fatal (abort the batch, leave the ledger untouched).
package apperrors

import (
	"errors"
	"fmt"
)

// Code names a semantic error kind.
type Code string

const (
	CodeFileRead         Code = "FILE_READ_ERROR"
	CodeParseSyntax      Code = "PARSE_SYNTAX_ERROR"
	CodeOrphanRelation   Code = "ORPHAN_RELATION"
	CodeEmbedding        Code = "EMBEDDING_ERROR"
	CodeStoreUpsert      Code = "STORE_UPSERT_ERROR"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeLedgerCorrupt    Code = "LEDGER_CORRUPT"
	CodeConfigInvalid    Code = "CONFIG_INVALID"
	CodeSignatureWrite   Code = "SIGNATURE_WRITE_ERROR"
)

// IndexError is the standard error shape produced anywhere in the pipeline.
type IndexError struct {
	Code       Code
	Message    string
	Path       string // file or collection the error concerns, if any
	Recoverable bool  // true: record and continue; false: abort the batch
	Cause      error
}

func (e *IndexError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *IndexError) Unwrap() error { return e.Cause }

// recoverableByDefault maps each code to its policy from the error table:
// file/parse/orphan problems are recoverable (the batch continues); store,
// embedding, and ledger problems are not.
var recoverableByDefault = map[Code]bool{
	CodeFileRead:         true,
	CodeParseSyntax:      true,
	CodeOrphanRelation:    true,
	CodeEmbedding:        false,
	CodeStoreUpsert:      false,
	CodeStoreUnavailable: true, // development/test only: logged critical, treated as a no-op
	CodeLedgerCorrupt:    true, // treated as empty ledger, not fatal
	CodeConfigInvalid:    false,
	CodeSignatureWrite:   true,
}

// New builds an IndexError, applying the default recoverability for code.
func New(code Code, path, message string, cause error) *IndexError {
	return &IndexError{
		Code:        code,
		Message:     message,
		Path:        path,
		Recoverable: recoverableByDefault[code],
		Cause:       cause,
	}
}

// Is supports errors.Is comparisons by Code.
func Is(err error, code Code) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// Recoverable reports whether err (if it is an *IndexError) should allow the
// batch to continue. Non-IndexError values are treated as recoverable by
// callers only when they explicitly know better; this helper defaults to
// false for unknown error shapes so unexpected errors fail closed.
func Recoverable(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Recoverable
	}
	return false
}
