package cli

import (
	"errors"

	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/txn"
)

// Error codes for structured error responses.
// These codes are stable and can be relied upon by agents.
const (
	// Project errors
	ErrProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrProjectStructure = "PROJECT_STRUCTURE_ERROR"
	ErrConfigInvalid    = "CONFIG_INVALID"

	// Rename and validation errors
	ErrStructural       = "STRUCTURAL_ERROR"
	ErrReference        = "REFERENCE_ERROR"
	ErrQuoting          = "QUOTING_ERROR"
	ErrValidationFailed = "VALIDATION_FAILED"

	// Transaction errors
	ErrConcurrency  = "CONCURRENCY_ERROR"
	ErrNotFound     = "NOT_FOUND"
	ErrBackupFailed = "BACKUP_FAILED"

	// File errors
	ErrFileReadError = "FILE_READ_ERROR"

	// Input errors
	ErrInvalidInput    = "INVALID_INPUT"
	ErrMissingArgument = "MISSING_ARGUMENT"

	// General errors
	ErrInternal = "INTERNAL_ERROR"
)

// Warning codes for non-fatal issues.
const (
	WarnSkippedFiles = "SKIPPED_FILES"
	WarnNoChanges    = "NO_CHANGES"
)

// errorCode maps an engine error to its stable code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, txn.ErrValidationGate):
		return ErrValidationFailed
	case errors.Is(err, model.ErrConcurrency):
		return ErrConcurrency
	case errors.Is(err, model.ErrBackupFailed):
		return ErrBackupFailed
	case errors.Is(err, model.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, model.ErrProjectStructure):
		return ErrProjectStructure
	case errors.Is(err, model.ErrStructural):
		return ErrStructural
	case errors.Is(err, model.ErrReference):
		return ErrReference
	case errors.Is(err, model.ErrQuoting):
		return ErrQuoting
	case errors.Is(err, model.ErrIO):
		return ErrFileReadError
	default:
		return ErrInternal
	}
}

// errorDetails exposes what a transaction failure touched.
func errorDetails(err error) interface{} {
	var txErr *txn.TransactionError
	if !errors.As(err, &txErr) {
		return nil
	}
	return map[string]interface{}{
		"transaction": txErr.ID,
		"state":       txErr.State.String(),
		"files":       txErr.Files,
		"findings":    txErr.Findings,
	}
}

// handleEngineError reports err with the code derived from it.
func handleEngineError(err error, suggestion string) error {
	if details := errorDetails(err); details != nil {
		return handleErrorWithDetails(errorCode(err), err.Error(), suggestion, details)
	}
	return handleError(errorCode(err), err, suggestion)
}
