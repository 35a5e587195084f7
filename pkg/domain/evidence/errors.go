package evidence

import (
	"errors"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Domain errors for evidence bundles.
var (
	ErrEvidenceNotFound = shared.NewDomainError("NOT_FOUND", "evidence not found", shared.ErrNotFound)
	ErrFileNotFound     = shared.NewDomainError("NOT_FOUND", "evidence file not found", shared.ErrNotFound)
	// ErrBlobMissing is returned by blob storage for an absent object.
	ErrBlobMissing = shared.NewDomainError("NOT_FOUND", "evidence file content not found", shared.ErrNotFound)

	ErrNoFiles   = shared.NewDomainError("VALIDATION_ERROR", "at least one file is required", shared.ErrValidation)
	ErrTooMany   = shared.NewDomainError("VALIDATION_ERROR", "too many files in one upload", shared.ErrValidation)
	ErrBadFile   = shared.NewDomainError("VALIDATION_ERROR", "invalid file descriptor", shared.ErrValidation)
	ErrBadLabel  = shared.NewDomainError("VALIDATION_ERROR", "invalid label", shared.ErrValidation)
	ErrLastFile  = shared.NewDomainError("LAST_FILE", "cannot remove the last file; delete the evidence instead", shared.ErrValidation)
	ErrTooLarge  = shared.NewDomainError("FILE_TOO_LARGE", "file exceeds the maximum allowed size", shared.ErrValidation)
	ErrFileType  = shared.NewDomainError("FILE_TYPE_NOT_ALLOWED", "file type is not allowed", shared.ErrValidation)
	ErrMismatch  = shared.NewDomainError("STATUS_CHANGE_MISMATCH", "status change belongs to a different finding", shared.ErrValidation)
	ErrLinked    = shared.NewDomainError("VALIDATION_ERROR", "evidence is already linked to a status change", shared.ErrValidation)
	ErrNotAuthor = shared.NewDomainError("PERMISSION_DENIED", "only the uploader or an administrator may modify this evidence", shared.ErrForbidden)
)

// IsEvidenceNotFound checks if the error is an evidence not found error.
func IsEvidenceNotFound(err error) bool {
	return errors.Is(err, ErrEvidenceNotFound)
}

// IsFileNotFound checks if the error is an evidence file not found error.
func IsFileNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}

// IsLastFile checks if the error rejects removal of the only remaining file.
func IsLastFile(err error) bool {
	return errors.Is(err, ErrLastFile)
}
