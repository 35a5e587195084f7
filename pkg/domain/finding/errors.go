package finding

import (
	"errors"
	"fmt"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Domain errors for findings and their status history.
var (
	ErrFindingNotFound = shared.NewDomainError("NOT_FOUND", "finding not found", shared.ErrNotFound)

	ErrStatusChangeNotFound = shared.NewDomainError("NOT_FOUND", "status change not found", shared.ErrNotFound)

	ErrNoOpTransition = shared.NewDomainError("NO_OP_TRANSITION",
		"finding already has the requested status", shared.ErrValidation)

	ErrCommentRequired = shared.NewDomainError("COMMENT_REQUIRED",
		fmt.Sprintf("a comment of at least %d characters is required for this status", MinJustificationLength),
		shared.ErrValidation)

	ErrEvidenceRequired = shared.NewDomainError("EVIDENCE_REQUIRED",
		"status Mitigated requires at least one evidence record", shared.ErrValidation)

	ErrInvalidStatus = shared.NewDomainError("INVALID_STATUS", "invalid status", shared.ErrValidation)

	ErrCommentEmpty = shared.NewDomainError("COMMENT_REQUIRED", "comment content is required", shared.ErrValidation)

	ErrCommentTooLong = shared.NewDomainError("VALIDATION_ERROR",
		fmt.Sprintf("comment is longer than %d characters", MaxCommentLength), shared.ErrValidation)
)

// NewFindingNotFoundError creates a finding not found error carrying the id.
func NewFindingNotFoundError(id shared.ID) error {
	return shared.Wrapf(ErrFindingNotFound, "%s", id)
}

// NewStatusChangeNotFoundError creates a status change not found error carrying the id.
func NewStatusChangeNotFoundError(id shared.ID) error {
	return shared.Wrapf(ErrStatusChangeNotFound, "%s", id)
}

// IsFindingNotFound checks if the error is a finding not found error.
func IsFindingNotFound(err error) bool {
	return errors.Is(err, ErrFindingNotFound)
}

// IsStatusChangeNotFound checks if the error is a status change not found error.
func IsStatusChangeNotFound(err error) bool {
	return errors.Is(err, ErrStatusChangeNotFound)
}
