package evidence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
)

// Bundle is one evidence upload: an ordered, never empty list of files that
// share a description, comments, type and labels. It may reference the
// status change it proves.
type Bundle struct {
	id                    shared.ID
	findingID             shared.ID
	files                 []FileRef
	description           string
	comments              string
	evidenceType          string
	labels                []Label
	relatedStatusChangeID *shared.ID
	uploadedBy            shared.ID
	uploadedByName        string
	active                bool
	createdAt             time.Time
	updatedAt             time.Time
	deletedAt             *time.Time
	deletedBy             *shared.ID
	purgedAt              *time.Time
}

// NewBundleParams holds the inputs of NewBundle.
type NewBundleParams struct {
	FindingID    shared.ID
	Files        []FileRef
	Description  string
	Comments     string
	EvidenceType string
	Labels       []Label
	// StatusChange is the resolved transition the bundle proves, if any.
	StatusChange *finding.StatusChange
	UploadedBy   shared.ID
}

// NewBundle creates an active bundle. A StatusChange of another finding is
// rejected here so a persisted bundle can never point across findings.
func NewBundle(p NewBundleParams) (*Bundle, error) {
	if p.FindingID.IsZero() {
		return nil, fmt.Errorf("%w: finding ID is required", shared.ErrValidation)
	}
	if p.UploadedBy.IsZero() {
		return nil, fmt.Errorf("%w: uploader is required", shared.ErrValidation)
	}
	if len(p.Files) == 0 {
		return nil, ErrNoFiles
	}

	files := make([]FileRef, 0, len(p.Files))
	for i, f := range p.Files {
		v, err := NewFileRef(f.Name, f.Path, f.Size, f.Type, f.Hash)
		if err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}
		files = append(files, v)
	}

	labels, err := ValidateLabels(p.Labels)
	if err != nil {
		return nil, err
	}

	var related *shared.ID
	if p.StatusChange != nil {
		if !p.StatusChange.BelongsTo(p.FindingID) {
			return nil, shared.Wrapf(ErrMismatch, "status change %s", p.StatusChange.ID())
		}
		related = p.StatusChange.ID().Ptr()
	}

	now := time.Now().UTC()
	return &Bundle{
		id:                    shared.NewID(),
		findingID:             p.FindingID,
		files:                 files,
		description:           strings.TrimSpace(p.Description),
		comments:              strings.TrimSpace(p.Comments),
		evidenceType:          strings.TrimSpace(p.EvidenceType),
		labels:                labels,
		relatedStatusChangeID: related,
		uploadedBy:            p.UploadedBy,
		active:                true,
		createdAt:             now,
		updatedAt:             now,
	}, nil
}

// ReconstituteParams holds the persisted state of a bundle.
type ReconstituteParams struct {
	ID                    shared.ID
	FindingID             shared.ID
	Files                 []FileRef
	Description           string
	Comments              string
	EvidenceType          string
	Labels                []Label
	RelatedStatusChangeID *shared.ID
	UploadedBy            shared.ID
	UploadedByName        string
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
	DeletedBy             *shared.ID
	PurgedAt              *time.Time
}

// Reconstitute recreates a bundle from persistence.
func Reconstitute(p ReconstituteParams) *Bundle {
	return &Bundle{
		id:                    p.ID,
		findingID:             p.FindingID,
		files:                 p.Files,
		description:           p.Description,
		comments:              p.Comments,
		evidenceType:          p.EvidenceType,
		labels:                p.Labels,
		relatedStatusChangeID: p.RelatedStatusChangeID,
		uploadedBy:            p.UploadedBy,
		uploadedByName:        p.UploadedByName,
		active:                p.Active,
		createdAt:             p.CreatedAt,
		updatedAt:             p.UpdatedAt,
		deletedAt:             p.DeletedAt,
		deletedBy:             p.DeletedBy,
		purgedAt:              p.PurgedAt,
	}
}

func (b *Bundle) ID() shared.ID                     { return b.id }
func (b *Bundle) FindingID() shared.ID              { return b.findingID }
func (b *Bundle) Description() string               { return b.description }
func (b *Bundle) Comments() string                  { return b.comments }
func (b *Bundle) EvidenceType() string              { return b.evidenceType }
func (b *Bundle) RelatedStatusChangeID() *shared.ID { return b.relatedStatusChangeID }
func (b *Bundle) UploadedBy() shared.ID             { return b.uploadedBy }
func (b *Bundle) UploadedByName() string            { return b.uploadedByName }
func (b *Bundle) IsActive() bool                    { return b.active }
func (b *Bundle) CreatedAt() time.Time              { return b.createdAt }
func (b *Bundle) UpdatedAt() time.Time              { return b.updatedAt }
func (b *Bundle) DeletedAt() *time.Time             { return b.deletedAt }
func (b *Bundle) DeletedBy() *shared.ID             { return b.deletedBy }
func (b *Bundle) PurgedAt() *time.Time              { return b.purgedAt }

// Files returns a copy of the file list in upload order.
func (b *Bundle) Files() []FileRef {
	return slices.Clone(b.files)
}

// FileCount returns the number of files.
func (b *Bundle) FileCount() int {
	return len(b.files)
}

// Labels returns a copy of the labels.
func (b *Bundle) Labels() []Label {
	return slices.Clone(b.labels)
}

// Paths returns the storage paths of all files.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.files))
	for _, f := range b.files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Hashes returns the content hashes of all files that have one.
func (b *Bundle) Hashes() []string {
	hashes := make([]string, 0, len(b.files))
	for _, f := range b.files {
		if f.Hash != "" {
			hashes = append(hashes, f.Hash)
		}
	}
	return hashes
}

// FindFile looks up a file by content hash.
func (b *Bundle) FindFile(hash string) (FileRef, bool) {
	for _, f := range b.files {
		if f.MatchesHash(hash) {
			return f, true
		}
	}
	return FileRef{}, false
}

// IsLinkedTo reports whether the bundle proves the given status change.
func (b *Bundle) IsLinkedTo(statusChangeID shared.ID) bool {
	return b.relatedStatusChangeID != nil && b.relatedStatusChangeID.Equals(statusChangeID)
}

// GroupKey is the text of the first label, or UntaggedGroup.
func (b *Bundle) GroupKey() string {
	if len(b.labels) == 0 {
		return UntaggedGroup
	}
	return b.labels[0].Text
}

// RemoveFile drops the first file with the given hash and returns it. The
// last remaining file cannot be removed; soft delete the bundle instead.
func (b *Bundle) RemoveFile(hash string) (FileRef, error) {
	if !b.active {
		return FileRef{}, ErrEvidenceNotFound
	}
	idx := slices.IndexFunc(b.files, func(f FileRef) bool { return f.MatchesHash(hash) })
	if idx < 0 {
		return FileRef{}, shared.Wrapf(ErrFileNotFound, "hash %s", hash)
	}
	if len(b.files) == 1 {
		return FileRef{}, ErrLastFile
	}

	removed := b.files[idx]
	b.files = slices.Delete(slices.Clone(b.files), idx, idx+1)
	b.updatedAt = time.Now().UTC()
	return removed, nil
}

// SoftDelete deactivates the bundle and returns its files so the caller can
// clean up blob storage. The row itself is kept.
func (b *Bundle) SoftDelete(by shared.ID, at time.Time) ([]FileRef, error) {
	if !b.active {
		return nil, ErrEvidenceNotFound
	}
	at = at.UTC()
	b.active = false
	b.deletedAt = &at
	b.deletedBy = &by
	b.updatedAt = at
	return b.Files(), nil
}

// LinkTo attaches an unlinked bundle to a status change of the same finding.
func (b *Bundle) LinkTo(change *finding.StatusChange) error {
	if change == nil {
		return fmt.Errorf("%w: status change is required", shared.ErrValidation)
	}
	if !change.BelongsTo(b.findingID) {
		return shared.Wrapf(ErrMismatch, "status change %s", change.ID())
	}
	if b.relatedStatusChangeID != nil {
		if b.relatedStatusChangeID.Equals(change.ID()) {
			return nil
		}
		return ErrLinked
	}
	b.relatedStatusChangeID = change.ID().Ptr()
	b.updatedAt = time.Now().UTC()
	return nil
}

// MetadataUpdate lists the editable attributes; nil fields are unchanged.
type MetadataUpdate struct {
	Description  *string
	Comments     *string
	EvidenceType *string
	Labels       *[]Label
}

// UpdateMetadata edits the shared description, comments, type and labels.
func (b *Bundle) UpdateMetadata(u MetadataUpdate) error {
	if !b.active {
		return ErrEvidenceNotFound
	}
	if u.Labels != nil {
		labels, err := ValidateLabels(*u.Labels)
		if err != nil {
			return err
		}
		b.labels = labels
	}
	if u.Description != nil {
		b.description = strings.TrimSpace(*u.Description)
	}
	if u.Comments != nil {
		b.comments = strings.TrimSpace(*u.Comments)
	}
	if u.EvidenceType != nil {
		b.evidenceType = strings.TrimSpace(*u.EvidenceType)
	}
	b.updatedAt = time.Now().UTC()
	return nil
}

// MarkPurged records that blob storage no longer holds the bundle's files.
func (b *Bundle) MarkPurged(at time.Time) {
	at = at.UTC()
	b.purgedAt = &at
}
