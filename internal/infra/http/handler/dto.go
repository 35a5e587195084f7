package handler

import (
	"time"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
)

// FindingResponse represents a finding in API responses.
type FindingResponse struct {
	ID                  shared.ID  `json:"id"`
	WorkspaceID         shared.ID  `json:"workspace_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Severity            string     `json:"severity"`
	Status              string     `json:"status"`
	FirstSeenAt         time.Time  `json:"first_seen_at"`
	LastSeenAt          time.Time  `json:"last_seen_at"`
	StatusChangedAt     *time.Time `json:"status_changed_at,omitempty"`
	MitigatedAt         *time.Time `json:"mitigated_at,omitempty"`
	TimeToMitigateHours *float64   `json:"time_to_mitigate_hours,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toFindingResponse(f *finding.Finding) FindingResponse {
	return FindingResponse{
		ID:                  f.ID(),
		WorkspaceID:         f.WorkspaceID(),
		Title:               f.Title(),
		Description:         f.Description(),
		Severity:            f.Severity().String(),
		Status:              f.Status().String(),
		FirstSeenAt:         f.FirstSeenAt(),
		LastSeenAt:          f.LastSeenAt(),
		StatusChangedAt:     f.StatusChangedAt(),
		MitigatedAt:         f.MitigatedAt(),
		TimeToMitigateHours: f.TimeToMitigateHours(),
		CreatedAt:           f.CreatedAt(),
		UpdatedAt:           f.UpdatedAt(),
	}
}

// StatusChangeResponse is the result of a transition.
type StatusChangeResponse struct {
	FindingID           shared.ID `json:"finding_id"`
	FromStatus          string    `json:"from_status"`
	ToStatus            string    `json:"to_status"`
	StatusChangeID      shared.ID `json:"status_change_id"`
	Comment             string    `json:"comment"`
	ChangedBy           shared.ID `json:"changed_by"`
	ChangedAt           time.Time `json:"changed_at"`
	TimeToMitigateHours *float64  `json:"time_to_mitigate_hours,omitempty"`
}

func toStatusChangeResponse(r *app.StatusChangeResult) StatusChangeResponse {
	return StatusChangeResponse{
		FindingID:           r.FindingID,
		FromStatus:          r.FromStatus.String(),
		ToStatus:            r.ToStatus.String(),
		StatusChangeID:      r.StatusChangeID,
		Comment:             r.Comment,
		ChangedBy:           r.ChangedBy,
		ChangedAt:           r.ChangedAt,
		TimeToMitigateHours: r.TimeToMitigateHours,
	}
}

// EvidenceResponse represents an evidence bundle.
type EvidenceResponse struct {
	ID                    shared.ID          `json:"id"`
	FindingID             shared.ID          `json:"finding_id"`
	Files                 []evidence.FileRef `json:"files"`
	FileCount             int                `json:"file_count"`
	Description           string             `json:"description"`
	Comments              string             `json:"comments"`
	EvidenceType          string             `json:"evidence_type,omitempty"`
	Labels                []evidence.Label   `json:"labels"`
	RelatedStatusChangeID *shared.ID         `json:"related_status_change_id"`
	UploadedBy            shared.ID          `json:"uploaded_by"`
	UploadedByName        string             `json:"uploaded_by_name,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

func toEvidenceResponse(b *evidence.Bundle) EvidenceResponse {
	labels := b.Labels()
	if labels == nil {
		labels = []evidence.Label{}
	}
	return EvidenceResponse{
		ID:                    b.ID(),
		FindingID:             b.FindingID(),
		Files:                 b.Files(),
		FileCount:             b.FileCount(),
		Description:           b.Description(),
		Comments:              b.Comments(),
		EvidenceType:          b.EvidenceType(),
		Labels:                labels,
		RelatedStatusChangeID: b.RelatedStatusChangeID(),
		UploadedBy:            b.UploadedBy(),
		UploadedByName:        b.UploadedByName(),
		CreatedAt:             b.CreatedAt(),
		UpdatedAt:             b.UpdatedAt(),
	}
}

func toEvidenceResponses(bundles []*evidence.Bundle) []EvidenceResponse {
	out := make([]EvidenceResponse, 0, len(bundles))
	for _, b := range bundles {
		out = append(out, toEvidenceResponse(b))
	}
	return out
}

// UploadResponse is a stored bundle plus the hashes that other active
// bundles of the finding already contain.
type UploadResponse struct {
	EvidenceResponse
	DuplicateHashes []string `json:"duplicate_hashes"`
}

// HistoryEntryResponse is one status change with the evidence linked to it.
type HistoryEntryResponse struct {
	ID            shared.ID          `json:"id"`
	FindingID     shared.ID          `json:"finding_id"`
	FromStatus    *string            `json:"from_status"`
	ToStatus      string             `json:"to_status"`
	Comment       string             `json:"comment"`
	ChangedBy     shared.ID          `json:"changed_by"`
	ChangedByName string             `json:"changed_by_name,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	Evidence      []EvidenceResponse `json:"evidence"`
	EvidenceCount int                `json:"evidence_count"`
}

func toHistoryEntryResponse(e app.HistoryEntry) HistoryEntryResponse {
	c := e.Change
	var from *string
	if s := c.FromStatus(); s != nil {
		v := s.String()
		from = &v
	}
	ev := toEvidenceResponses(e.Evidence)
	return HistoryEntryResponse{
		ID:            c.ID(),
		FindingID:     c.FindingID(),
		FromStatus:    from,
		ToStatus:      c.ToStatus().String(),
		Comment:       c.Comment(),
		ChangedBy:     c.ChangedBy(),
		ChangedByName: c.ChangedByName(),
		CreatedAt:     c.CreatedAt(),
		Evidence:      ev,
		EvidenceCount: len(ev),
	}
}

// CompleteWithEvidenceResponse carries both halves of the combined operation.
type CompleteWithEvidenceResponse struct {
	StatusChange StatusChangeResponse `json:"status_change"`
	Evidence     EvidenceResponse     `json:"evidence"`
}

// EvidenceGroupResponse is one label group.
type EvidenceGroupResponse struct {
	Group    string             `json:"group"`
	Count    int                `json:"count"`
	Evidence []EvidenceResponse `json:"evidence"`
}

// CommentResponse represents a finding comment.
type CommentResponse struct {
	ID         shared.ID `json:"id"`
	FindingID  shared.ID `json:"finding_id"`
	Content    string    `json:"content"`
	IsInternal bool      `json:"is_internal"`
	AuthorID   shared.ID `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toCommentResponse(c *finding.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID(),
		FindingID:  c.FindingID(),
		Content:    c.Content(),
		IsInternal: c.IsInternal(),
		AuthorID:   c.AuthorID(),
		AuthorName: c.AuthorName(),
		CreatedAt:  c.CreatedAt(),
	}
}

// TimelineStatusChange is the status change half of a timeline event.
type TimelineStatusChange struct {
	ID         shared.ID `json:"id"`
	FromStatus *string   `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Comment    string    `json:"comment"`
}

// ActivityResponse is one event of GET /findings/{id}/history. Only the
// member named by type is present.
type ActivityResponse struct {
	Type         string                `json:"type"`
	CreatedAt    time.Time             `json:"created_at"`
	ActorID      shared.ID             `json:"actor_id"`
	ActorName    string                `json:"actor_name,omitempty"`
	StatusChange *TimelineStatusChange `json:"status_change,omitempty"`
	Comment      *CommentResponse      `json:"comment,omitempty"`
	Evidence     *EvidenceResponse     `json:"evidence,omitempty"`
}

func toActivityResponse(e app.ActivityEntry) ActivityResponse {
	out := ActivityResponse{
		Type:      string(e.Kind),
		CreatedAt: e.At,
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
	}
	switch {
	case e.StatusChange != nil:
		c := e.StatusChange
		var from *string
		if s := c.FromStatus(); s != nil {
			v := s.String()
			from = &v
		}
		out.StatusChange = &TimelineStatusChange{ID: c.ID(), FromStatus: from, ToStatus: c.ToStatus().String(), Comment: c.Comment()}
	case e.Comment != nil:
		c := toCommentResponse(e.Comment)
		out.Comment = &c
	case e.Evidence != nil:
		b := toEvidenceResponse(e.Evidence)
		out.Evidence = &b
	}
	return out
}

// DeleteEvidenceResponse lists the files whose blobs are queued for purge.
type DeleteEvidenceResponse struct {
	ID           shared.ID          `json:"id"`
	DeletedFiles []evidence.FileRef `json:"deleted_files"`
}

// FormatsResponse describes the upload policy.
type FormatsResponse struct {
	Formats     []evidence.Format `json:"formats"`
	MIMETypes   []string          `json:"allowed_mime_types"`
	MaxFiles    int               `json:"max_files"`
	MaxFileSize int64             `json:"max_file_size"`
}

// ChangeStatusRequest is the body of PUT /findings/{id}/status.
type ChangeStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	Comment string `json:"comment" validate:"max=5000"`
}

// AddCommentRequest is the body of POST /findings/{id}/comments.
type AddCommentRequest struct {
	Content    string `json:"content" validate:"required,max=10000"`
	IsInternal bool   `json:"is_internal"`
}

// UpdateFindingRequest is the body of PATCH /findings/{id}.
type UpdateFindingRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=500"`
	Description *string `json:"description" validate:"omitempty,max=20000"`
	Severity    *string `json:"severity" validate:"omitempty,finding_severity"`
}

// UpdateEvidenceRequest is the body of PATCH /evidence/{evidence_id}.
type UpdateEvidenceRequest struct {
	Description  *string           `json:"description" validate:"omitempty,max=5000"`
	Comments     *string           `json:"comments" validate:"omitempty,max=10000"`
	EvidenceType *string           `json:"evidence_type" validate:"omitempty,max=100"`
	Labels       *[]evidence.Label `json:"labels" validate:"omitempty,max=50"`
}
