package finding

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vexscan/api/pkg/domain/shared"
)

// MaxCommentLength bounds a discussion comment, in characters.
const MaxCommentLength = 10000

// Comment is a discussion entry on a finding. Internal comments are meant
// for the security team and are flagged so clients can keep them out of
// customer-facing views. AuthorName is only set on comments read from
// storage.
type Comment struct {
	id         shared.ID
	findingID  shared.ID
	content    string
	internal   bool
	authorID   shared.ID
	authorName string
	createdAt  time.Time
}

// NewComment creates a comment. Content is trimmed and must not be blank.
func NewComment(findingID, authorID shared.ID, content string, internal bool, at time.Time) (*Comment, error) {
	if findingID.IsZero() {
		return nil, fmt.Errorf("%w: finding ID is required", shared.ErrValidation)
	}
	if authorID.IsZero() {
		return nil, fmt.Errorf("%w: author is required", shared.ErrValidation)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrCommentEmpty
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return nil, shared.Wrapf(ErrCommentTooLong, "%d characters", utf8.RuneCountInString(content))
	}

	return &Comment{
		id:        shared.NewID(),
		findingID: findingID,
		content:   content,
		internal:  internal,
		authorID:  authorID,
		createdAt: at.UTC(),
	}, nil
}

// ReconstituteComment recreates a Comment from persistence.
func ReconstituteComment(id, findingID shared.ID, content string, internal bool, authorID shared.ID, authorName string, createdAt time.Time) *Comment {
	return &Comment{
		id:         id,
		findingID:  findingID,
		content:    content,
		internal:   internal,
		authorID:   authorID,
		authorName: authorName,
		createdAt:  createdAt,
	}
}

func (c *Comment) ID() shared.ID        { return c.id }
func (c *Comment) FindingID() shared.ID { return c.findingID }
func (c *Comment) Content() string      { return c.content }
func (c *Comment) IsInternal() bool     { return c.internal }
func (c *Comment) AuthorID() shared.ID  { return c.authorID }
func (c *Comment) AuthorName() string   { return c.authorName }
func (c *Comment) CreatedAt() time.Time { return c.createdAt }
