package finding

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexscan/api/pkg/domain/shared"
)

func TestNewComment(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name      string
		findingID shared.ID
		authorID  shared.ID
		content   string
		wantErr   error
	}{
		{name: "valid", findingID: shared.NewID(), authorID: shared.NewID(), content: "  retest scheduled  "},
		{name: "blank", findingID: shared.NewID(), authorID: shared.NewID(), content: " \n\t", wantErr: ErrCommentEmpty},
		{name: "max length in runes", findingID: shared.NewID(), authorID: shared.NewID(), content: strings.Repeat("é", MaxCommentLength)},
		{name: "too long", findingID: shared.NewID(), authorID: shared.NewID(), content: strings.Repeat("a", MaxCommentLength+1), wantErr: ErrCommentTooLong},
		{name: "no finding", authorID: shared.NewID(), content: "x", wantErr: shared.ErrValidation},
		{name: "no author", findingID: shared.NewID(), content: "x", wantErr: shared.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewComment(tt.findingID, tt.authorID, tt.content, true, at)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.content), c.Content())
			assert.True(t, c.IsInternal())
			assert.Equal(t, time.UTC, c.CreatedAt().Location())
			assert.False(t, c.ID().IsZero())
		})
	}
}
