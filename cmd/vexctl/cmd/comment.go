package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var commentCmd = &cobra.Command{
	Use:     "comment FINDING_ID TEXT",
	Short:   "Comment on a finding",
	Example: `  vexctl comment 3f1c... "vendor confirmed the fix ships in 2.4.1" --internal`,
	Args:    cobra.ExactArgs(2),
	RunE:    runComment,
}

func init() {
	commentCmd.Flags().Bool("internal", false, "Mark the comment as internal to the security team")
}

func runComment(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	internal, _ := cmd.Flags().GetBool("internal")

	data, err := client.Post(cmd.Context(), "/api/v1/findings/"+url.PathEscape(args[0])+"/comments", map[string]any{
		"content":     args[1],
		"is_internal": internal,
	})
	if err != nil {
		return err
	}
	var resp dataEnvelope[CommentResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp.Data, func() {
		fmt.Fprintf(stdout, "Comment %s added.\n", resp.Data.ID)
	})
}
