package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status FINDING_ID STATUS",
	Short: "Change a finding's status",
	Long: `Change a finding's status. Closing statuses (Mitigated, Accepted Risk,
False Positive, Not Observed) need a comment of at least 10 characters, and
Mitigated needs evidence: use "vexctl close" to attach it in one step.`,
	Example: `  vexctl status 3f1c... "In Progress" --comment "triaging"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runStatus,
}

var closeCmd = &cobra.Command{
	Use:     "close FINDING_ID STATUS --comment TEXT --file PATH...",
	Short:   "Close a finding and upload the evidence that justifies it",
	Example: `  vexctl close 3f1c... Mitigated --comment "patched in 2.4.1" --file retest.pdf --tag retest`,
	Args:    cobra.ExactArgs(2),
	RunE:    runClose,
}

func init() {
	statusCmd.Flags().String("comment", "", "Justification recorded in the history")

	closeCmd.Flags().String("comment", "", "Justification recorded in the history")
	closeCmd.Flags().StringSliceP("file", "f", nil, "Evidence file (repeatable)")
	closeCmd.Flags().String("description", "", "Evidence description")
	closeCmd.Flags().String("type", "", "Evidence type, e.g. retest, screenshot")
	closeCmd.Flags().StringSlice("tag", nil, "Evidence label (repeatable)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	comment, _ := cmd.Flags().GetString("comment")

	data, err := client.Put(cmd.Context(), "/api/v1/findings/"+url.PathEscape(args[0])+"/status", map[string]string{
		"status":  args[1],
		"comment": comment,
	})
	if err != nil {
		return err
	}
	var resp dataEnvelope[StatusChangeResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp.Data, func() { printTransition(resp.Data) })
}

func runClose(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	files, _ := cmd.Flags().GetStringSlice("file")
	comment, _ := cmd.Flags().GetString("comment")
	description, _ := cmd.Flags().GetString("description")
	evidenceType, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	data, err := client.Upload(cmd.Context(), "/api/v1/findings/"+url.PathEscape(args[0])+"/complete-with-evidence",
		map[string]string{
			"status":        args[1],
			"comment":       comment,
			"description":   description,
			"evidence_type": evidenceType,
			"tags":          strings.Join(tags, ","),
		}, files)
	if err != nil {
		return err
	}
	var resp dataEnvelope[CompleteResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp.Data, func() {
		printTransition(resp.Data.StatusChange)
		fmt.Fprintf(stdout, "Evidence %s stored with %d file(s).\n", resp.Data.Evidence.ID, resp.Data.Evidence.FileCount)
	})
}

func printTransition(c StatusChangeResponse) {
	fmt.Fprintf(stdout, "%s: %s -> %s (change %s)\n", c.FindingID, c.FromStatus, c.ToStatus, c.StatusChangeID)
	if c.TimeToMitigateHours != nil {
		fmt.Fprintf(stdout, "Time to mitigate: %s\n", hours(c.TimeToMitigateHours))
	}
}
