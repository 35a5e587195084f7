package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show findings, status history and evidence",
}

var getFindingsCmd = &cobra.Command{
	Use:     "findings",
	Aliases: []string{"finding"},
	Short:   "List findings of a workspace, or show one finding by id",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runGetFindings,
}

var getHistoryCmd = &cobra.Command{
	Use:   "history FINDING_ID",
	Short: "Show a finding's status history with linked evidence",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetHistory,
}

var getTimelineCmd = &cobra.Command{
	Use:   "timeline FINDING_ID",
	Short: "Show status changes, comments and evidence uploads of a finding",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetTimeline,
}

var getEvidenceCmd = &cobra.Command{
	Use:   "evidence FINDING_ID",
	Short: "List active evidence of a finding",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetEvidence,
}

func init() {
	getFindingsCmd.Flags().String("workspace", "", "Workspace ID (required when listing)")
	getFindingsCmd.Flags().StringSlice("status", nil, "Filter by status (repeatable)")
	getFindingsCmd.Flags().StringSlice("severity", nil, "Filter by severity (repeatable)")
	getFindingsCmd.Flags().String("search", "", "Search title and description")
	getFindingsCmd.Flags().String("sort", "", "Sort fields, e.g. -created_at,severity")
	getFindingsCmd.Flags().Int("page", 1, "Page number")
	getFindingsCmd.Flags().Int("per-page", 20, "Items per page")

	getHistoryCmd.Flags().Int("page", 1, "Page number")
	getHistoryCmd.Flags().Int("per-page", 20, "Items per page")

	getEvidenceCmd.Flags().Bool("grouped", false, "Group by first label")

	getCmd.AddCommand(getFindingsCmd, getHistoryCmd, getTimelineCmd, getEvidenceCmd)
}

func pageParams(cmd *cobra.Command, params url.Values) {
	if v, _ := cmd.Flags().GetInt("page"); v > 0 {
		params.Set("page", strconv.Itoa(v))
	}
	if v, _ := cmd.Flags().GetInt("per-page"); v > 0 {
		params.Set("per_page", strconv.Itoa(v))
	}
}

func runGetFindings(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		data, err := client.Get(cmd.Context(), "/api/v1/findings/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var resp dataEnvelope[FindingResponse]
		if err := decode(data, &resp); err != nil {
			return err
		}
		f := resp.Data
		return render(f, func() {
			fmt.Fprintf(stdout, "ID:                %s\n", f.ID)
			fmt.Fprintf(stdout, "Title:             %s\n", f.Title)
			fmt.Fprintf(stdout, "Severity:          %s\n", f.Severity)
			fmt.Fprintf(stdout, "Status:            %s\n", f.Status)
			fmt.Fprintf(stdout, "Status changed:    %s\n", shortTime(ptrStr(f.StatusChangedAt)))
			fmt.Fprintf(stdout, "Mitigated:         %s\n", shortTime(ptrStr(f.MitigatedAt)))
			fmt.Fprintf(stdout, "Time to mitigate:  %s\n", hours(f.TimeToMitigateHours))
		})
	}

	ws, _ := cmd.Flags().GetString("workspace")
	if ws == "" {
		return fmt.Errorf("--workspace is required when listing findings")
	}
	params := url.Values{"workspace_id": {ws}}
	if v, _ := cmd.Flags().GetStringSlice("status"); len(v) > 0 {
		params.Set("status", strings.Join(v, ","))
	}
	if v, _ := cmd.Flags().GetStringSlice("severity"); len(v) > 0 {
		params.Set("severity", strings.Join(v, ","))
	}
	if v, _ := cmd.Flags().GetString("search"); v != "" {
		params.Set("search", v)
	}
	if v, _ := cmd.Flags().GetString("sort"); v != "" {
		params.Set("sort", v)
	}
	pageParams(cmd, params)

	data, err := client.Get(cmd.Context(), "/api/v1/findings?"+params.Encode())
	if err != nil {
		return err
	}
	var resp listEnvelope[FindingResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp, func() {
		t := newTable("ID", "SEVERITY", "STATUS", "TITLE", "TTM")
		for _, f := range resp.Data {
			t.AddRow(f.ID, f.Severity, f.Status, truncate(f.Title, 60), hours(f.TimeToMitigateHours))
		}
		t.Flush()
		printPagination(resp.Pagination)
	})
}

func runGetHistory(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	params := url.Values{}
	pageParams(cmd, params)

	data, err := client.Get(cmd.Context(), "/api/v1/findings/"+url.PathEscape(args[0])+"/status-history?"+params.Encode())
	if err != nil {
		return err
	}
	var resp listEnvelope[HistoryEntryResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp, func() {
		t := newTable("WHEN", "FROM", "TO", "BY", "EVIDENCE", "COMMENT")
		for _, e := range resp.Data {
			t.AddRow(shortTime(e.CreatedAt), ptrStr(e.FromStatus), e.ToStatus,
				e.ChangedByName, strconv.Itoa(e.EvidenceCount), truncate(e.Comment, 50))
		}
		t.Flush()
		printPagination(resp.Pagination)
	})
}

func runGetTimeline(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	data, err := client.Get(cmd.Context(), "/api/v1/findings/"+url.PathEscape(args[0])+"/history")
	if err != nil {
		return err
	}
	var resp dataEnvelope[[]ActivityResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp.Data, func() {
		if len(resp.Data) == 0 {
			fmt.Fprintln(stdout, "No activity.")
			return
		}
		t := newTable("WHEN", "TYPE", "BY", "DETAIL")
		for _, a := range resp.Data {
			t.AddRow(shortTime(a.CreatedAt), a.Type, a.ActorName, truncate(a.Summary(), 70))
		}
		t.Flush()
	})
}

type evidenceGroup struct {
	Group    string             `json:"group" yaml:"group"`
	Count    int                `json:"count" yaml:"count"`
	Evidence []EvidenceResponse `json:"evidence" yaml:"evidence"`
}

func runGetEvidence(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := "/api/v1/evidence/findings/" + url.PathEscape(args[0])

	if grouped, _ := cmd.Flags().GetBool("grouped"); grouped {
		data, err := client.Get(cmd.Context(), path+"/grouped")
		if err != nil {
			return err
		}
		var resp dataEnvelope[[]evidenceGroup]
		if err := decode(data, &resp); err != nil {
			return err
		}
		return render(resp.Data, func() {
			t := newTable("GROUP", "COUNT", "EVIDENCE IDS")
			for _, g := range resp.Data {
				ids := make([]string, len(g.Evidence))
				for i, e := range g.Evidence {
					ids[i] = e.ID
				}
				t.AddRow(g.Group, strconv.Itoa(g.Count), strings.Join(ids, ","))
			}
			t.Flush()
		})
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var resp dataEnvelope[[]EvidenceResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	return render(resp.Data, func() {
		t := newTable("ID", "FILES", "LABELS", "LINKED CHANGE", "UPLOADED", "DESCRIPTION")
		for _, e := range resp.Data {
			t.AddRow(e.ID, strconv.Itoa(e.FileCount), labelTexts(e.Labels),
				ptrStr(e.RelatedStatusChangeID), shortTime(e.CreatedAt), truncate(e.Description, 40))
		}
		t.Flush()
	})
}
