package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FINDING_ID FILE...",
	Short: "Upload an evidence bundle to a finding",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runUpload,
}

var downloadCmd = &cobra.Command{
	Use:   "download EVIDENCE_ID FILE_HASH",
	Short: "Download one evidence file",
	Args:  cobra.ExactArgs(2),
	RunE:  runDownload,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete evidence or one of its files",
}

func init() {
	uploadCmd.Flags().String("description", "", "Evidence description")
	uploadCmd.Flags().String("comments", "", "Free-form comments")
	uploadCmd.Flags().String("type", "", "Evidence type, e.g. retest, screenshot")
	uploadCmd.Flags().StringSlice("tag", nil, "Evidence label (repeatable)")
	uploadCmd.Flags().String("link", "", "Status change ID to link the bundle to")

	downloadCmd.Flags().StringP("output-file", "O", "", "Write to this path instead of stdout")

	deleteCmd.AddCommand(&cobra.Command{
		Use:   "evidence FINDING_ID EVIDENCE_ID",
		Short: "Soft delete an evidence bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			path := "/api/v1/evidence/findings/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			data, err := client.Delete(cmd.Context(), path)
			if err != nil {
				return err
			}
			var resp dataEnvelope[DeleteEvidenceResponse]
			if err := decode(data, &resp); err != nil {
				return err
			}
			return render(resp.Data, func() {
				fmt.Fprintf(stdout, "Evidence %s deleted; %d file(s) queued for purge.\n", args[1], len(resp.Data.DeletedFiles))
				for _, f := range resp.Data.DeletedFiles {
					fmt.Fprintf(stdout, "  %s  %s\n", f.Hash, f.Name)
				}
			})
		},
	}, &cobra.Command{
		Use:   "file EVIDENCE_ID FILE_HASH",
		Short: "Remove one file from an evidence bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			path := "/api/v1/evidence/" + url.PathEscape(args[0]) + "/attachments/" + url.PathEscape(args[1])
			data, err := client.Delete(cmd.Context(), path)
			if err != nil {
				return err
			}
			var resp dataEnvelope[EvidenceResponse]
			if err := decode(data, &resp); err != nil {
				return err
			}
			return render(resp.Data, func() {
				fmt.Fprintf(stdout, "File removed; %d file(s) left.\n", resp.Data.FileCount)
			})
		},
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	description, _ := cmd.Flags().GetString("description")
	comments, _ := cmd.Flags().GetString("comments")
	evidenceType, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	link, _ := cmd.Flags().GetString("link")

	data, err := client.Upload(cmd.Context(), "/api/v1/evidence/findings/"+url.PathEscape(args[0])+"/upload",
		map[string]string{
			"description":              description,
			"comments":                 comments,
			"evidence_type":            evidenceType,
			"tags":                     strings.Join(tags, ","),
			"related_status_change_id": link,
		}, args[1:])
	if err != nil {
		return err
	}
	var resp dataEnvelope[EvidenceResponse]
	if err := decode(data, &resp); err != nil {
		return err
	}
	e := resp.Data
	return render(e, func() {
		fmt.Fprintf(stdout, "Evidence %s stored with %d file(s).\n", e.ID, e.FileCount)
		t := newTable("NAME", "SIZE", "TYPE", "HASH")
		for _, f := range e.Files {
			t.AddRow(f.Name, fmt.Sprint(f.Size), f.Type, f.Hash)
		}
		t.Flush()
		if len(e.DuplicateHashes) > 0 {
			fmt.Fprintf(stdout, "Already attached to this finding: %s\n", strings.Join(e.DuplicateHashes, ", "))
		}
	})
}

func runDownload(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := "/api/v1/evidence/" + url.PathEscape(args[0]) + "/attachments/" + url.PathEscape(args[1]) + "/download"

	target, _ := cmd.Flags().GetString("output-file")
	if target == "" {
		_, err := client.Download(cmd.Context(), path, os.Stdout)
		return err
	}

	f, err := os.Create(target)
	if err != nil {
		return err
	}
	n, err := client.Download(cmd.Context(), path, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", n, target)
	return nil
}
