package cli

import (
	"encoding/json"
	"errors"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-smartcapture/pkg/journal"
)

func newJournalCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded captures",
	}

	var (
		limit  int
		asJSON bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List captures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.journal()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []journal.Entry{}
				}
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "ID\tCAPTURED\tMODE\tSIZE\tRECTIFIED\tUPLOADED\n")
			for _, e := range entries {
				rect := "yes"
				if !e.Rectified {
					rect = "no (" + e.Fallback + ")"
				}
				up := "yes"
				if !e.Uploaded {
					up = "no"
					if e.Error != "" {
						up = "failed"
					}
				}
				printf(tw, "%s\t%s\t%s\t%dx%d\t%s\t%s\n",
					shortID(e.ID), e.CapturedAt.Local().Format(time.DateTime), mode(e), e.Width, e.Height, rect, up)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of captures to show (0 for all)")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one capture as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.journal()
			if err != nil {
				return err
			}
			defer store.Close()

			e, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(e)
		},
	})

	return cmd
}

func (r *Root) journal() (*journal.Store, error) {
	store, err := openJournal(r.cfg.Journal)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("capture journal is disabled (journal.path is empty)")
	}
	return store, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func mode(e journal.Entry) string {
	switch {
	case e.Quadrant != "":
		return e.Mode + ":" + e.Quadrant
	case e.Sequence > 0:
		return e.Mode + ":" + strconv.Itoa(e.Sequence)
	}
	return e.Mode
}
