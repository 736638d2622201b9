package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Recently generated fax documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List generated documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entries := store.Entries()
			if len(entries) == 0 {
				a.printf("No documents generated yet.\n")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GENERATED\tPRESCRIBER\tMODE\tOPPS\tFILE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"), e.PrescriberName, e.Mode, len(e.OpportunityIDs), e.FileName)
			}
			return tw.Flush()
		},
	})
	return cmd
}
