package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-refer/labels"
	"github.com/nvr-ai/go-refer/packing"
)

func newFetchCmd(flags *globalFlags) *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Assemble one example and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ds, closeAll, err := openDataset(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			ex, err := ds.Get(index)
			if err != nil {
				return err
			}
			entry := ds.Entry(index)
			scores := packing.Float32s(ex.Target)[:ex.Count]

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "index:       %d\n", index)
			fmt.Fprintf(out, "image_id:    %d\n", ex.ImageID)
			fmt.Fprintf(out, "caption:     %s\n", entry.Caption)
			fmt.Fprintf(out, "ref_box:     %s\n", entry.RefBox.Box())
			fmt.Fprintf(out, "candidates:  %d\n", ex.Count)
			fmt.Fprintf(out, "positives:   %d\n", labels.Positives(scores))
			fmt.Fprintf(out, "token_ids:   %v\n", packing.Int64s(ex.TokenIDs))
			fmt.Fprintf(out, "features:    %v\n", ex.Features.Shape())
			fmt.Fprintf(out, "co_attention: %v\n", ex.CoAttentionMask.Shape())
			for i, s := range scores {
				if s > 0 {
					fmt.Fprintf(out, "  region %3d  label %.4f\n", i, s)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "Example index")
	return cmd
}
