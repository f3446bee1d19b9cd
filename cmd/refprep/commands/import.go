package commands

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-refer/features"
)

func newImportFeaturesCmd(flags *globalFlags) *cobra.Command {
	var (
		dbPath string
		src    string
		gt     bool
	)

	cmd := &cobra.Command{
		Use:   "import-features",
		Short: "Load JSON-lines region records into a region store",
		Long: `Reads newline-delimited records of the form

  {"image_id": 1, "num_boxes": 2, "features": [[...], [...]],
   "spatials": [[...], [...]], "boxes": [[...], [...]]}

and writes them into the badger region store. The target defaults to
features_db, or gt_features_db with --gt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if src == "" {
				return errors.New("--src is required")
			}
			if dbPath == "" {
				dbPath = cfg.FeaturesDB
				if gt {
					dbPath = cfg.GTFeaturesDB
				}
			}

			f, err := os.Open(src)
			if err != nil {
				return errors.Wrap(err, "open region records")
			}
			defer f.Close()

			store, err := features.OpenBadger(features.BadgerOptions{
				Path:   dbPath,
				Dim:    cfg.FeatureDim,
				Logger: log.Logger,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close region store")
				}
			}()

			n, err := features.Import(f, store, cfg.FeatureDim)
			if err != nil {
				return errors.Wrapf(err, "import after %d records", n)
			}
			log.Info().Int("images", n).Str("db", dbPath).Msg("Imported region records")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Region store directory")
	cmd.Flags().StringVar(&src, "src", "", "JSON-lines record file")
	cmd.Flags().BoolVar(&gt, "gt", false, "Import into the ground-truth store")
	return cmd
}
