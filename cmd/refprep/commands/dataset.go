package commands

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-refer/annotations"
	"github.com/nvr-ai/go-refer/config"
	"github.com/nvr-ai/go-refer/dataset"
	"github.com/nvr-ai/go-refer/features"
	"github.com/nvr-ai/go-refer/tokenizer"
)

// openDataset wires the annotation source, tokenizer and region stores
// described by cfg into a Dataset. The returned closer releases the stores.
func openDataset(cfg *config.Config) (*dataset.Dataset, func(), error) {
	refer, err := annotations.Load(cfg.DataRoot, cfg.Task, cfg.SplitBy, cfg.Split)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Int("refs", len(refer.RefIDs())).Str("split", cfg.Split).Msg("Loaded refs")

	vocab, err := tokenizer.LoadVocab(cfg.VocabPath)
	if err != nil {
		return nil, nil, err
	}
	encoder := &tokenizer.Encoder{
		Tokenizer:    tokenizer.NewWordPiece(vocab, cfg.Lowercase),
		Vocab:        vocab,
		MaxSeqLength: cfg.MaxSeqLength,
		PaddingIndex: cfg.PaddingIndex,
	}

	var stores []*features.BadgerStore
	closeAll := func() {
		for _, s := range stores {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close region store")
			}
		}
	}

	det, err := features.OpenBadger(features.BadgerOptions{
		Path:   cfg.FeaturesDB,
		Dim:    cfg.FeatureDim,
		Logger: log.Logger.With().Str("store", "detector").Logger(),
	})
	if err != nil {
		return nil, nil, err
	}
	stores = append(stores, det)

	opts := dataset.Options{
		Task:         cfg.Task,
		Split:        cfg.Split,
		MaxSeqLength: cfg.MaxSeqLength,
		MaxRegionNum: cfg.MaxRegionNum,
		CachePath:    cfg.CachePath(),
		Annotations:  refer,
		Encoder:      encoder,
		Features:     det,
		Logger:       log.Logger,
	}

	if cfg.Training() {
		gt, err := features.OpenBadger(features.BadgerOptions{
			Path:   cfg.GTFeaturesDB,
			Dim:    cfg.FeatureDim,
			Logger: log.Logger.With().Str("store", "ground_truth").Logger(),
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		stores = append(stores, gt)
		opts.GTFeatures = gt
	}

	ds, err := dataset.New(opts)
	if err != nil {
		closeAll()
		return nil, nil, errors.Wrap(err, "build dataset")
	}
	return ds, closeAll, nil
}

func newBuildCacheCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "build-cache",
		Short: "Tokenize the split and write the entry cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !cfg.CacheEnabled {
				return errors.New("cache is disabled; enable cache_enabled to build it")
			}

			ds, closeAll, err := openDataset(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			log.Info().
				Int("entries", ds.Len()).
				Str("path", cfg.CachePath()).
				Msg("Entry cache ready")
			return nil
		},
	}
}
