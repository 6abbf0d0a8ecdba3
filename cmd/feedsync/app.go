package main

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/kalambet/feedsync/internal/auth"
	"github.com/kalambet/feedsync/internal/blobstore"
	"github.com/kalambet/feedsync/internal/config"
	"github.com/kalambet/feedsync/internal/feed"
	"github.com/kalambet/feedsync/internal/mailbox"
	"github.com/kalambet/feedsync/internal/pipeline"
	"github.com/kalambet/feedsync/internal/retry"
	"github.com/kalambet/feedsync/internal/sheets"
	"github.com/kalambet/feedsync/internal/storage"
)

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func closeStore(store *storage.Store) {
	if err := store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{
		Attempts: cfg.Retry.Attempts,
		Initial:  cfg.Retry.InitialBackoff,
		Max:      cfg.Retry.MaxBackoff,
	}
}

// newCoordinator wires the Google adapters, the raw archive and the store
// into a Coordinator.
func newCoordinator(ctx context.Context, cfg config.Config, store *storage.Store) (*pipeline.Coordinator, error) {
	ts, err := auth.TokenSource(ctx, auth.Files{
		Credentials: cfg.Google.CredentialsFile,
		Token:       cfg.Google.TokenFile,
	})
	if err != nil {
		return nil, fmt.Errorf("loading google credentials: %w", err)
	}
	policy := retryPolicy(cfg)

	gm, err := mailbox.NewGmail(ctx, mailbox.GmailConfig{
		LinkPrefix: cfg.Mail.LinkPrefix,
		Policy:     policy,
	}, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}

	sh, err := sheets.New(ctx, sheets.Config{
		Worksheet:    cfg.Sheets.Worksheet,
		LogWorksheet: cfg.Sheets.LogWorksheet,
		Header:       [3]string{cfg.Feed.KeyColumn, cfg.Feed.DescriptionColumn, cfg.Feed.QuantityColumn},
		Policy:       policy,
	}, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}

	archive, err := newRawArchive(ctx, cfg, policy)
	if err != nil {
		return nil, err
	}

	extractor := feed.NewExtractor(feed.Options{
		CSVName: cfg.Feed.CSVName,
		Columns: feed.Columns{
			Key:         cfg.Feed.KeyColumn,
			Description: cfg.Feed.DescriptionColumn,
			Quantity:    cfg.Feed.QuantityColumn,
		},
	})

	return pipeline.NewCoordinator(pipeline.Deps{
		Mailbox:   gm,
		State:     store,
		Audit:     store,
		Sheet:     sh,
		Archive:   archive,
		Extractor: extractor,
	}, pipeline.Config{
		Rule: mailbox.SelectionRule{
			Sender:   cfg.Mail.Sender,
			Subject:  cfg.Mail.Subject,
			Lookback: cfg.Mail.Lookback,
		},
		SheetID:   cfg.Sheets.SpreadsheetID,
		MirrorLog: cfg.Sheets.MirrorLog,
	}), nil
}

// newRawArchive returns nil when archiving is disabled.
func newRawArchive(ctx context.Context, cfg config.Config, policy retry.Policy) (pipeline.RawArchive, error) {
	var store blobstore.ObjectStorage
	switch cfg.Archive.Backend {
	case config.ArchiveLocal:
		local, err := blobstore.NewLocalStorage(cfg.ArchiveDir())
		if err != nil {
			return nil, fmt.Errorf("opening local archive: %w", err)
		}
		store = local
	case config.ArchiveS3:
		s3, err := blobstore.NewS3Storage(ctx, cfg.Archive.Bucket, blobstore.S3Config{
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.PathStyle,
			Policy:       policy,
		})
		if err != nil {
			return nil, fmt.Errorf("opening s3 archive: %w", err)
		}
		store = s3
	default:
		return nil, nil
	}
	slog.Debug("raw feed archive enabled", "backend", cfg.Archive.Backend)
	return blobstore.NewArchiver(store), nil
}
