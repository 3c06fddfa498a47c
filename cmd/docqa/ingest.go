package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/docqa/backend/internal/storage/models"
	appLogger "github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Upload one PDF and run ingestion in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args[0])
		},
	}
}

func runIngest(ctx context.Context, cmd *cobra.Command, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !mt.Is("application/pdf") {
		return fmt.Errorf("%s is %s, not a PDF", path, mt.String())
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	fileName := utils.NormalizeFileName(filepath.Base(path))
	if err := svc.docs.EnsureAvailable(ctx, fileName); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	ref, fileURL, err := svc.files.Save(ctx, fileName, f, info.Size())
	if err != nil {
		return err
	}

	doc, err := svc.docs.Create(ctx, fileName, ref, fileURL)
	if err != nil {
		_ = svc.files.Remove(ctx, ref)
		return err
	}

	s := svc.processor.Process(ctx, doc)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "document %s (%s): %s\n", doc.ID, doc.FileName, s.Status)
	fmt.Fprintf(out, "pages=%d chunks=%d skipped=%d page_errors=%d\n", s.Pages, s.Chunks, s.Skipped, s.PageErrors)
	if s.FatalError != nil {
		fmt.Fprintf(out, "error: %v\n", s.FatalError)
	}

	if s.Status != models.StatusSuccess {
		return fmt.Errorf("ingestion of %s failed", fileName)
	}
	return nil
}
