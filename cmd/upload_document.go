package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tieubaoca/docqa-be/types"
)

var (
	uploadOwner string
	uploadTitle string
)

// uploadCmd ingests pdf files from the command line, bypassing the http
// surface. Handy for bulk loading a corpus before the first start.
var uploadCmd = &cobra.Command{
	Use:   "upload [files or directories]",
	Short: "Ingest pdf files directly into the store",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runUpload(args); err != nil {
			log.Fatalf("upload: %v", err)
		}
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadOwner, "owner", "", "user id that will own the documents (required)")
	uploadCmd.Flags().StringVar(&uploadTitle, "title", "", "document title, defaults to the file name")
	uploadCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	owner, err := a.userService.GetUser(ctx, uploadOwner)
	if err != nil {
		return fmt.Errorf("owner %s: %w", uploadOwner, err)
	}

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no pdf files found")
	}

	var docs []*types.Document
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			log.Printf("skip %s: %v", path, err)
			continue
		}
		title := uploadTitle
		if title == "" || len(paths) > 1 {
			title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		doc, err := a.documentService.Upload(ctx, owner, title, filepath.Base(path), f)
		f.Close()
		if err != nil {
			log.Printf("skip %s: %v", path, err)
			continue
		}
		log.Printf("queued %s as document %s", path, doc.ID)
		docs = append(docs, doc)
	}

	log.Printf("waiting for %d documents to index", len(docs))
	a.documentService.Wait()
	for _, doc := range docs {
		final, err := a.documentService.GetDocument(ctx, owner, doc.ID)
		if err != nil {
			log.Printf("document %s: %v", doc.ID, err)
			continue
		}
		if final.Status == types.DOCUMENT_STATUS_INDEXED {
			log.Printf("document %s indexed: %d chunks", final.ID, final.ChunkCount)
		} else {
			log.Printf("document %s %s: %s", final.ID, final.Status, final.FailReason)
		}
	}
	return nil
}
