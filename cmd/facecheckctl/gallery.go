package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/your-org/facecheck/internal/gallery"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Show enrolled descriptor counts per identity",
	Args:  cobra.NoArgs,
	RunE:  runGallery,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
}

func runGallery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var counts map[string]int
	if cfg.Gallery.Driver == "file" {
		entries, err := gallery.NewFileStore(cfg.Gallery.FilePath).Load(ctx)
		if err != nil {
			return err
		}
		counts = make(map[string]int, len(entries))
		for _, e := range entries {
			counts[e.IdentityID] = len(e.Descriptors)
		}
	} else {
		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if counts, err = db.CountDescriptors(ctx); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(counts))
	total := 0
	for id, n := range counts {
		ids = append(ids, id)
		total += n
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("%-24s %d\n", id, counts[id])
	}
	fmt.Printf("\nIdentities: %d\n", len(ids))
	fmt.Printf("Descriptors: %d\n", total)
	return nil
}
