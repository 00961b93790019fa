package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/facecheck/internal/bootstrap"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/upload"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll face images from a local directory",
	Long: `Extracts descriptors from local images and appends them to the gallery.

With --identity, every image in --dir is enrolled for that identity. Without
it, --dir is a dataset: each subdirectory is named after an identity id and
holds that identity's images. Source files are never modified.`,
	Example: `  facecheckctl enroll --identity U1 --dir ./photos/U1
  facecheckctl enroll --dir ./dataset`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().String("identity", "", "identity id; omit to treat --dir as a dataset")
	enrollCmd.Flags().String("dir", "", "image directory (required)")
	_ = enrollCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(enrollCmd)
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// collectImages lists the image files directly inside dir, sorted.
func collectImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// datasetPlan maps each subdirectory name of dir to its images. Empty
// subdirectories are skipped.
func datasetPlan(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	plan := map[string][]string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		paths, err := collectImages(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			plan[e.Name()] = paths
		}
	}
	return plan, nil
}

// fileImage is a local source image. Discard only reports progress; the
// file itself is left in place.
type fileImage struct {
	path     string
	once     sync.Once
	progress func()
}

func (f *fileImage) Name() string { return filepath.Base(f.path) }

func (f *fileImage) Bytes(_ context.Context) ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f *fileImage) Discard(_ context.Context) error {
	if f.progress != nil {
		f.once.Do(f.progress)
	}
	return nil
}

// batches splits paths into Images of at most size each.
func batches(paths []string, size int, progress func()) [][]upload.Image {
	if size <= 0 {
		size = len(paths)
	}
	var out [][]upload.Image
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		batch := make([]upload.Image, 0, end-start)
		for _, p := range paths[start:end] {
			batch = append(batch, &fileImage{path: p, progress: progress})
		}
		out = append(out, batch)
	}
	return out
}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	identity := mustGetString(cmd, "identity")

	var plan map[string][]string
	if identity != "" {
		paths, err := collectImages(dir)
		if err != nil {
			return err
		}
		plan = map[string][]string{identity: paths}
	} else {
		var err error
		plan, err = datasetPlan(dir)
		if err != nil {
			return err
		}
	}

	total := 0
	ids := make([]string, 0, len(plan))
	for id, paths := range plan {
		ids = append(ids, id)
		total += len(paths)
	}
	sort.Strings(ids)
	if total == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	comps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
	tick := func() { _ = bar.Add(1) }

	type summary struct {
		accepted, rejected int
		err                error
	}
	results := make(map[string]*summary, len(ids))
	for _, id := range ids {
		s := &summary{}
		results[id] = s
		pending := batches(plan[id], cfg.Upload.MaxBatch, tick)
		for i, batch := range pending {
			res, err := comps.Enroller.Enroll(ctx, id, batch)
			s.accepted += res.Accepted
			s.rejected += res.Rejected
			if err != nil {
				s.err = err
				// Skipped batches still count towards the bar.
				for _, rest := range pending[i+1:] {
					upload.DiscardAll(ctx, rest)
				}
				break
			}
		}
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	var failed int
	for _, id := range ids {
		s := results[id]
		switch {
		case errors.Is(s.err, gallery.ErrIdentityNotFound):
			failed++
			fmt.Printf("%-24s unknown identity, skipped\n", id)
		case s.err != nil:
			failed++
			fmt.Printf("%-24s accepted %d, rejected %d, error: %v\n", id, s.accepted, s.rejected, s.err)
		default:
			fmt.Printf("%-24s accepted %d, rejected %d\n", id, s.accepted, s.rejected)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d identities failed", failed, len(ids))
	}
	return nil
}
