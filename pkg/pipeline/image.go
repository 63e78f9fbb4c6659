// Package pipeline implements the image and video derivation pipelines:
// per-item, single-purpose orchestration of the encoder driver and blob
// client, returning a populated Item Result for the executor to cache.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"mediaworker/pkg/blob"
	"mediaworker/pkg/encoder"
	"mediaworker/pkg/mediaerr"
	"mediaworker/pkg/queue"
	"mediaworker/pkg/result"
)

// ProcessImage downscales the source, best-effort blurs a thumbnail,
// copies the original alongside, uploads the output directory, and
// matches the uploaded files back into an Item Result.
func ProcessImage(ctx context.Context, enc *encoder.Driver, bc *blob.Client, item queue.Item, localInputPath, outDir, destPrefix string) (result.ItemResult, error) {
	ext := filepath.Ext(item.Filename)
	stem := strings.TrimSuffix(item.Filename, ext)

	if err := enc.Run(ctx, encoder.ImageDownscale(localInputPath, outDir, stem, ext), nil, 0); err != nil {
		return result.ItemResult{}, fmt.Errorf("downscale %s: %w", item.Filename, err)
	}

	if err := enc.Run(ctx, encoder.ImageBlurredThumb(localInputPath, outDir, stem), nil, 0); err != nil {
		log.Warn("blurred thumbnail failed, continuing without it", "media_id", item.MediaID,
			"error", &mediaerr.EncoderOptional{Stage: "blurred_thumbnail", Err: err})
	}

	if err := copyFile(localInputPath, filepath.Join(outDir, item.Filename)); err != nil {
		return result.ItemResult{}, fmt.Errorf("stage original %s: %w", item.Filename, err)
	}

	uploaded, err := bc.UploadDirectory(ctx, outDir, destPrefix)
	if err != nil {
		return result.ItemResult{}, &mediaerr.TransientIO{Op: "uploadDirectory", Err: err}
	}

	r := result.NewImageResult(item.MediaID, item.OriginalName, item.Filename, "", "", "")
	processedSuffix := "_processed" + ext
	for _, u := range uploaded {
		switch {
		case strings.HasSuffix(u.OriginalName, processedSuffix):
			r.ImageURL = u.URL
		case strings.HasSuffix(u.OriginalName, "_blurred_thumbnail.jpg"):
			r.BlurredThumbnailURL = u.URL
		case u.OriginalName == item.Filename:
			r.OriginalURL = u.URL
		}
	}
	return r, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
