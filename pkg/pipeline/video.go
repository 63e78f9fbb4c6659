package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"mediaworker/pkg/blob"
	"mediaworker/pkg/encoder"
	"mediaworker/pkg/hls"
	"mediaworker/pkg/mediaerr"
	"mediaworker/pkg/queue"
	"mediaworker/pkg/rendition"
	"mediaworker/pkg/result"
)

// EncodeProgressFunc receives combined progress across all selected
// renditions, 0-100: floor(completedRenditions)/total plus the current
// rendition's own fraction. The executor turns this into its own
// weighted delta; this package has no opinion on the overall job
// percentage.
type EncodeProgressFunc func(pct float64)

// ProcessVideo selects the rendition ladder for item.Height, encodes each
// rung serially, synthesises a master playlist, and uploads the result.
// A missing master playlist is fatal for the item per the encoder
// contract: no partial result is returned.
func ProcessVideo(ctx context.Context, enc *encoder.Driver, bc *blob.Client, item queue.Item, localInputPath, outDir, destPrefix string, onProgress EncodeProgressFunc) (result.ItemResult, error) {
	ext := filepath.Ext(item.Filename)
	stem := strings.TrimSuffix(item.Filename, ext)

	renditions := rendition.Select(item.Height)
	total := len(renditions)

	// Probe once up front: some source containers never print a stderr
	// Duration: line, which would otherwise leave every rendition's live
	// progress stuck at the coarse per-rendition floor.
	var knownDuration float64
	if probed, err := enc.Probe(ctx, localInputPath); err != nil {
		log.Warn("source probe failed, live progress will rely on stderr duration only", "media_id", item.MediaID, "error", err)
	} else {
		knownDuration = probed.DurationSec
	}

	if err := enc.Run(ctx, encoder.VideoThumbnail(localInputPath, outDir, stem), nil, knownDuration); err != nil {
		log.Warn("video thumbnail failed, continuing without it", "media_id", item.MediaID,
			"error", &mediaerr.EncoderOptional{Stage: "thumbnail", Err: err})
	}

	for idx, r := range renditions {
		var renditionProgress encoder.ProgressFunc
		if onProgress != nil {
			renditionProgress = func(pct float64) {
				combined := (float64(idx)*100 + pct) / float64(total)
				onProgress(combined)
			}
		}
		if err := enc.Run(ctx, encoder.VideoRendition(localInputPath, outDir, r, stem), renditionProgress, knownDuration); err != nil {
			return result.ItemResult{}, fmt.Errorf("encode rendition %s: %w", r.Label, err)
		}
		if onProgress != nil {
			onProgress(float64(idx+1) / float64(total) * 100)
		}
	}

	if err := writeMasterPlaylist(filepath.Join(outDir, stem+"_master.m3u8"), stem, renditions); err != nil {
		return result.ItemResult{}, &mediaerr.MasterPlaylistMissing{Reason: err.Error()}
	}

	uploaded, err := bc.UploadDirectory(ctx, outDir, destPrefix)
	if err != nil {
		return result.ItemResult{}, &mediaerr.TransientIO{Op: "uploadDirectory", Err: err}
	}

	r := result.NewVideoResult(item.MediaID, item.OriginalName, item.Filename, "", "")
	for _, u := range uploaded {
		switch {
		case strings.HasSuffix(u.OriginalName, "_master.m3u8"):
			r.MasterPlaylistURL = u.URL
		case strings.HasSuffix(u.OriginalName, "_thumbnail.jpg"):
			r.ThumbnailURL = u.URL
		}
	}
	if r.MasterPlaylistURL == "" {
		return result.ItemResult{}, &mediaerr.MasterPlaylistMissing{Reason: "uploaded master playlist not found"}
	}
	return r, nil
}

func writeMasterPlaylist(path, stem string, renditions []rendition.Rendition) error {
	mb := hls.NewMaster().Version(3)
	for _, r := range renditions {
		bandwidth := (rendition.ParseBitrate(r.VideoBitrate) + rendition.ParseBitrate(r.AudioBitrate)) * 1000
		width := int(math.Round(float64(r.Height) * 16.0 / 9.0))
		uri := fmt.Sprintf("%s_%s.m3u8", stem, r.Label)
		mb.AddVariant(uri, hls.StreamInfAttr{
			Bandwidth:   bandwidth,
			ResolutionW: width,
			ResolutionH: r.Height,
			Name:        r.Label,
		})
	}
	if err := mb.WriteFile(path); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	return nil
}
