package encoder

import (
	"fmt"
	"path/filepath"

	"mediaworker/pkg/rendition"
)

// VideoRendition builds the argv for encoding one HLS rendition, exactly
// per the normative flag sequence: scale to the rung's height, encode
// h264/aac, segment into 4s .ts files under a vod playlist.
func VideoRendition(input, outDir string, r rendition.Rendition, stem string) []string {
	playlist := filepath.Join(outDir, fmt.Sprintf("%s_%s.m3u8", stem, r.Label))
	segmentPattern := filepath.Join(outDir, fmt.Sprintf("%s_%s_%%03d.ts", stem, r.Label))
	return []string{
		"-i", input,
		"-hide_banner", "-y",
		"-vf", fmt.Sprintf("scale=w=-2:h=%d", r.Height),
		"-c:v", "h264",
		"-profile:v", "main",
		"-crf", "20",
		"-g", "48",
		"-keyint_min", "48",
		"-b:v", r.VideoBitrate,
		"-maxrate", r.Maxrate,
		"-bufsize", r.Bufsize,
		"-c:a", "aac",
		"-ar", "48000",
		"-b:a", r.AudioBitrate,
		"-f", "hls",
		"-hls_time", "4",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		playlist,
	}
}

// VideoThumbnail builds the argv for a single 320x180 JPEG grabbed one
// second into the source.
func VideoThumbnail(input, outDir, stem string) []string {
	out := filepath.Join(outDir, fmt.Sprintf("%s_thumbnail.jpg", stem))
	return []string{
		"-i", input,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-vf", "scale=320:180",
		"-q:v", "2",
		"-y", out,
	}
}

// ImageDownscale builds the argv for fitting an image within 1920x1080,
// preserving aspect ratio.
func ImageDownscale(input, outDir, stem, ext string) []string {
	out := filepath.Join(outDir, fmt.Sprintf("%s_processed%s", stem, ext))
	return []string{
		"-i", input,
		"-vf", "scale=1920:1080:force_original_aspect_ratio=decrease",
		"-q:v", "2",
		"-y", out,
	}
}

// ImageBlurredThumb builds the argv for a 320x240 boxblurred thumbnail.
func ImageBlurredThumb(input, outDir, stem string) []string {
	out := filepath.Join(outDir, fmt.Sprintf("%s_blurred_thumbnail.jpg", stem))
	return []string{
		"-i", input,
		"-vf", "scale=320:240:force_original_aspect_ratio=decrease,boxblur=10:1",
		"-q:v", "5",
		"-y", out,
	}
}
