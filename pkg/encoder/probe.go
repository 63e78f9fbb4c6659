package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"mediaworker/pkg/mediaerr"
)

// ProbeInfo is the subset of ffprobe's stream/format output the pipelines
// need: source dimensions, duration, and frame rate.
type ProbeInfo struct {
	Width        int
	Height       int
	DurationSec  float64
	AvgFrameRate float64
}

// Probe runs ffprobe against inputPath and extracts width, height,
// duration, and average frame rate of the first video stream.
func (d *Driver) Probe(ctx context.Context, inputPath string) (ProbeInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate:format=duration",
		"-of", "json",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, d.FFprobePath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return ProbeInfo{}, &mediaerr.EncoderUnavailable{Err: err}
		}
		return ProbeInfo{}, fmt.Errorf("ffprobe failed: %w (output: %s)", err, string(out))
	}

	var parsed struct {
		Streams []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe json: %w", err)
	}

	var pi ProbeInfo
	if len(parsed.Streams) > 0 {
		pi.Width = parsed.Streams[0].Width
		pi.Height = parsed.Streams[0].Height
		pi.AvgFrameRate = parseFraction(parsed.Streams[0].AvgFrameRate)
	}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			pi.DurationSec = d
		}
	}
	return pi, nil
}

func parseFraction(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
