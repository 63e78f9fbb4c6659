// Package encoder wraps ffmpeg/ffprobe subprocess invocations with
// textual-stderr progress extraction: it watches for the classic
// "Duration: HH:MM:SS.ff" and "time=HH:MM:SS.ff" tokens ffmpeg writes to
// stderr by default, rather than its machine-readable -progress stream.
package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"mediaworker/pkg/mediaerr"
)

// Driver spawns ffmpeg/ffprobe and reports progress as it parses stderr.
type Driver struct {
	FFmpegPath  string
	FFprobePath string
}

func New(ffmpegPath, ffprobePath string) *Driver {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Driver{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
	timeRe     = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
)

// ProgressFunc receives the percentage complete (0-100) as ffmpeg reports
// its current output position against the source duration.
type ProgressFunc func(pct float64)

// Run spawns ffmpeg with argv, scanning stderr for Duration:/time= tokens
// and invoking onProgress as they arrive. onProgress may be nil.
//
// knownDurationSec seeds totalSeconds up front (0 disables this); callers
// that already probed the source duration via Driver.Probe pass it here so
// a source whose stderr never prints a Duration: line (some containers
// omit it) still drives live progress instead of falling back to the
// coarse per-rendition tick alone.
func (d *Driver) Run(ctx context.Context, argv []string, onProgress ProgressFunc, knownDurationSec float64) error {
	cmd := exec.CommandContext(ctx, d.FFmpegPath, argv...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &mediaerr.EncoderUnavailable{Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return &mediaerr.EncoderUnavailable{Err: err}
	}

	var tail []string
	totalSeconds := knownDurationSec
	haveDuration := knownDurationSec > 0

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if len(tail) >= 20 {
			tail = tail[1:]
		}
		tail = append(tail, line)

		if !haveDuration {
			if m := durationRe.FindStringSubmatch(line); m != nil {
				totalSeconds = hmsToSeconds(m)
				haveDuration = true
			}
		}
		if haveDuration && onProgress != nil {
			if m := timeRe.FindStringSubmatch(line); m != nil {
				current := hmsToSeconds(m)
				pct := 0.0
				if totalSeconds > 0 {
					pct = current / totalSeconds * 100
					if pct > 100 {
						pct = 100
					}
				}
				onProgress(pct)
			}
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &mediaerr.EncoderFailed{Code: exitCode, StderrTail: strings.Join(tail, "\n")}
	}
	return nil
}

func hmsToSeconds(m []string) float64 {
	h, _ := strconv.ParseFloat(m[1], 64)
	mi, _ := strconv.ParseFloat(m[2], 64)
	s, _ := strconv.ParseFloat(m[3], 64)
	cs, _ := strconv.ParseFloat(m[4], 64)
	return h*3600 + mi*60 + s + cs/100
}
