package encoder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mediaworker/pkg/mediaerr"
)

// shDriver runs sh in place of ffmpeg so the stderr scanning loop can be
// exercised against scripted output.
func shDriver() *Driver {
	return &Driver{FFmpegPath: "sh", FFprobePath: "sh"}
}

func TestRunParsesDurationAndTimeFromStderr(t *testing.T) {
	script := `echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1000 kb/s" 1>&2;` +
		`echo "frame=  120 fps=30 time=00:00:05.00 bitrate=900.0kbits/s" 1>&2;` +
		`echo "frame=  240 fps=30 time=00:00:10.00 bitrate=900.0kbits/s" 1>&2`

	var pcts []float64
	err := shDriver().Run(context.Background(), []string{"-c", script}, func(pct float64) {
		pcts = append(pcts, pct)
	}, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pcts) != 2 || pcts[0] != 50 || pcts[1] != 100 {
		t.Errorf("expected progress [50 100], got %v", pcts)
	}
}

func TestRunUsesKnownDurationWhenStderrOmitsIt(t *testing.T) {
	script := `echo "frame=  120 fps=30 time=00:00:05.00 bitrate=900.0kbits/s" 1>&2`

	var pcts []float64
	err := shDriver().Run(context.Background(), []string{"-c", script}, func(pct float64) {
		pcts = append(pcts, pct)
	}, 20)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pcts) != 1 || pcts[0] != 25 {
		t.Errorf("expected progress [25] from the probed 20s duration, got %v", pcts)
	}
}

func TestRunClampsProgressAt100(t *testing.T) {
	script := `echo "Duration: 00:00:04.00" 1>&2; echo "time=00:00:08.00" 1>&2`

	var pcts []float64
	err := shDriver().Run(context.Background(), []string{"-c", script}, func(pct float64) {
		pcts = append(pcts, pct)
	}, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pcts) != 1 || pcts[0] != 100 {
		t.Errorf("expected progress clamped to [100], got %v", pcts)
	}
}

func TestRunNonZeroExitReturnsEncoderFailedWithStderrTail(t *testing.T) {
	err := shDriver().Run(context.Background(), []string{"-c", `echo "Unknown encoder 'h264'" 1>&2; exit 3`}, nil, 0)

	var ef *mediaerr.EncoderFailed
	if !errors.As(err, &ef) {
		t.Fatalf("expected EncoderFailed, got %T: %v", err, err)
	}
	if ef.Code != 3 {
		t.Errorf("expected exit code 3, got %d", ef.Code)
	}
	if !strings.Contains(ef.StderrTail, "Unknown encoder") {
		t.Errorf("stderr tail missing encoder output: %q", ef.StderrTail)
	}
}

func TestRunSpawnFailureReturnsEncoderUnavailable(t *testing.T) {
	d := &Driver{FFmpegPath: "/nonexistent/ffmpeg-binary"}
	err := d.Run(context.Background(), []string{"-i", "in.mp4"}, nil, 0)

	var eu *mediaerr.EncoderUnavailable
	if !errors.As(err, &eu) {
		t.Fatalf("expected EncoderUnavailable, got %T: %v", err, err)
	}
}
