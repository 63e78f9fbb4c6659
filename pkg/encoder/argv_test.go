package encoder

import (
	"strings"
	"testing"

	"mediaworker/pkg/rendition"
)

func TestVideoRenditionArgv(t *testing.T) {
	r := rendition.Rendition{Label: "720p", Height: 720, VideoBitrate: "2800k", Maxrate: "2996k", Bufsize: "4200k", AudioBitrate: "128k"}
	argv := VideoRendition("in.mp4", "/out", r, "clip")

	joined := strings.Join(argv, " ")
	for _, want := range []string{
		"-i in.mp4",
		"scale=w=-2:h=720",
		"-b:v 2800k",
		"-maxrate 2996k",
		"-bufsize 4200k",
		"-b:a 128k",
		"-hls_time 4",
		"-hls_playlist_type vod",
		"/out/clip_720p_%03d.ts",
		"/out/clip_720p.m3u8",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv %q missing %q", joined, want)
		}
	}
	if argv[len(argv)-1] != "/out/clip_720p.m3u8" {
		t.Errorf("expected playlist as final arg, got %q", argv[len(argv)-1])
	}
}

func TestImageDownscaleArgv(t *testing.T) {
	argv := ImageDownscale("in.png", "/out", "photo", ".png")
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "scale=1920:1080:force_original_aspect_ratio=decrease") {
		t.Errorf("missing scale filter: %q", joined)
	}
	if argv[len(argv)-1] != "/out/photo_processed.png" {
		t.Errorf("expected output path as final arg, got %q", argv[len(argv)-1])
	}
}

func TestImageBlurredThumbArgv(t *testing.T) {
	argv := ImageBlurredThumb("in.png", "/out", "photo")
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "boxblur=10:1") {
		t.Errorf("missing boxblur filter: %q", joined)
	}
	if argv[len(argv)-1] != "/out/photo_blurred_thumbnail.jpg" {
		t.Errorf("expected output path as final arg, got %q", argv[len(argv)-1])
	}
}

func TestHMSToSeconds(t *testing.T) {
	cases := []struct {
		in   []string
		want float64
	}{
		{[]string{"", "00", "00", "05", "00"}, 5},
		{[]string{"", "01", "00", "00", "00"}, 3600},
		{[]string{"", "00", "01", "30", "50"}, 90.5},
	}
	for _, c := range cases {
		got := hmsToSeconds(c.in)
		if got != c.want {
			t.Errorf("hmsToSeconds(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
