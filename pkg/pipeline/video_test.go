package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaworker/pkg/rendition"
)

func TestWriteMasterPlaylistBandwidthAndResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip_master.m3u8")

	renditions := []rendition.Rendition{
		{Label: "480p", Height: 480, VideoBitrate: "800k", AudioBitrate: "96k"},
		{Label: "720p", Height: 720, VideoBitrate: "2800k", AudioBitrate: "128k"},
	}
	if err := writeMasterPlaylist(path, "clip", renditions); err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	out := string(data)

	if !strings.Contains(out, "BANDWIDTH=2928000,RESOLUTION=1280x720") {
		t.Errorf("missing expected 720p stream-inf line in:\n%s", out)
	}
	if !strings.Contains(out, "clip_720p.m3u8") {
		t.Errorf("missing 720p playlist reference in:\n%s", out)
	}
	if !strings.Contains(out, "clip_480p.m3u8") {
		t.Errorf("missing 480p playlist reference in:\n%s", out)
	}
}

func TestRenditionSelectionBoundaries(t *testing.T) {
	if got := rendition.Select(300); len(got) != 1 || got[0].Label != "480p" {
		t.Errorf("height 300: expected single 480p fallback, got %+v", got)
	}
	if got := rendition.Select(1080); len(got) != 3 {
		t.Errorf("height 1080: expected 3 renditions, got %d", len(got))
	}
}
