// Package rendition defines the static bitrate ladder used by the video
// pipeline and the rule for selecting which rungs apply to a given source.
package rendition

import "strings"

// Rendition is one encoded variant of a video at a specific resolution.
// Bitrate fields keep the "800k" string form so they can be dropped
// straight into an encoder argv and parsed for bandwidth math without a
// round trip through an int type.
type Rendition struct {
	Label        string
	Height       int
	VideoBitrate string
	Maxrate      string
	Bufsize      string
	AudioBitrate string
}

// Ladder is the full bottom-up rung set, exactly as configured for this
// deployment. Order matters: callers rely on it being height-ascending.
var Ladder = []Rendition{
	{Label: "480p", Height: 480, VideoBitrate: "800k", Maxrate: "856k", Bufsize: "1200k", AudioBitrate: "96k"},
	{Label: "720p", Height: 720, VideoBitrate: "2800k", Maxrate: "2996k", Bufsize: "4200k", AudioBitrate: "128k"},
	{Label: "1080p", Height: 1080, VideoBitrate: "5000k", Maxrate: "5350k", Bufsize: "7500k", AudioBitrate: "192k"},
	{Label: "2160p", Height: 2160, VideoBitrate: "15000k", Maxrate: "16050k", Bufsize: "22500k", AudioBitrate: "320k"},
}

// Select returns the renditions whose height does not exceed sourceHeight,
// preserving ladder order. If none qualify (a very small source), the
// bottom rung is returned so every video gets at least one rendition.
func Select(sourceHeight int) []Rendition {
	var out []Rendition
	for _, r := range Ladder {
		if r.Height <= sourceHeight {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		out = []Rendition{Ladder[0]}
	}
	return out
}

// ParseBitrate strips a trailing k/K and returns the numeric value in
// kbps, for use in master-playlist bandwidth computation.
func ParseBitrate(s string) int {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "k")
	s = strings.TrimSuffix(s, "K")
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
