package announce

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/onnwee/announce-tender/trackerapi"
)

// FormatTorrent renders the single announcement line for a feed entry. The
// layout is fixed; channel consumers (autodl filters and the like) parse it
// by the bracketed fields, so changes here break downstream matching.
func FormatTorrent(t trackerapi.Torrent) string {
	a := t.Attributes

	resolution := a.Resolution
	if resolution == "" {
		resolution = "N/A"
	}

	internal := "N/A"
	switch a.Internal {
	case 0:
		internal = "No"
	case 1:
		internal = "Yes"
	}

	double := "No"
	if a.DoubleUpload {
		double = "Yes"
	}

	size := strconv.FormatFloat(sizeGB(a.Size), 'f', -1, 64)

	// The feed hands out the API download link; the announce points at the
	// torrent page instead: pluralize the path segment and drop the trailing
	// ".{rsskey}" suffix after the last dot.
	link := strings.ReplaceAll(a.DownloadLink, "torrent", "torrents")
	if i := strings.LastIndexByte(link, '.'); i >= 0 {
		link = link[:i]
	} else {
		link = "N/A"
	}

	return fmt.Sprintf(
		"Category [%s] Type [%s] Name [%s] Resolution [%s] Freeleech [%s] Internal [%s] Double Upload [%s] Size [%s GB] Uploader [%s] Url [%s]",
		a.Category, a.Type, a.Name, resolution, a.Freeleech, internal, double, size, a.Uploader, link,
	)
}

// sizeGB converts bytes to gibibytes rounded to two decimals.
func sizeGB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024*1024)*100) / 100
}
