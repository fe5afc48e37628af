package media

import (
	"fmt"
	"strings"
)

// Quality is the audio quality tier of a format. Higher ordinals are better.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityLow
	QualityMedium
	QualityHigh
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseQuality maps a remote quality label onto a Quality tier.
// Labels it does not know, including "noAudio", map to QualityUnknown.
func ParseQuality(s string) Quality {
	switch strings.ToLower(s) {
	case "low":
		return QualityLow
	case "medium":
		return QualityMedium
	case "high":
		return QualityHigh
	default:
		return QualityUnknown
	}
}

// Format is one encoding variant of a track.
type Format struct {
	Bitrate    int     `json:"bitrate"`
	SampleRate int     `json:"sample_rate"`
	Quality    Quality `json:"quality"`
	Extension  string  `json:"extension"`
	DurationMs int64   `json:"duration_ms"`
	URL        string  `json:"url"`
}

// Info is the resolved metadata of a source.
type Info struct {
	Title   string   `json:"title"`
	Artist  string   `json:"artist"`
	Formats []Format `json:"formats"`
}

// BestFormat returns the format with the highest quality tier.
// Among formats of equal quality the first listed one wins.
func (i Info) BestFormat() (Format, error) {
	if len(i.Formats) == 0 {
		return Format{}, ErrNoAudioFormat
	}

	best := i.Formats[0]
	for _, f := range i.Formats[1:] {
		if f.Quality > best.Quality {
			best = f
		}
	}

	return best, nil
}

// Descriptor bundles resolved metadata with the format chosen for transfer.
// It is created once per task and never mutated afterwards.
type Descriptor struct {
	Info   Info   `json:"info"`
	Format Format `json:"format"`
}

// NewDescriptor selects the best format of info.
func NewDescriptor(info Info) (Descriptor, error) {
	f, err := info.BestFormat()
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{Info: info, Format: f}, nil
}

// FileName is the canonical "<artist>_<title>.<extension>" name used for the
// existence check and the finalized file.
func (d Descriptor) FileName() string {
	name := fmt.Sprintf("%s_%s.%s", d.Info.Artist, d.Info.Title, d.Format.Extension)

	return sanitize(name)
}

// ShortName is the "<artist>: <title>" label used in human-readable output.
func (d Descriptor) ShortName() string {
	return d.Info.Artist + ": " + d.Info.Title
}

var pathReplacer = strings.NewReplacer("/", "-", "\\", "-", "\x00", "")

// sanitize keeps derived names inside a single directory level.
func sanitize(name string) string {
	name = pathReplacer.Replace(name)
	if name == "." || name == ".." {
		return "_"
	}

	return name
}
