package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestFormat(t *testing.T) {
	t.Run("picks highest quality", func(t *testing.T) {
		info := Info{Formats: []Format{
			{Quality: QualityLow, URL: "low"},
			{Quality: QualityHigh, URL: "high"},
			{Quality: QualityMedium, URL: "medium"},
		}}

		f, err := info.BestFormat()
		require.NoError(t, err)
		assert.Equal(t, "high", f.URL)
	})

	t.Run("first wins on ties", func(t *testing.T) {
		info := Info{Formats: []Format{
			{Quality: QualityMedium, URL: "a"},
			{Quality: QualityMedium, URL: "b"},
		}}

		f, err := info.BestFormat()
		require.NoError(t, err)
		assert.Equal(t, "a", f.URL)
	})

	t.Run("no formats", func(t *testing.T) {
		_, err := Info{}.BestFormat()
		require.ErrorIs(t, err, ErrNoAudioFormat)

		_, err = NewDescriptor(Info{Title: "t"})
		require.ErrorIs(t, err, ErrNoAudioFormat)
	})
}

func TestParseQuality(t *testing.T) {
	tests := map[string]Quality{
		"low":     QualityLow,
		"MEDIUM":  QualityMedium,
		"high":    QualityHigh,
		"unknown": QualityUnknown,
		"noAudio": QualityUnknown,
		"":        QualityUnknown,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseQuality(in), in)
	}
}

func TestDescriptorFileName(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{
			name: "underscore joined",
			d:    Descriptor{Info: Info{Artist: "Artist", Title: "Title"}, Format: Format{Extension: "mp3"}},
			want: "Artist_Title.mp3",
		},
		{
			name: "path separators are replaced",
			d:    Descriptor{Info: Info{Artist: "AC/DC", Title: `Back\In Black`}, Format: Format{Extension: "m4a"}},
			want: "AC-DC_Back-In Black.m4a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.FileName())
		})
	}
}
