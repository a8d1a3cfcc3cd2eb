package feed

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "mediafetch/pkg/errors"
	"mediafetch/pkg/transfer"
)

func TestHighlightsTray(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/highlights/1234/highlights_tray/", r.URL.Path)
		fmt.Fprint(w, `{
			"tray": [
				{"id": "highlight:17895485201104054", "title": "Sea 2025", "media_count": 3},
				{"id": "highlight:9", "title": "Trip", "media_count": 1}
			],
			"status": "ok"
		}`)
	}))

	highlights, err := fetcher.Highlights(context.Background(), "1234")
	require.NoError(t, err)
	require.Len(t, highlights, 2)

	// The wire prefix is stripped; stored IDs are bare.
	assert.Equal(t, "17895485201104054", highlights[0].ID)
	assert.Equal(t, "Sea 2025", highlights[0].Title)
	assert.Equal(t, 3, highlights[0].MediaCount)
	assert.Equal(t, "9", highlights[1].ID)
}

func TestHighlightsLoginWall(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"requires_to_login": true, "tray": [], "status": "ok"}`)
	}))

	_, err := fetcher.Highlights(context.Background(), "1234")
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.ErrorTypeAuth, apiErr.Type)
}

func TestHighlightItems(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, reelsMediaEndpoint, r.URL.Path)
		require.Equal(t, "highlight:42", r.URL.Query().Get("reel_ids"))
		// pk arrives both numeric and quoted depending on the endpoint
		// revision; the third item has no usable URL and is dropped.
		fmt.Fprint(w, `{
			"reels": {"highlight:42": {"items": [
				{"pk": 111, "media_type": 2,
				 "image_versions2": {"candidates": [{"url": "https://cdn.example.com/111_cover.jpg"}]},
				 "video_versions": [{"url": "https://cdn.example.com/111.mp4"}]},
				{"pk": "222", "media_type": 1,
				 "image_versions2": {"candidates": [{"url": "https://cdn.example.com/222.jpg"}]}},
				{"pk": 333, "media_type": 1}
			]}},
			"status": "ok"
		}`)
	}))

	items, err := fetcher.HighlightItems(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "111", items[0].MediaID)
	assert.True(t, items[0].IsVideo)
	assert.Equal(t, "https://cdn.example.com/111.mp4", items[0].URL)

	assert.Equal(t, "222", items[1].MediaID)
	assert.False(t, items[1].IsVideo)
	assert.Equal(t, "https://cdn.example.com/222.jpg", items[1].URL)
}

func TestHighlightItemsUnknownReel(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"reels": {}, "status": "ok"}`)
	}))

	items, err := fetcher.HighlightItems(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHighlightDescriptors(t *testing.T) {
	items := []HighlightItem{
		{MediaID: "111", URL: "https://cdn.example.com/111.mp4", IsVideo: true},
		{MediaID: "222", URL: "https://cdn.example.com/222.jpg"},
	}

	descs := HighlightDescriptors("someuser", "/data/someuser", "sea-2025", items)
	require.Len(t, descs, 2)

	assert.Equal(t, "someuser_111", descs[0].ID)
	assert.Equal(t, "/data/someuser/highlights/sea-2025/someuser_111.mp4", descs[0].Dest)
	assert.Equal(t, transfer.KindVideo, descs[0].Kind)

	assert.Equal(t, "someuser_222", descs[1].ID)
	assert.Equal(t, "/data/someuser/highlights/sea-2025/someuser_222.jpg", descs[1].Dest)
	assert.Equal(t, transfer.KindImage, descs[1].Kind)
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Sea 2025", "sea-2025"},
		{"My Trip 🌊", "my-trip-🌊"},
		{"Café & Bar", "café-&-bar"},
		{"Море", "море"},
		{"a/b\\c", "a-b-c"},
		{"a - b", "a-b"},
		{" .hidden. ", "hidden"},
		{"", "untitled"},
		{"///", "untitled"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), "title %q", tc.in)
	}
}

func TestSlugSetClaim(t *testing.T) {
	slugs := SlugSet{}

	assert.Equal(t, "trip", slugs.Claim("trip"))
	assert.Equal(t, "trip_2", slugs.Claim("trip"))
	assert.Equal(t, "trip_3", slugs.Claim("trip"))
	assert.Equal(t, "sea", slugs.Claim("sea"))
}
