package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/pkg/client"
	"mediafetch/pkg/config"
	apierrors "mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/transfer"
)

// noopLimiter admits every request immediately.
type noopLimiter struct{}

func (noopLimiter) Admit(context.Context) error { return nil }
func (noopLimiter) Record()                     {}
func (noopLimiter) InWindow() int               { return 0 }
func (noopLimiter) Reset()                      {}

func newTestFetcher(t *testing.T, handler http.Handler) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	session := client.NewSession("test-agent", 5*time.Second, nil, logger.Nop())
	t.Cleanup(session.Close)

	caller := client.NewCaller(noopLimiter{}, nil, &config.RetryConfig{
		MaxAttempts: 1,
	}, logger.Nop())

	return NewFetcher(session, caller, srv.URL, DefaultPageSize, logger.Nop())
}

func profileBody(id, handle string, private bool, count int) string {
	return fmt.Sprintf(`{
		"data": {"user": {
			"id": %q, "username": %q, "full_name": "Test User",
			"is_private": %t,
			"edge_owner_to_timeline_media": {"count": %d}
		}},
		"status": "ok"
	}`, id, handle, private, count)
}

func TestProfileFetch(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, profileEndpoint, r.URL.Path)
		require.Equal(t, "someuser", r.URL.Query().Get("username"))
		fmt.Fprint(w, profileBody("1234", "someuser", false, 42))
	}))

	profile, err := fetcher.Profile(context.Background(), "@someuser")
	require.NoError(t, err)

	assert.Equal(t, "1234", profile.ID)
	assert.Equal(t, "someuser", profile.Handle)
	assert.False(t, profile.IsPrivate)
	assert.Equal(t, 42, profile.PostCount)
}

func TestProfileUnknownUser(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"user": {}}, "status": "ok"}`)
	}))

	_, err := fetcher.Profile(context.Background(), "ghost")
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.ErrorTypeNotFound, apiErr.Type)
}

func TestProfileLoginWall(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"requires_to_login": true, "data": {"user": {"id": "1"}}, "status": "ok"}`)
	}))

	_, err := fetcher.Profile(context.Background(), "someuser")
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.ErrorTypeAuth, apiErr.Type)
}

func TestProfileRejectsInvalidHandle(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an invalid handle")
	}))

	_, err := fetcher.Profile(context.Background(), "not a handle!")
	require.Error(t, err)
}

func TestTimelineRejectsPrivateProfile(t *testing.T) {
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := fetcher.Timeline(&Profile{ID: "1", Handle: "hermit", IsPrivate: true})
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.ErrorTypePrivate, apiErr.Type)
}

func TestTimelinePagination(t *testing.T) {
	pages := map[string]string{
		// First page: one image, one carousel; more to come.
		"": `{
			"data": {"user": {"edge_owner_to_timeline_media": {
				"count": 3,
				"page_info": {"has_next_page": true, "end_cursor": "CURSOR1"},
				"edges": [
					{"node": {
						"shortcode": "AAA", "is_video": false,
						"display_url": "https://cdn.example.com/aaa.jpg"
					}},
					{"node": {
						"shortcode": "BBB", "is_video": false,
						"display_url": "https://cdn.example.com/bbb_cover.jpg",
						"edge_sidecar_to_children": {"edges": [
							{"node": {"is_video": false, "display_url": "https://cdn.example.com/bbb1.jpg"}},
							{"node": {"is_video": true, "display_url": "https://cdn.example.com/bbb2_cover.jpg", "video_url": "https://cdn.example.com/bbb2.mp4"}}
						]}
					}}
				]
			}}},
			"status": "ok"
		}`,
		// Second page: one video; end of timeline.
		"CURSOR1": `{
			"data": {"user": {"edge_owner_to_timeline_media": {
				"count": 3,
				"page_info": {"has_next_page": false, "end_cursor": ""},
				"edges": [
					{"node": {
						"shortcode": "CCC", "is_video": true,
						"display_url": "https://cdn.example.com/ccc_cover.jpg",
						"video_url": "https://cdn.example.com/ccc.mp4"
					}}
				]
			}}},
			"status": "ok"
		}`,
	}

	var cursors []string
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, mediaEndpoint, r.URL.Path)
		require.Equal(t, mediaQueryHash, r.URL.Query().Get("query_hash"))

		var vars struct {
			ID    string `json:"id"`
			First int    `json:"first"`
			After string `json:"after"`
		}
		require.NoError(t, jsonUnmarshal(r.URL.Query().Get("variables"), &vars))
		require.Equal(t, "1234", vars.ID)
		require.Equal(t, DefaultPageSize, vars.First)

		cursors = append(cursors, vars.After)
		body, ok := pages[vars.After]
		require.True(t, ok, "unexpected cursor %q", vars.After)
		fmt.Fprint(w, body)
	}))

	tl, err := fetcher.Timeline(&Profile{ID: "1234", Handle: "someuser"})
	require.NoError(t, err)

	page1, err := tl.FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, page1.HasNextPage)
	assert.Equal(t, "CURSOR1", page1.EndCursor)
	require.Len(t, page1.Posts, 2)

	// Carousel children come back indexed; the cover image is not a media item.
	carousel := page1.Posts[1]
	require.Len(t, carousel.Media, 2)
	assert.Equal(t, 1, carousel.Media[0].Index)
	assert.Equal(t, "https://cdn.example.com/bbb1.jpg", carousel.Media[0].URL)
	assert.Equal(t, 2, carousel.Media[1].Index)
	assert.Equal(t, "https://cdn.example.com/bbb2.mp4", carousel.Media[1].URL)
	assert.True(t, carousel.Media[1].IsVideo)

	page2, err := tl.FetchPage(context.Background(), page1.EndCursor)
	require.NoError(t, err)
	assert.False(t, page2.HasNextPage)
	require.Len(t, page2.Posts, 1)
	assert.Equal(t, "https://cdn.example.com/ccc.mp4", page2.Posts[0].Media[0].URL)

	assert.Equal(t, []string{"", "CURSOR1"}, cursors)
}

func TestDescriptorNaming(t *testing.T) {
	posts := []Post{
		{Shortcode: "AAA", Media: []Media{
			{URL: "https://cdn.example.com/a.jpg"},
		}},
		{Shortcode: "BBB", Media: []Media{
			{URL: "https://cdn.example.com/b1.jpg", Index: 1},
			{URL: "https://cdn.example.com/b2.mp4", IsVideo: true, Index: 2},
		}},
	}

	descs := Descriptors("someuser", "/data/someuser", posts)
	require.Len(t, descs, 3)

	assert.Equal(t, "someuser_AAA", descs[0].ID)
	assert.Equal(t, "/data/someuser/someuser_AAA.jpg", descs[0].Dest)
	assert.Equal(t, transfer.KindImage, descs[0].Kind)

	assert.Equal(t, "someuser_BBB_1", descs[1].ID)
	assert.Equal(t, "/data/someuser/someuser_BBB_1.jpg", descs[1].Dest)

	assert.Equal(t, "someuser_BBB_2", descs[2].ID)
	assert.Equal(t, "/data/someuser/someuser_BBB_2.mp4", descs[2].Dest)
	assert.Equal(t, transfer.KindVideo, descs[2].Kind)
}

func TestDescriptorsSkipURLLessMedia(t *testing.T) {
	n := node{Shortcode: "XXX", IsVideo: true} // no URLs resolved
	post := n.toPost()
	assert.Empty(t, post.Media)
	assert.Empty(t, Descriptors("u", "/tmp", []Post{post}))
}

func TestHandleValidation(t *testing.T) {
	cases := []struct {
		handle string
		valid  bool
	}{
		{"someuser", true},
		{"some.user_99", true},
		{"", false},
		{"has space", false},
		{"emoji🎉", false},
		{"waaaaaaaaaaaaaaaaaaaaaaaaaaytoolong", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, ValidHandle(tc.handle), "handle %q", tc.handle)
	}

	assert.Equal(t, "someuser", SanitizeHandle(" @someuser/ "))
}

func jsonUnmarshal(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
