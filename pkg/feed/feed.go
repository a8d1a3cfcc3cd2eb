// Package feed resolves user timelines from the metadata API into
// transferable asset descriptors.
//
// Every request goes through the retrying caller, so pagination inherits
// the rate-limit window, proxy rotation, and backoff behavior without any
// logic of its own.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"mediafetch/pkg/client"
	apierrors "mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/transfer"
)

const (
	// DefaultBaseURL is the metadata API origin.
	DefaultBaseURL = "https://www.instagram.com"

	profileEndpoint = "/api/v1/users/web_profile_info/"
	mediaEndpoint   = "/graphql/query/"

	// mediaQueryHash identifies the timeline query on the GraphQL endpoint.
	mediaQueryHash = "e769aa130647d2354c40ea6a439bfc08"

	// DefaultPageSize matches what the web client requests per page.
	DefaultPageSize = 12

	// MaxPageSize is the largest page the endpoint serves.
	MaxPageSize = 50
)

// PageFetcher yields successive timeline pages. An empty cursor requests
// the first page; the returned page carries the cursor for the next call.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (*Page, error)
}

// Fetcher resolves profiles and timeline pages through a session and a
// retrying caller.
type Fetcher struct {
	session  *client.Session
	caller   *client.Caller
	baseURL  string
	pageSize int
	log      logger.Logger
}

// NewFetcher creates a Fetcher. baseURL defaults to the public API origin
// and pageSize to the web client's page size.
func NewFetcher(session *client.Session, caller *client.Caller, baseURL string, pageSize int, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	} else if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Fetcher{
		session:  session,
		caller:   caller,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: pageSize,
		log:      log,
	}
}

// Profile fetches a user's profile by handle. Private profiles come back
// as data, not errors; callers decide whether privacy is fatal.
func (f *Fetcher) Profile(ctx context.Context, handle string) (*Profile, error) {
	handle = SanitizeHandle(handle)
	if !ValidHandle(handle) {
		return nil, fmt.Errorf("invalid handle %q", handle)
	}

	var resp profileResponse
	err := f.caller.Call(ctx, "profile", func(ctx context.Context) error {
		return f.session.GetJSON(ctx, f.profileURL(handle), &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, apierrors.New(apierrors.ErrorTypeAuth, http.StatusUnauthorized, "profile requires login")
	}
	if resp.Data.User.ID == "" {
		return nil, apierrors.New(apierrors.ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("no such user %q", handle))
	}

	u := resp.Data.User
	return &Profile{
		ID:        u.ID,
		Handle:    u.Username,
		FullName:  u.FullName,
		IsPrivate: u.IsPrivate,
		PostCount: u.TimelineMedia.Count,
	}, nil
}

// Timeline binds the fetcher to one user and returns a PageFetcher for
// their posts. Private profiles are rejected up front: the timeline
// endpoint would only return empty pages for them.
func (f *Fetcher) Timeline(profile *Profile) (PageFetcher, error) {
	if profile.IsPrivate {
		return nil, apierrors.New(apierrors.ErrorTypePrivate, http.StatusForbidden,
			fmt.Sprintf("account %q is private", profile.Handle))
	}
	return &timeline{fetcher: f, userID: profile.ID}, nil
}

type timeline struct {
	fetcher *Fetcher
	userID  string
}

// FetchPage fetches one timeline page for the bound user.
func (t *timeline) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	f := t.fetcher

	var resp mediaResponse
	err := f.caller.Call(ctx, "timeline", func(ctx context.Context) error {
		return f.session.GetJSON(ctx, f.mediaURL(t.userID, cursor), &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, apierrors.New(apierrors.ErrorTypeAuth, http.StatusUnauthorized, "timeline requires login")
	}

	media := resp.Data.User.TimelineMedia
	page := &Page{
		Posts:       make([]Post, 0, len(media.Edges)),
		HasNextPage: media.PageInfo.HasNextPage,
		EndCursor:   media.PageInfo.EndCursor,
	}
	for _, e := range media.Edges {
		page.Posts = append(page.Posts, e.Node.toPost())
	}

	f.log.DebugWithFields("timeline page fetched", map[string]interface{}{
		"posts":    len(page.Posts),
		"has_next": page.HasNextPage,
	})
	return page, nil
}

func (f *Fetcher) profileURL(handle string) string {
	params := url.Values{}
	params.Set("username", handle)
	return f.baseURL + profileEndpoint + "?" + params.Encode()
}

func (f *Fetcher) mediaURL(userID, cursor string) string {
	vars := map[string]interface{}{
		"id":    userID,
		"first": f.pageSize,
	}
	if cursor != "" {
		vars["after"] = cursor
	}
	// The variables are server-parsed JSON inside a query parameter.
	encoded, _ := json.Marshal(vars)

	params := url.Values{}
	params.Set("query_hash", mediaQueryHash)
	params.Set("variables", string(encoded))
	return f.baseURL + mediaEndpoint + "?" + params.Encode()
}

// Descriptors maps a page of posts to transfer descriptors rooted under
// dir. Filenames follow {handle}_{shortcode}.{ext}, with a 1-based index
// suffix for carousel children; the identifier matches the filename stem
// so every carousel child deduplicates independently.
func Descriptors(handle, dir string, posts []Post) []transfer.Descriptor {
	var out []transfer.Descriptor
	for _, post := range posts {
		for _, m := range post.Media {
			stem := handle + "_" + post.Shortcode
			if m.Index > 0 {
				stem = fmt.Sprintf("%s_%d", stem, m.Index)
			}

			kind, ext := transfer.KindImage, "jpg"
			if m.IsVideo {
				kind, ext = transfer.KindVideo, "mp4"
			}

			out = append(out, transfer.Descriptor{
				ID:   stem,
				URL:  m.URL,
				Dest: filepath.Join(dir, stem+"."+ext),
				Kind: kind,
			})
		}
	}
	return out
}

// ValidHandle reports whether a handle satisfies the API's naming rules:
// letters, digits, periods, and underscores, at most 30 characters.
func ValidHandle(handle string) bool {
	if handle == "" || len(handle) > 30 {
		return false
	}
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_':
		default:
			return false
		}
	}
	return true
}

// SanitizeHandle strips decoration users paste in: a leading @, trailing
// slashes, and surrounding whitespace.
func SanitizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(handle, "@")
	return strings.TrimRight(handle, "/ ")
}
