package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	apierrors "mediafetch/pkg/errors"
	"mediafetch/pkg/transfer"
)

const (
	reelsMediaEndpoint = "/api/v1/feed/reels_media/"

	// highlightReelPrefix decorates highlight IDs on the wire; stored and
	// requested IDs are the bare numeric part.
	highlightReelPrefix = "highlight:"
)

// Highlight is one highlight reel on a profile. Items are fetched
// separately per reel.
type Highlight struct {
	ID         string
	Title      string
	MediaCount int
}

// HighlightItem is one fetchable asset inside a highlight reel.
type HighlightItem struct {
	MediaID string
	URL     string
	IsVideo bool
}

// Highlights lists a user's highlight reels. The tray endpoint sits
// behind the login wall, so anonymous sessions get an auth error back.
func (f *Fetcher) Highlights(ctx context.Context, userID string) ([]Highlight, error) {
	var resp trayResponse
	err := f.caller.Call(ctx, "highlights", func(ctx context.Context) error {
		return f.session.GetJSON(ctx, f.highlightsURL(userID), &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, apierrors.New(apierrors.ErrorTypeAuth, http.StatusUnauthorized, "highlights require login")
	}

	out := make([]Highlight, 0, len(resp.Tray))
	for _, item := range resp.Tray {
		out = append(out, Highlight{
			ID:         strings.TrimPrefix(item.ID, highlightReelPrefix),
			Title:      item.Title,
			MediaCount: item.MediaCount,
		})
	}

	f.log.DebugWithFields("highlights tray fetched", map[string]interface{}{
		"user_id":    userID,
		"highlights": len(out),
	})
	return out, nil
}

// HighlightItems fetches the media items of one highlight reel by its
// bare numeric ID. Items without a resolvable URL are dropped.
func (f *Fetcher) HighlightItems(ctx context.Context, highlightID string) ([]HighlightItem, error) {
	reelID := highlightReelPrefix + highlightID

	var resp reelsResponse
	err := f.caller.Call(ctx, "highlight_items", func(ctx context.Context) error {
		return f.session.GetJSON(ctx, f.reelsURL(reelID), &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, apierrors.New(apierrors.ErrorTypeAuth, http.StatusUnauthorized, "highlights require login")
	}

	items := resp.Reels[reelID].Items
	out := make([]HighlightItem, 0, len(items))
	for _, item := range items {
		isVideo := item.MediaType == 2

		var mediaURL string
		if isVideo {
			if len(item.VideoVersions) > 0 {
				mediaURL = item.VideoVersions[0].URL
			}
		} else if len(item.ImageVersions.Candidates) > 0 {
			mediaURL = item.ImageVersions.Candidates[0].URL
		}
		if mediaURL == "" {
			continue
		}

		out = append(out, HighlightItem{
			MediaID: item.PK.String(),
			URL:     mediaURL,
			IsVideo: isVideo,
		})
	}
	return out, nil
}

func (f *Fetcher) highlightsURL(userID string) string {
	return f.baseURL + "/api/v1/highlights/" + url.PathEscape(userID) + "/highlights_tray/"
}

func (f *Fetcher) reelsURL(reelID string) string {
	params := url.Values{}
	params.Set("reel_ids", reelID)
	return f.baseURL + reelsMediaEndpoint + "?" + params.Encode()
}

// HighlightDescriptors maps a reel's items to transfer descriptors under
// dir/highlights/{slug}. Filenames follow {handle}_{mediaID}.{ext}; the
// identifier matches the filename stem, so an item reused across reels
// still deduplicates through the archive.
func HighlightDescriptors(handle, dir, slug string, items []HighlightItem) []transfer.Descriptor {
	out := make([]transfer.Descriptor, 0, len(items))
	for _, item := range items {
		stem := handle + "_" + item.MediaID

		kind, ext := transfer.KindImage, "jpg"
		if item.IsVideo {
			kind, ext = transfer.KindVideo, "mp4"
		}

		out = append(out, transfer.Descriptor{
			ID:   stem,
			URL:  item.URL,
			Dest: filepath.Join(dir, "highlights", slug, stem+"."+ext),
			Kind: kind,
		})
	}
	return out
}

// Slugify turns a highlight title into a filesystem-safe directory name.
// Unicode survives (emoji, accents, cyrillic); control characters, path
// separators, and whitespace become hyphens, runs of hyphens collapse,
// and leading/trailing hyphens and dots are stripped. An empty result
// falls back to "untitled".
func Slugify(title string) string {
	title = strings.ToLower(norm.NFC.String(title))

	var b strings.Builder
	hyphen := false
	for _, r := range title {
		unsafe := r < 0x20 || r == 0x7f || r == '/' || r == '\\' || r == '-' || unicode.IsSpace(r)
		if unsafe {
			if !hyphen {
				b.WriteByte('-')
				hyphen = true
			}
			continue
		}
		b.WriteRune(r)
		hyphen = false
	}

	slug := strings.Trim(b.String(), "-.")
	if slug == "" {
		return "untitled"
	}
	return slug
}

// SlugSet disambiguates directory slugs within one run, so two reels
// titled the same land in distinct directories.
type SlugSet map[string]struct{}

// Claim reserves slug, appending _2, _3, ... on collision, and returns
// the reserved name.
func (s SlugSet) Claim(slug string) string {
	if _, taken := s[slug]; !taken {
		s[slug] = struct{}{}
		return slug
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", slug, i)
		if _, taken := s[candidate]; !taken {
			s[candidate] = struct{}{}
			return candidate
		}
	}
}

// Wire types for the highlights tray and reels media endpoints.

type trayResponse struct {
	RequiresToLogin bool       `json:"requires_to_login"`
	Tray            []trayItem `json:"tray"`
}

type trayItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	MediaCount int    `json:"media_count"`
}

type reelsResponse struct {
	RequiresToLogin bool            `json:"requires_to_login"`
	Reels           map[string]reel `json:"reels"`
}

type reel struct {
	Items []reelItem `json:"items"`
}

// reelItem mirrors one REST media item. PK arrives as a number or a
// string depending on the endpoint revision, hence json.Number.
type reelItem struct {
	PK            json.Number `json:"pk"`
	MediaType     int         `json:"media_type"`
	ImageVersions struct {
		Candidates []versionedURL `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []versionedURL `json:"video_versions"`
}

type versionedURL struct {
	URL string `json:"url"`
}
