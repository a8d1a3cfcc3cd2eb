package feed

// Profile is the subset of a user profile the fetch pipeline needs.
type Profile struct {
	ID        string
	Handle    string
	FullName  string
	IsPrivate bool
	PostCount int
}

// Media is one fetchable asset within a post. Index is 1-based for
// carousel children and zero for single-media posts.
type Media struct {
	URL     string
	IsVideo bool
	Index   int
}

// Post is one timeline entry with its resolved media.
type Post struct {
	Shortcode string
	IsVideo   bool
	Media     []Media
}

// Page is one page of a user's timeline.
type Page struct {
	Posts       []Post
	HasNextPage bool
	EndCursor   string
}

// Wire types below mirror the API's GraphQL response shape.

type profileResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Status          string `json:"status"`
	Data            struct {
		User userNode `json:"user"`
	} `json:"data"`
}

type userNode struct {
	ID            string        `json:"id"`
	Username      string        `json:"username"`
	FullName      string        `json:"full_name"`
	IsPrivate     bool          `json:"is_private"`
	TimelineMedia timelineMedia `json:"edge_owner_to_timeline_media"`
}

type mediaResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Status          string `json:"status"`
	Data            struct {
		User struct {
			TimelineMedia timelineMedia `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

type timelineMedia struct {
	Count    int      `json:"count"`
	PageInfo pageInfo `json:"page_info"`
	Edges    []edge   `json:"edges"`
}

type pageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

type edge struct {
	Node node `json:"node"`
}

type node struct {
	ID         string `json:"id"`
	Shortcode  string `json:"shortcode"`
	Typename   string `json:"__typename"`
	DisplayURL string `json:"display_url"`
	VideoURL   string `json:"video_url"`
	IsVideo    bool   `json:"is_video"`
	Sidecar    struct {
		Edges []edge `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

// toPost flattens a timeline node into a Post. Carousel children become
// indexed media; a single-media node yields one unindexed entry.
func (n node) toPost() Post {
	p := Post{Shortcode: n.Shortcode, IsVideo: n.IsVideo}

	if len(n.Sidecar.Edges) > 0 {
		for i, child := range n.Sidecar.Edges {
			url := child.Node.DisplayURL
			if child.Node.IsVideo && child.Node.VideoURL != "" {
				url = child.Node.VideoURL
			}
			if url == "" {
				continue
			}
			p.Media = append(p.Media, Media{
				URL:     url,
				IsVideo: child.Node.IsVideo,
				Index:   i + 1,
			})
		}
		return p
	}

	url := n.DisplayURL
	if n.IsVideo && n.VideoURL != "" {
		url = n.VideoURL
	}
	if url != "" {
		p.Media = append(p.Media, Media{URL: url, IsVideo: n.IsVideo})
	}
	return p
}
