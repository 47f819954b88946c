package abs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

type Library struct {
	ID             string
	Name           string
	MediaType      string
	AudiobooksOnly bool
}

// LibraryItem is the subset of a library item the scanners read.
// AddedAt is epoch milliseconds.
type LibraryItem struct {
	ID         string
	AddedAt    int64
	MediaType  string
	Title      string
	AuthorName string
	ASIN       string
}

type User struct {
	ID       string
	Username string
	Type     string
	IsLocked bool
}

// MediaProgress is one entry of a user's listening progress.
// FinishedAt is epoch milliseconds.
type MediaProgress struct {
	LibraryItemID string
	MediaItemType string
	DisplayTitle  string
	IsFinished    bool
	FinishedAt    int64
}

// AuthResult reports who the active token belongs to.
type AuthResult struct {
	Username string
	Type     string
	Locked   bool
}

// IsAdmin reports whether the account can read every user's progress.
func (a AuthResult) IsAdmin() bool { return a.Type == "root" || a.Type == "admin" }

type librariesResponse struct {
	Libraries []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		MediaType string `json:"mediaType"`
		Settings  struct {
			AudiobooksOnly bool `json:"audiobooksOnly"`
		} `json:"settings"`
	} `json:"libraries"`
}

// ListLibraries returns every library visible to the active token.
func (c *Client) ListLibraries(ctx context.Context) ([]Library, error) {
	var resp librariesResponse
	if err := c.do(ctx, http.MethodGet, "/api/libraries", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Library, 0, len(resp.Libraries))
	for _, l := range resp.Libraries {
		out = append(out, Library{
			ID:             l.ID,
			Name:           l.Name,
			MediaType:      l.MediaType,
			AudiobooksOnly: l.Settings.AudiobooksOnly,
		})
	}
	return out, nil
}

type itemsResponse struct {
	Results []struct {
		ID        string `json:"id"`
		AddedAt   int64  `json:"addedAt"`
		MediaType string `json:"mediaType"`
		Media     struct {
			Metadata struct {
				Title      string  `json:"title"`
				AuthorName string  `json:"authorName"`
				ASIN       *string `json:"asin"`
			} `json:"metadata"`
		} `json:"media"`
	} `json:"results"`
}

// ListLibraryItems lists a library's items, newest additions first.
func (c *Client) ListLibraryItems(ctx context.Context, libraryID string) ([]LibraryItem, error) {
	q := url.Values{"sort": {"addedAt"}, "desc": {"1"}}
	var resp itemsResponse
	if err := c.do(ctx, http.MethodGet, "/api/libraries/"+url.PathEscape(libraryID)+"/items", q, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]LibraryItem, 0, len(resp.Results))
	for _, it := range resp.Results {
		li := LibraryItem{
			ID:         it.ID,
			AddedAt:    it.AddedAt,
			MediaType:  it.MediaType,
			Title:      it.Media.Metadata.Title,
			AuthorName: it.Media.Metadata.AuthorName,
		}
		if it.Media.Metadata.ASIN != nil {
			li.ASIN = *it.Media.Metadata.ASIN
		}
		out = append(out, li)
	}
	return out, nil
}

// CoverURL returns a public cover link for the item, or "" when the item has no cover.
func (c *Client) CoverURL(ctx context.Context, itemID string) (string, error) {
	path := "/api/items/" + url.PathEscape(itemID) + "/cover"
	err := c.do(ctx, http.MethodHead, path, nil, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.public + path, nil
}

type authorizeResponse struct {
	User struct {
		Username string `json:"username"`
		Type     string `json:"type"`
		IsLocked bool   `json:"isLocked"`
	} `json:"user"`
}

// AuthTest checks the active token. A locked account returns the result
// together with ErrAccountLocked.
func (c *Client) AuthTest(ctx context.Context) (AuthResult, error) {
	var resp authorizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/authorize", nil, nil, &resp); err != nil {
		return AuthResult{}, err
	}
	res := AuthResult{Username: resp.User.Username, Type: resp.User.Type, Locked: resp.User.IsLocked}
	if res.Locked {
		return res, ErrAccountLocked
	}
	return res, nil
}

type usersResponse struct {
	Users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Type     string `json:"type"`
		IsLocked bool   `json:"isLocked"`
	} `json:"users"`
}

// ListUsers requires an admin token.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp usersResponse
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]User, 0, len(resp.Users))
	for _, u := range resp.Users {
		out = append(out, User{ID: u.ID, Username: u.Username, Type: u.Type, IsLocked: u.IsLocked})
	}
	return out, nil
}

type userResponse struct {
	MediaProgress []struct {
		LibraryItemID string `json:"libraryItemId"`
		MediaItemType string `json:"mediaItemType"`
		DisplayTitle  string `json:"displayTitle"`
		IsFinished    bool   `json:"isFinished"`
		FinishedAt    *int64 `json:"finishedAt"`
	} `json:"mediaProgress"`
}

// UserProgress returns a user's media progress entries.
func (c *Client) UserProgress(ctx context.Context, userID string) ([]MediaProgress, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]MediaProgress, 0, len(resp.MediaProgress))
	for _, p := range resp.MediaProgress {
		mp := MediaProgress{
			LibraryItemID: p.LibraryItemID,
			MediaItemType: p.MediaItemType,
			DisplayTitle:  p.DisplayTitle,
			IsFinished:    p.IsFinished,
		}
		if p.FinishedAt != nil {
			mp.FinishedAt = *p.FinishedAt
		}
		out = append(out, mp)
	}
	return out, nil
}
