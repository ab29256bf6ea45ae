package client

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Favorite marks a tool the user pinned for quick access.
type Favorite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ToolID    string    `json:"toolId"`
	Tool      *Tool     `json:"tool,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListFavorites returns the user's favorited tools.
func (c *Client) ListFavorites(ctx context.Context) ([]*Favorite, error) {
	var favorites []*Favorite
	if err := c.unwrap(ctx, http.MethodGet, "/api/public/favorites", nil, nil, &favorites); err != nil {
		return nil, err
	}
	return favorites, nil
}

// AddFavorite pins a tool. Adding an already-favorited tool is a no-op on the
// backend and returns the existing favorite.
func (c *Client) AddFavorite(ctx context.Context, toolID string) (*Favorite, error) {
	var favorite Favorite
	path := "/api/public/favorites/" + url.PathEscape(toolID)
	if err := c.unwrap(ctx, http.MethodPost, path, nil, nil, &favorite); err != nil {
		return nil, err
	}
	return &favorite, nil
}

// RemoveFavorite unpins a tool.
func (c *Client) RemoveFavorite(ctx context.Context, toolID string) error {
	return c.do(ctx, http.MethodDelete, "/api/public/favorites/"+url.PathEscape(toolID), nil, nil, nil)
}

// IsFavorited reports whether toolID is among the user's favorites. Useful
// for an initial load; callers holding the full list should check locally.
func (c *Client) IsFavorited(ctx context.Context, toolID string) (bool, error) {
	favorites, err := c.ListFavorites(ctx)
	if err != nil {
		return false, err
	}
	for _, fav := range favorites {
		if fav.ToolID == toolID {
			return true, nil
		}
	}
	return false, nil
}
