package ghost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mealplan/internal/config"
	"mealplan/internal/recipe"

	"github.com/PuerkitoBio/goquery"
)

// Post represents a single recipe post from the Ghost API.
type Post struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	HTML      string `json:"html"`
	Excerpt   string `json:"custom_excerpt"`
	Tags      []Tag  `json:"tags"`
	UpdatedAt string `json:"updated_at"`
}

// Tag is a Ghost post tag.
type Tag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// PostsResponse is the top-level structure of the Ghost API response for posts.
type PostsResponse struct {
	Posts []Post `json:"posts"`
}

// Client fetches recipe posts from the Ghost Content API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	key        string
}

// NewClient creates a new Ghost API client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.IndexTimeout},
		baseURL:    strings.TrimRight(cfg.GhostURL, "/"),
		key:        cfg.GhostContentKey,
	}
}

// Enabled reports whether a Ghost site is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.key != ""
}

// FetchPost fetches one post by id. It returns nil, nil when Ghost does not know the post.
func (c *Client) FetchPost(ctx context.Context, id string) (*Post, error) {
	u := fmt.Sprintf("%s/ghost/api/content/posts/%s/?key=%s&include=tags",
		c.baseURL, url.PathEscape(id), url.QueryEscape(c.key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content api error: status %d", resp.StatusCode)
	}

	var postsResponse PostsResponse
	if err := json.NewDecoder(resp.Body).Decode(&postsResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(postsResponse.Posts) == 0 {
		return nil, nil
	}
	return &postsResponse.Posts[0], nil
}

// RecipeSource exposes Ghost posts as recipe details. It implements recipe.Lookup.
type RecipeSource struct {
	client *Client
}

// NewRecipeSource creates a RecipeSource.
func NewRecipeSource(client *Client) *RecipeSource {
	return &RecipeSource{client: client}
}

// Get fetches the post with the given id and converts it into a recipe.
func (s *RecipeSource) Get(ctx context.Context, id string) (*recipe.Recipe, error) {
	if !s.client.Enabled() {
		return nil, nil
	}
	post, err := s.client.FetchPost(ctx, id)
	if err != nil || post == nil {
		return nil, err
	}
	rec, err := PostToRecipe(*post)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PostToRecipe extracts recipe fields from a post's HTML body. Ingredients
// are the list items following an "Ingredients" heading, or the first list
// in the post when there is no such heading.
func PostToRecipe(post Post) (recipe.Recipe, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(post.HTML))
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("failed to parse post html: %w", err)
	}

	rec := recipe.Recipe{
		ID:      post.ID,
		Title:   strings.TrimSpace(post.Title),
		Summary: strings.TrimSpace(post.Excerpt),
	}

	if rec.Summary == "" {
		rec.Summary = strings.TrimSpace(doc.Find("p").First().Text())
	}

	list := ingredientList(doc)
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		if text := strings.Join(strings.Fields(li.Text()), " "); text != "" {
			rec.Ingredients = append(rec.Ingredients, text)
		}
	})

	for _, tag := range post.Tags {
		if c := recipe.Category(tag.Slug); c.Valid() {
			rec.Category = c
			continue
		}
		rec.Tags = append(rec.Tags, strings.ToLower(tag.Name))
	}

	if t, err := time.Parse(time.RFC3339, post.UpdatedAt); err == nil {
		rec.UpdatedAt = t.UTC()
	}
	return rec, nil
}

func ingredientList(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("h1, h2, h3, h4, strong").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "ingredient") {
			return true
		}
		heading := h
		if goquery.NodeName(h) == "strong" {
			heading = h.Parent()
		}
		if l := heading.NextAllFiltered("ul, ol").First(); l.Length() > 0 {
			found = l
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	return doc.Find("ul, ol").First()
}
