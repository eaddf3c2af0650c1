// Package market defines the domain types shared by the search, saved-list
// and notification components of the marketmaster client.
package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Product is a marketplace listing returned by the backend. It is read-only
// to the client.
type Product struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ImageURL    string `json:"image_url"`
	Price       string `json:"price"`
	Rating      string `json:"rating"`
	ReviewCount string `json:"review_count"`
	DetailURL   string `json:"detail_url"`
}

// wireProduct accepts the two shapes the backend produces: the search
// listing (main_Image, product_title, url) and the saved list
// (mainImage_url, title).
type wireProduct struct {
	ID           flexString `json:"id"`
	Title        flexString `json:"title"`
	ProductTitle flexString `json:"product_title"`
	MainImage    flexString `json:"main_Image"`
	MainImageURL flexString `json:"mainImage_url"`
	ImageURL     flexString `json:"image_url"`
	Price        flexString `json:"price"`
	Rating       flexString `json:"rating"`
	Reviews      flexString `json:"reviews"`
	ReviewCount  flexString `json:"review_count"`
	URL          flexString `json:"url"`
	DetailURL    flexString `json:"detail_url"`
}

// UnmarshalJSON decodes either backend product shape.
func (p *Product) UnmarshalJSON(data []byte) error {
	var w wireProduct
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}
	var id int64
	if w.ID != "" {
		parsed, err := strconv.ParseInt(string(w.ID), 10, 64)
		if err != nil {
			return fmt.Errorf("decode product id %q: %w", w.ID, err)
		}
		id = parsed
	}
	*p = Product{
		ID:          id,
		Title:       firstNonEmpty(w.Title, w.ProductTitle),
		ImageURL:    firstNonEmpty(w.ImageURL, w.MainImage, w.MainImageURL),
		Price:       string(w.Price),
		Rating:      string(w.Rating),
		ReviewCount: firstNonEmpty(w.ReviewCount, w.Reviews),
		DetailURL:   firstNonEmpty(w.DetailURL, w.URL),
	}
	return nil
}

// KeywordValidation is the backend verdict on a raw search term.
type KeywordValidation struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized_keyword"`
}

// ProductsResult carries a product lookup outcome. Accepted reports that the
// backend scheduled a crawl and results will be announced by notification.
type ProductsResult struct {
	Products []Product
	Accepted bool
}

// Notification is a completion event pushed over the notification channel.
type Notification struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	Keyword    string    `json:"keyword,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// UnmarshalJSON tolerates numeric or string ids.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w struct {
		ID      flexString `json:"id"`
		Message string     `json:"message"`
		Keyword string     `json:"keyword"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	n.ID = string(w.ID)
	n.Message = w.Message
	n.Keyword = w.Keyword
	return nil
}

// UserProfile is the signed-in account summary.
type UserProfile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Statistics summarizes the crawled listings for one keyword.
type Statistics struct {
	SellerCount    int        `json:"seller_count"`
	PriceRange     [2]float64 `json:"price_range"`
	AveragePrice   float64    `json:"average_price"`
	AverageRating  float64    `json:"average_rating"`
	AverageReviews float64    `json:"average_reviews"`
}

// flexString decodes JSON strings, numbers, and null into a string.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err //nolint:wrapcheck // surfaced through the enclosing decoder
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err //nolint:wrapcheck // surfaced through the enclosing decoder
	}
	*s = flexString(num.String())
	return nil
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}
