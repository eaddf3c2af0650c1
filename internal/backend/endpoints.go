package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/JakeFAU/marketmaster/internal/market"
)

// ValidateKeyword asks the backend whether keyword is a meaningful search term.
func (c *Client) ValidateKeyword(ctx context.Context, keyword string) (market.KeywordValidation, error) {
	var out market.KeywordValidation
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "validate_keyword",
		path:     "validate_keyword",
		query:    url.Values{"keyword": {keyword}},
	}, &out)
	if err != nil {
		return market.KeywordValidation{}, fmt.Errorf("client.ValidateKeyword: %w", err)
	}
	return out, nil
}

// Translate renders text in the dest language.
func (c *Client) Translate(ctx context.Context, text, dest string) (string, error) {
	var out struct {
		TranslatedText string `json:"translated_text"`
	}
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "translate",
		path:     "translate",
		query:    url.Values{"text": {text}, "dest": {dest}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("client.Translate: %w", err)
	}
	return out.TranslatedText, nil
}

// FetchProducts looks up listings for keyword. A 202 reply means the backend
// scheduled a crawl for sessionID and reports Accepted with no products.
func (c *Client) FetchProducts(ctx context.Context, keyword, sessionID string) (market.ProductsResult, error) {
	var products []market.Product
	status, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "fetch_products",
		path:     "fetch_products",
		query:    url.Values{"keyword": {keyword}, "sessionId": {sessionID}},
	}, &products)
	if err != nil {
		return market.ProductsResult{}, fmt.Errorf("client.FetchProducts: %w", err)
	}
	switch status {
	case http.StatusOK:
		if products == nil {
			products = []market.Product{}
		}
		return market.ProductsResult{Products: products}, nil
	case http.StatusAccepted:
		return market.ProductsResult{Accepted: true}, nil
	default:
		return market.ProductsResult{}, fmt.Errorf("client.FetchProducts: %w",
			&HTTPError{StatusCode: status, Message: "unexpected status"})
	}
}

// SignUp registers an account and returns the backend's confirmation message.
func (c *Client) SignUp(ctx context.Context, name, email, password string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "signup",
		path:     "signup",
		json: map[string]string{
			"name":     name,
			"email":    email,
			"password": password,
		},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("client.SignUp: %w", err)
	}
	return out.Message, nil
}

// SignIn exchanges credentials for a bearer token using the OAuth2 password
// form.
func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "signin",
		path:     "signin",
		form:     url.Values{"username": {email}, "password": {password}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("client.SignIn: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("client.SignIn: response carried no access token")
	}
	return out.AccessToken, nil
}

// Profile returns the signed-in account.
func (c *Client) Profile(ctx context.Context) (market.UserProfile, error) {
	var out market.UserProfile
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "profile",
		path:     "profile",
		auth:     true,
	}, &out)
	if err != nil {
		return market.UserProfile{}, fmt.Errorf("client.Profile: %w", err)
	}
	return out, nil
}

// SavedList returns the signed-in user's saved products. The backend answers
// 404 for an empty list; that is reported as an empty slice.
func (c *Client) SavedList(ctx context.Context) ([]market.Product, error) {
	var out []market.Product
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "get_savedLists",
		path:     "get_savedLists",
		auth:     true,
	}, &out)
	if errors.Is(err, ErrNotFound) {
		return []market.Product{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client.SavedList: %w", err)
	}
	if out == nil {
		out = []market.Product{}
	}
	return out, nil
}

// SaveProduct adds productID to the signed-in user's saved list.
func (c *Client) SaveProduct(ctx context.Context, productID int64) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "save_to_savedLists",
		path:     "save_to_savedLists",
		json:     map[string]int64{"product_id": productID},
		auth:     true,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("client.SaveProduct: %w", err)
	}
	return out.Message, nil
}

// UnsaveProduct removes productID from the signed-in user's saved list.
func (c *Client) UnsaveProduct(ctx context.Context, productID int64) error {
	_, err := c.do(ctx, request{
		method:   http.MethodDelete,
		endpoint: "unsave_product",
		path:     "unsave_product/" + url.PathEscape(strconv.FormatInt(productID, 10)),
		auth:     true,
	}, nil)
	if err != nil {
		return fmt.Errorf("client.UnsaveProduct: %w", err)
	}
	return nil
}

// Statistics summarizes the crawled listings for keyword.
func (c *Client) Statistics(ctx context.Context, keyword string) (market.Statistics, error) {
	var out market.Statistics
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "fetch_statistics",
		path:     "fetch_statistics",
		query:    url.Values{"keyword": {keyword}},
	}, &out)
	if err != nil {
		return market.Statistics{}, fmt.Errorf("client.Statistics: %w", err)
	}
	return out, nil
}

// SuggestedTitle asks the backend for a listing title idea for keyword.
func (c *Client) SuggestedTitle(ctx context.Context, keyword string) (string, error) {
	var out string
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "suggested_title",
		path:     "suggested_title",
		query:    url.Values{"keyword": {keyword}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("client.SuggestedTitle: %w", err)
	}
	return out, nil
}
