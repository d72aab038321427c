package interfaces

import (
	"context"
	"encoding/json"
)

// PublishResult is the remote identity of a published page.
type PublishResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Publisher is the third-party publishing collaborator (e.g. a WordPress
// REST client). Only the surface the core needs is specified here.
type Publisher interface {
	Publish(ctx context.Context, content json.RawMessage) (*PublishResult, error)
}

// OAuthTokens holds the credential material returned by a code exchange.
type OAuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// SearchConsole is the search-engine indexing collaborator.
type SearchConsole interface {
	ExchangeCode(ctx context.Context, code string) (*OAuthTokens, error)
	SubmitURLForIndexing(ctx context.Context, url string) error
}
