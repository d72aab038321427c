package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
)

// loopbackPublisher is the built-in Publisher used when no real publishing
// client is wired. It assigns a synthetic remote identity so the rest of
// the chain (index, monitor) can run end to end against local state.
type loopbackPublisher struct {
	baseURL string
	logger  arbor.ILogger
}

func newLoopbackPublisher(logger arbor.ILogger) interfaces.Publisher {
	return &loopbackPublisher{
		baseURL: "https://localhost",
		logger:  logger,
	}
}

func (p *loopbackPublisher) Publish(ctx context.Context, content json.RawMessage) (*interfaces.PublishResult, error) {
	id := "pub_" + uuid.New().String()
	result := &interfaces.PublishResult{
		ID:  id,
		URL: fmt.Sprintf("%s/pages/%s", p.baseURL, id),
	}
	p.logger.Debug().
		Str("published_id", result.ID).
		Int("content_bytes", len(content)).
		Msg("Loopback publish")
	return result, nil
}

// loopbackSearchConsole accepts indexing submissions without an upstream
// search console account.
type loopbackSearchConsole struct {
	logger arbor.ILogger
}

func newLoopbackSearchConsole(logger arbor.ILogger) interfaces.SearchConsole {
	return &loopbackSearchConsole{logger: logger}
}

func (s *loopbackSearchConsole) ExchangeCode(ctx context.Context, code string) (*interfaces.OAuthTokens, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	return &interfaces.OAuthTokens{
		AccessToken:  "local_" + uuid.New().String(),
		RefreshToken: "local_" + uuid.New().String(),
		ExpiresIn:    3600,
	}, nil
}

func (s *loopbackSearchConsole) SubmitURLForIndexing(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("url is required")
	}
	s.logger.Debug().Str("url", url).Msg("Loopback index submission")
	return nil
}
