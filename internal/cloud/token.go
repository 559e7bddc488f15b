package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"shelf-go/internal/shelf"
)

// ProviderTokenSource turns an AWS credentials provider into a
// shelf.TokenSource. Expiring credentials (SSO, assumed roles, IMDS) carry
// their expiry through so the adapter refreshes ahead of it.
type ProviderTokenSource struct {
	provider aws.CredentialsProvider
}

// NewStaticTokenSource returns a source for fixed access keys that never
// expire.
func NewStaticTokenSource(accessKeyID, secretAccessKey string) *ProviderTokenSource {
	return &ProviderTokenSource{
		provider: credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
	}
}

// NewDefaultTokenSource resolves credentials through the standard AWS
// chain: environment, shared config and profiles, then instance roles.
func NewDefaultTokenSource(ctx context.Context, region string) (*ProviderTokenSource, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &ProviderTokenSource{provider: cfg.Credentials}, nil
}

func (p *ProviderTokenSource) Token(ctx context.Context) (shelf.Token, error) {
	if p.provider == nil {
		return shelf.Token{}, fmt.Errorf("no aws credentials configured: %w", shelf.ErrNotConnected)
	}
	creds, err := p.provider.Retrieve(ctx)
	if err != nil {
		return shelf.Token{}, fmt.Errorf("retrieving aws credentials: %w", err)
	}
	tok := shelf.Token{
		AccessKey:    creds.AccessKeyID,
		Secret:       creds.SecretAccessKey,
		SessionToken: creds.SessionToken,
	}
	if creds.CanExpire {
		tok.Expiry = creds.Expires
	}
	return tok, nil
}

// IssuingTokenSource mints short-lived tokens from a clock. It authorizes
// the in-memory backend and lets tests drive expiry.
type IssuingTokenSource struct {
	clock shelf.Clock
	ttl   time.Duration

	mu     sync.Mutex
	issued int
	err    error
}

// NewIssuingTokenSource issues tokens valid for ttl. ttl <= 0 issues
// tokens that never expire.
func NewIssuingTokenSource(clock shelf.Clock, ttl time.Duration) *IssuingTokenSource {
	return &IssuingTokenSource{clock: clock, ttl: ttl}
}

// Fail makes subsequent Token calls return err. nil clears it.
func (s *IssuingTokenSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Issued returns how many tokens have been minted.
func (s *IssuingTokenSource) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

func (s *IssuingTokenSource) Token(ctx context.Context) (shelf.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return shelf.Token{}, s.err
	}
	s.issued++
	tok := shelf.Token{
		AccessKey: fmt.Sprintf("memory-%d", s.issued),
		Secret:    "memory",
	}
	if s.ttl > 0 {
		tok.Expiry = s.clock.Now().Add(s.ttl)
	}
	return tok, nil
}
