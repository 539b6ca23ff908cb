package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

// Factory maps a platform identifier to its client implementation. Clients
// are stateless aside from loaded credentials, so one instance is cached per
// platform for the process lifetime. Unknown or unconfigured platforms fail
// with a configuration error, never a nil client.
type Factory struct {
	cfg     config.Config
	timeout time.Duration

	mu      sync.Mutex
	clients map[social.Platform]Client
}

// NewFactory builds a factory over the loaded configuration.
func NewFactory(cfg config.Config) *Factory {
	return &Factory{
		cfg:     cfg,
		timeout: cfg.ProviderTimeout,
		clients: make(map[social.Platform]Client),
	}
}

// Get returns the client for the platform, constructing it on first use.
func (f *Factory) Get(platform social.Platform) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[platform]; ok {
		return client, nil
	}

	client, err := f.build(platform)
	if err != nil {
		return nil, err
	}
	f.clients[platform] = client
	return client, nil
}

func (f *Factory) build(platform social.Platform) (Client, error) {
	var creds config.PlatformCredentials
	switch platform {
	case social.PlatformTwitter:
		creds = f.cfg.Twitter
	case social.PlatformLinkedIn:
		creds = f.cfg.LinkedIn
	case social.PlatformFacebook:
		creds = f.cfg.Facebook
	case social.PlatformInstagram:
		creds = f.cfg.Instagram
	default:
		return nil, fmt.Errorf("platform %q: %w", platform, social.ErrUnsupportedPlatform)
	}

	if !creds.Configured() {
		return nil, fmt.Errorf("platform %q: %w", platform, social.ErrPlatformNotConfigured)
	}

	switch platform {
	case social.PlatformTwitter:
		return NewTwitterClient(creds, Endpoints{}, f.timeout), nil
	case social.PlatformLinkedIn:
		return NewLinkedInClient(creds, Endpoints{}, f.timeout), nil
	case social.PlatformFacebook:
		return NewFacebookClient(creds, Endpoints{}, f.timeout), nil
	default:
		return NewInstagramClient(creds, Endpoints{}, f.timeout), nil
	}
}
