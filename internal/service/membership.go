package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"permission_service/internal/models"
	"permission_service/internal/repository"
)

// ServiceLocator resolves a service name to a reachable address. Implemented
// by discovery.ServiceRegistry (Consul).
type ServiceLocator interface {
	GetServiceAddress(serviceName string) (string, error)
}

// DirectoryClient fetches actor membership sets from the external directory
// service and caches them in Redis. The cache is invalidated by
// membership.updated events from the directory.
type DirectoryClient struct {
	locator     ServiceLocator
	cache       *repository.RedisRepo
	httpClient  *http.Client
	serviceName string
	cacheTTL    time.Duration
}

func NewDirectoryClient(locator ServiceLocator, cache *repository.RedisRepo, serviceName string, requestTimeout, cacheTTL time.Duration) *DirectoryClient {
	return &DirectoryClient{
		locator:     locator,
		cache:       cache,
		httpClient:  &http.Client{Timeout: requestTimeout},
		serviceName: serviceName,
		cacheTTL:    cacheTTL,
	}
}

// Memberships returns the organizations and teams the actor currently
// belongs to. An actor unknown to the directory has an empty membership set;
// that is not an error.
func (c *DirectoryClient) Memberships(ctx context.Context, tenantID, actorID string) (*models.ActorMemberships, error) {
	cacheKey := repository.MembershipCacheKey(tenantID, actorID)

	if c.cache != nil {
		var cached models.ActorMemberships
		if err := c.cache.GetStructCached(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	address, err := c.locator.GetServiceAddress(c.serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to locate directory service: %w", err)
	}

	url := fmt.Sprintf("http://%s/internal/directory/tenants/%s/actors/%s/memberships", address, tenantID, actorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build membership request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("membership lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &models.ActorMemberships{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory service returned status %d", resp.StatusCode)
	}

	var memberships models.ActorMemberships
	if err := json.NewDecoder(resp.Body).Decode(&memberships); err != nil {
		return nil, fmt.Errorf("failed to decode membership response: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.SaveStructCached(ctx, cacheKey, &memberships, c.cacheTTL); err != nil {
			log.Printf("Failed to cache memberships for actor %s: %v", actorID, err)
		}
	}

	return &memberships, nil
}
