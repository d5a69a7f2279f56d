package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crm-telephony/internal/credcache"
	"crm-telephony/pkg/logger"
)

const sipCachePrefix = "sip:"

// SIPProvisioner hands softphones their WebRTC SIP registration, cached per
// user so every page load does not hit the provider.
type SIPProvisioner struct {
	provider Provider
	cache    credcache.Cache
	ttl      time.Duration
}

func NewSIPProvisioner(p Provider, cache credcache.Cache, ttl time.Duration) *SIPProvisioner {
	return &SIPProvisioner{provider: p, cache: cache, ttl: ttl}
}

// Provision returns the SIP info for userID; cached reports a cache hit.
func (s *SIPProvisioner) Provision(ctx context.Context, userID string) (info SIPInfo, cached bool, err error) {
	if userID == "" {
		return SIPInfo{}, false, errors.New("telephony: user id required")
	}
	key := sipCachePrefix + userID
	log := logger.From(ctx)

	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn("sip cache read failed", "err", err)
		case ok:
			if err := json.Unmarshal(v, &info); err == nil {
				return info, true, nil
			}
			_ = s.cache.Delete(ctx, key)
		}
	}

	info, err = s.provider.ProvisionSIP(ctx)
	if err != nil {
		return SIPInfo{}, false, err
	}
	if s.cache != nil && s.ttl > 0 {
		if b, err := json.Marshal(info); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				log.Warn("sip cache write failed", "err", err)
			}
		}
	}
	return info, false, nil
}

// Forget drops a user's cached registration.
func (s *SIPProvisioner) Forget(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, sipCachePrefix+userID)
}
