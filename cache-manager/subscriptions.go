package cachemanager

import (
	"context"
	"time"

	"encore.dev/pubsub"

	"encore.app/invalidation"
	"encore.app/pkg/filter"
)

// RefreshEvent represents a cache refresh command broadcast to all instances.
type RefreshEvent struct {
	CacheName string    `json:"cache_name"`
	Key       any       `json:"key"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Priority  string    `json:"priority"` // "critical", "high", "normal"
}

// Pub/Sub topic definitions for cache coordination.
var CacheRefreshTopic = pubsub.NewTopic[*RefreshEvent](
	"cache-refresh",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Subscribe to cache invalidation events from other instances.
// This ensures every locally-held cache handle's listeners (near-cache
// front stores, views) learn about upstream mutations they didn't see
// directly.
var _ = pubsub.NewSubscription(
	invalidation.CacheInvalidateTopic,
	"cache-manager-invalidate",
	pubsub.SubscriptionConfig[*invalidation.InvalidationEvent]{
		Handler: HandleInvalidateEvent,
	},
)

// HandleInvalidateEvent dispatches an invalidation broadcast as synthetic
// Deleted events through every locally-held CacheHandle matching
// event.CacheName (every handle, across every service, if CacheName is
// empty). Per spec.md §9's resolved Open Question, a bare pattern
// invalidation with no resolved keys is recorded by the invalidation
// package's own audit trail and is not replayed as per-key events here,
// since this core has no local key enumeration to resolve the pattern
// against (no local caching by default).
func HandleInvalidateEvent(ctx context.Context, event *invalidation.InvalidationEvent) error {
	if svc == nil {
		return nil
	}
	f, err := svc.factoryOrErr()
	if err != nil {
		return nil
	}
	if len(event.MatchedKeys) == 0 {
		return nil
	}

	var targets []*CacheHandle
	if event.CacheName == "" {
		f.mu.Lock()
		for _, caches := range f.caches {
			for _, ch := range caches {
				targets = append(targets, ch)
			}
		}
		f.mu.Unlock()
	} else {
		targets = f.CachesNamed(event.CacheName)
	}
	for _, handle := range targets {
		for _, key := range event.MatchedKeys {
			handle.Dispatch(filter.Event{
				Kind:      filter.EventDeleted,
				Key:       key,
				Synthetic: true,
			})
		}
	}
	return nil
}

// Subscribe to cache refresh events published by any instance's
// PublishRefresh call.
var _ = pubsub.NewSubscription(
	CacheRefreshTopic,
	"cache-manager-refresh",
	pubsub.SubscriptionConfig[*RefreshEvent]{
		Handler: HandleRefreshEvent,
	},
)

// HandleRefreshEvent dispatches a proactive population event as a
// synthetic Inserted event through every locally-held handle for
// event.CacheName, mirroring HandleInvalidateEvent's fan-out.
func HandleRefreshEvent(ctx context.Context, event *RefreshEvent) error {
	if svc == nil {
		return nil
	}
	f, err := svc.factoryOrErr()
	if err != nil {
		return nil
	}

	for _, handle := range f.CachesNamed(event.CacheName) {
		handle.Dispatch(filter.Event{
			Kind:      filter.EventInserted,
			Key:       event.Key,
			NewValue:  event.Value,
			Synthetic: true,
		})
	}
	return nil
}

// PublishInvalidation publishes an invalidation event to all instances,
// naming cacheName so only handles for that cache are notified.
func PublishInvalidation(ctx context.Context, cacheName string, keys []string, pattern string) error {
	event := &invalidation.InvalidationEvent{
		CacheName:   cacheName,
		Pattern:     pattern,
		MatchedKeys: keys,
		TriggeredBy: "cache_manager",
		Timestamp:   time.Now(),
	}
	_, err := invalidation.CacheInvalidateTopic.Publish(ctx, event)
	return err
}

// PublishRefresh publishes a refresh event to all instances, used to
// proactively populate near-caches and views ahead of a read.
func PublishRefresh(ctx context.Context, cacheName string, key, value any) error {
	event := &RefreshEvent{
		CacheName: cacheName,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
		Priority:  "normal",
	}
	_, err := CacheRefreshTopic.Publish(ctx, event)
	return err
}
