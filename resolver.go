package nospeak

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/patrickmn/go-cache"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/envelope"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/syncer"
)

const (
	relayListCacheTTL = 30 * time.Minute
	relayListTimeout  = 5 * time.Second
)

// relayResolver discovers where an identity wants DMs delivered. It
// queries the connected relay set for the recipient's kind-10050 DM
// relay list, falling back to their kind-10002 general relay list, and
// caches results with a TTL so group fan-out does not re-query per
// message.
type relayResolver struct {
	fetch syncer.Fetcher
	own   []string
	cache *cache.Cache
}

func newRelayResolver(fetch syncer.Fetcher, own []string) *relayResolver {
	return &relayResolver{
		fetch: fetch,
		own:   own,
		cache: cache.New(relayListCacheTTL, 2*relayListCacheTTL),
	}
}

func (r *relayResolver) RelaysFor(ctx context.Context, pubKey string) ([]string, error) {
	if cached, ok := r.cache.Get(pubKey); ok {
		return cached.([]string), nil
	}

	events, err := r.fetch.FetchEvents(ctx, nostr.Filters{{
		Kinds:   []int{envelope.KindDMRelayList, envelope.KindRelayList},
		Authors: []string{pubKey},
		Limit:   2,
	}}, relayListTimeout)
	if err != nil {
		return nil, err
	}

	urls := relayURLsFromLists(events)
	if len(urls) > 0 {
		r.cache.Set(pubKey, urls, cache.DefaultExpiration)
	}
	return urls, nil
}

func (r *relayResolver) OwnRelays(ctx context.Context) ([]string, error) {
	return r.own, nil
}

// relayURLsFromLists extracts relay URLs, preferring the dedicated DM
// list over the general one when both exist.
func relayURLsFromLists(events []*nostr.Event) []string {
	var dm, general []string
	for _, evt := range events {
		for _, tag := range evt.Tags {
			if len(tag) < 2 || tag[1] == "" {
				continue
			}
			switch {
			case evt.Kind == envelope.KindDMRelayList && tag[0] == "relay":
				dm = append(dm, nostr.NormalizeURL(tag[1]))
			case evt.Kind == envelope.KindRelayList && tag[0] == "r":
				// a third element restricts the entry to read or write;
				// DMs need a relay the owner reads from
				if len(tag) >= 3 && tag[2] != "read" {
					continue
				}
				general = append(general, nostr.NormalizeURL(tag[1]))
			}
		}
	}
	if len(dm) > 0 {
		return dedupURLs(dm)
	}
	return dedupURLs(general)
}

func dedupURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, url := range urls {
		if seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	return out
}
