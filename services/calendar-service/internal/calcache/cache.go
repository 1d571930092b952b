// Package calcache caches rendered calendar responses per owner set.
//
// Keys embed the current generation of every owner they cover:
//
//	calendar:<owner>@<gen>[,<owner>@<gen>...]:<query>
//
// Owner ids are query-escaped, so ids containing the delimiters cannot collide.
//
// InvalidateOwner bumps the owner's generation and drops the owner's entries. A response built
// from data read before an invalidation is stored under the old generation, so it can never be
// served once the invalidation has returned.
package calcache

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	DefaultTTL = 5 * time.Minute
	keyPrefix  = "calendar:"
)

type Cache interface {
	// Key resolves the owners' generations. Call it before reading the store.
	Key(ctx context.Context, ownerIDs []string, query string) (string, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	InvalidateOwner(ctx context.Context, ownerID string) error
}

func canonicalOwners(ownerIDs []string) []string {
	owners := slices.Clone(ownerIDs)
	slices.Sort(owners)
	return slices.Compact(owners)
}

func buildKey(owners []string, gens []int64, query string) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	for i, o := range owners {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s@%d", keyOwner(o), gens[i])
	}
	b.WriteByte(':')
	b.WriteString(query)
	return b.String()
}

// keyOwner escapes the key delimiters (and glob metacharacters) out of an owner id.
func keyOwner(ownerID string) string {
	return url.QueryEscape(ownerID)
}

// keyCoversOwner reports whether key was built for a set containing ownerID.
func keyCoversOwner(key, ownerID string) bool {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return false
	}
	owners, _, _ := strings.Cut(rest, ":")
	for _, part := range strings.Split(owners, ",") {
		if o, _, ok := strings.Cut(part, "@"); ok && o == keyOwner(ownerID) {
			return true
		}
	}
	return false
}

// Noop caches nothing.
type Noop struct{}

func (Noop) Key(context.Context, []string, string) (string, error) { return "", nil }

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte) error { return nil }

func (Noop) InvalidateOwner(context.Context, string) error { return nil }
