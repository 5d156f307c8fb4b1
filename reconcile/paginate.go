package reconcile

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
)

const DefaultMaxPages = 1000

// NormalizePageURL resolves a pagination cursor against the URL of the page
// that returned it. Absolute cursors pass through; root relative and path
// relative cursors are made absolute. An empty cursor ends the walk.
func NormalizePageURL(base, next string) (string, error) {
	next = strings.TrimSpace(next)
	if next == "" {
		return "", nil
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", core.NewUpstreamFetchError(0, "reconcile: invalid page cursor", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !baseURL.IsAbs() {
		return "", core.NewValidationError(fmt.Sprintf("reconcile: page base %q must be absolute", base))
	}
	return baseURL.ResolveReference(ref).String(), nil
}

type SearchAPI interface {
	FirstSearchPageURL(auth crm.Auth) string
	SearchOpportunities(ctx context.Context, auth crm.Auth, pageURL string) (crm.SearchPage, error)
}

type WalkResult struct {
	Opportunities []crm.Opportunity
	Pages         int
	// Truncated is set when the walk stopped on a repeated cursor or the
	// page cap rather than on an empty cursor.
	Truncated bool
}

// WalkOpportunities follows search cursors until none is returned. Every
// page URL is fetched at most once and opportunities are kept in first seen
// order, once per id. Any failed page aborts the walk.
func WalkOpportunities(ctx context.Context, api SearchAPI, auth crm.Auth, maxPages int) (WalkResult, error) {
	if api == nil {
		return WalkResult{}, fmt.Errorf("reconcile: search api is required")
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	result := WalkResult{}
	seenPages := map[string]struct{}{}
	seenIDs := map[string]struct{}{}
	pageURL := api.FirstSearchPageURL(auth)

	for pageURL != "" {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, repeated := seenPages[pageURL]; repeated {
			result.Truncated = true
			break
		}
		if result.Pages >= maxPages {
			result.Truncated = true
			break
		}
		seenPages[pageURL] = struct{}{}

		page, err := api.SearchOpportunities(ctx, auth, pageURL)
		if err != nil {
			return result, err
		}
		result.Pages++
		for _, opp := range page.Opportunities {
			id := strings.TrimSpace(opp.ID)
			if id == "" {
				continue
			}
			if _, dup := seenIDs[id]; dup {
				continue
			}
			seenIDs[id] = struct{}{}
			result.Opportunities = append(result.Opportunities, opp)
		}

		next, err := NormalizePageURL(pageURL, page.Meta.NextPageURL)
		if err != nil {
			return result, err
		}
		pageURL = next
	}
	return result, nil
}
