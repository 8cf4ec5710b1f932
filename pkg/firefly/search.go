package firefly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// SearchQuery is a cross-resource search request.
type SearchQuery struct {
	Query      string   `json:"query,omitempty"`
	Resources  []string `json:"resources,omitempty"`
	DateFrom   string   `json:"date_from,omitempty"`
	DateTo     string   `json:"date_to,omitempty"`
	AmountMin  *float64 `json:"amount_min,omitempty"`
	AmountMax  *float64 `json:"amount_max,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Accounts   []string `json:"accounts,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

func (q SearchQuery) hasFilters() bool {
	return q.DateFrom != "" || q.DateTo != "" || q.AmountMin != nil || q.AmountMax != nil ||
		len(q.Tags) > 0 || len(q.Categories) > 0 || len(q.Accounts) > 0
}

// SearchResult groups matches by resource category. Errors holds the
// categories whose lookup failed; the others are still returned.
type SearchResult struct {
	Query   string                       `json:"query"`
	Results map[string][]json.RawMessage `json:"results"`
	Counts  map[string]int               `json:"counts"`
	Errors  map[string]*Error            `json:"errors,omitempty"`
	Total   int                          `json:"total"`
}

// DefaultSearchResources are searched when a query names no categories.
var DefaultSearchResources = []string{"transactions", "accounts", "categories", "tags", "budgets", "bills"}

// autocompletePaths maps categories to their /api/v1/autocomplete segment.
var autocompletePaths = map[string]string{
	"bills":         "bills",
	"budgets":       "budgets",
	"categories":    "categories",
	"currencies":    "currencies",
	"object_groups": "object-groups",
	"piggy_banks":   "piggy-banks",
	"recurrences":   "recurring",
	"rule_groups":   "rule-groups",
	"rules":         "rules",
	"tags":          "tags",
}

// SearchableResources returns the categories Search supports, sorted.
func SearchableResources() []string {
	names := []string{"accounts", "transactions"}
	for name := range autocompletePaths {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Search looks up query across resource categories concurrently. Each
// category is independent: one failing lookup is reported in Errors and
// does not affect the rest.
func (r *Router) Search(ctx context.Context, query SearchQuery) (*SearchResult, error) {
	query.Query = strings.TrimSpace(query.Query)

	if query.Query == "" && !query.hasFilters() {
		return nil, newValidationError("search needs a query or at least one filter")
	}

	resources := query.Resources
	if len(resources) == 0 {
		resources = DefaultSearchResources
	}

	if query.Limit <= 0 {
		query.Limit = constants.DefaultSearchLimit
	}

	if query.Limit > constants.MaxPageSize {
		query.Limit = constants.MaxPageSize
	}

	result := &SearchResult{
		Query:   query.Query,
		Results: make(map[string][]json.RawMessage),
		Counts:  make(map[string]int),
		Errors:  make(map[string]*Error),
	}

	var (
		mutex sync.Mutex
		group errgroup.Group
	)

	group.SetLimit(constants.SearchConcurrency)

	for _, name := range dedupe(resources) {
		group.Go(func() error {
			items, err := r.searchCategory(ctx, name, query)

			mutex.Lock()
			defer mutex.Unlock()

			if err != nil {
				result.Errors[name] = AsError(err)

				return nil
			}

			result.Results[name] = items
			result.Counts[name] = len(items)
			result.Total += len(items)

			return nil
		})
	}

	_ = group.Wait()

	if len(result.Errors) == 0 {
		result.Errors = nil
	}

	return result, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}

		seen[name] = true
		out = append(out, name)
	}

	return out
}

func (r *Router) searchCategory(ctx context.Context, name string, query SearchQuery) ([]json.RawMessage, error) {
	resource, ok := r.registry.Lookup(name)
	if !ok {
		return nil, newValidationError("unknown resource category %q", name)
	}

	pager := r.pager.WithMetadata(requestMetadata(resource, "search"))

	switch name {
	case "transactions":
		values := url.Values{"query": {TransactionSearchQuery(query)}}

		page, err := pager.FetchPage(ctx, constants.APIPathSearchTransactions, values, 1, query.Limit)
		if err != nil {
			return nil, err
		}

		return page.Items, nil
	case "accounts":
		if query.Query == "" {
			return []json.RawMessage{}, nil
		}

		values := url.Values{"query": {query.Query}, "field": {"all"}}

		page, err := pager.FetchPage(ctx, constants.APIPathSearchAccounts, values, 1, query.Limit)
		if err != nil {
			return nil, err
		}

		return page.Items, nil
	}

	segment, ok := autocompletePaths[name]
	if !ok {
		return nil, newValidationError("search is not supported for %s", name)
	}

	if query.Query == "" {
		return []json.RawMessage{}, nil
	}

	values := url.Values{
		"query": {query.Query},
		"limit": {strconv.Itoa(query.Limit)},
	}

	resp, err := r.send(ctx, resource, "search", http.MethodGet, constants.APIPrefix+"/autocomplete/"+segment, values, nil)
	if err != nil {
		return nil, err
	}

	data, err := extractData(resp)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage

	err = json.Unmarshal(data, &items)
	if err != nil {
		return nil, NewError(KindUnknown, "malformed autocomplete response", resp.StatusCode)
	}

	if items == nil {
		items = []json.RawMessage{}
	}

	return items, nil
}

// TransactionSearchQuery renders query and its filters in Firefly III's
// search operator syntax.
func TransactionSearchQuery(query SearchQuery) string {
	parts := make([]string, 0, 8)

	if query.Query != "" {
		parts = append(parts, query.Query)
	}

	if query.DateFrom != "" {
		parts = append(parts, "date_after:"+query.DateFrom)
	}

	if query.DateTo != "" {
		parts = append(parts, "date_before:"+query.DateTo)
	}

	if query.AmountMin != nil {
		parts = append(parts, "more:"+strconv.FormatFloat(*query.AmountMin, 'f', -1, 64))
	}

	if query.AmountMax != nil {
		parts = append(parts, "less:"+strconv.FormatFloat(*query.AmountMax, 'f', -1, 64))
	}

	for _, tag := range query.Tags {
		parts = append(parts, operator("tag_is", tag))
	}

	for _, category := range query.Categories {
		parts = append(parts, operator("category_is", category))
	}

	for _, account := range query.Accounts {
		parts = append(parts, operator("account_is", account))
	}

	return strings.Join(parts, " ")
}

func operator(name, value string) string {
	if strings.ContainsAny(value, " \t\"") {
		return fmt.Sprintf("%s:%q", name, value)
	}

	return name + ":" + value
}
