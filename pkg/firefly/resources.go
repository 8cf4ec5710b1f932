package firefly

import (
	"slices"
	"sort"
	"time"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// Resource describes one Firefly III resource category.
type Resource struct {
	// Name is the category name used by tool calls and cache keys.
	Name string
	// Path is the collection endpoint, e.g. "/api/v1/accounts".
	Path string
	// Description is shown to MCP clients.
	Description string
	// Cacheable marks near-static categories whose reads may be cached.
	Cacheable bool
	// TTL overrides the default cache TTL when non-zero.
	TTL time.Duration
	// Invalidates lists the other categories a successful write affects.
	Invalidates map[ActionKind][]string
	// Report marks a read-only report category. Nil for regular collections.
	Report *Report
}

// Report describes a category whose only action is get, addressed by a
// "path" parameter naming the report below the category path, e.g.
// "expense/total" under /api/v1/insight.
type Report struct {
	// DefaultPath is read when the call names no path. Empty reads the
	// category path itself.
	DefaultPath string
	// PathRequired rejects a get that names no path.
	PathRequired bool
}

// Actions returns the actions the resource accepts.
func (r *Resource) Actions() []ActionKind {
	if r.Report != nil {
		return []ActionKind{ActionGet}
	}

	return AllActions()
}

// Supports reports whether the resource accepts action.
func (r *Resource) Supports(action ActionKind) bool {
	return slices.Contains(r.Actions(), action)
}

// InvalidatedBy returns the categories to invalidate after a successful
// write of the given action, starting with the resource's own category.
func (r *Resource) InvalidatedBy(action ActionKind) []string {
	categories := []string{r.Name}
	seen := map[string]bool{r.Name: true}

	for _, category := range r.Invalidates[action] {
		if !seen[category] {
			seen[category] = true
			categories = append(categories, category)
		}
	}

	return categories
}

// Registry maps category names to resources.
type Registry struct {
	resources map[string]*Resource
}

// NewRegistry creates a registry from the given resources.
func NewRegistry(resources ...Resource) *Registry {
	registry := &Registry{resources: make(map[string]*Resource, len(resources))}

	for i := range resources {
		resource := resources[i]
		registry.resources[resource.Name] = &resource
	}

	return registry
}

// Lookup returns the resource with the given name.
func (r *Registry) Lookup(name string) (*Resource, bool) {
	resource, ok := r.resources[name]

	return resource, ok
}

// Names returns all category names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// All returns all resources sorted by name.
func (r *Registry) All() []*Resource {
	names := r.Names()
	resources := make([]*Resource, 0, len(names))

	for _, name := range names {
		resources = append(resources, r.resources[name])
	}

	return resources
}

// allWrites applies the same invalidation list to create, update and delete.
func allWrites(categories ...string) map[ActionKind][]string {
	return map[ActionKind][]string{
		ActionCreate: categories,
		ActionUpdate: categories,
		ActionDelete: categories,
	}
}

// Categories whose cached reads can change when money moves.
var balanceDependents = []string{
	"accounts",
	"available_budgets",
	"bills",
	"budget_limits",
	"budgets",
	"categories",
	"piggy_banks",
	"tags",
	"transaction_journals",
	"transaction_links",
}

// DefaultResources returns the Firefly III v1 resource categories.
//
//nolint:funlen // Flat table of every category.
func DefaultResources() []Resource {
	api := constants.APIPrefix

	return []Resource{
		{
			Name:        "accounts",
			Path:        api + "/accounts",
			Description: "Asset, expense, revenue and liability accounts",
			Cacheable:   true,
			TTL:         constants.VolatileCacheTTL,
			Invalidates: map[ActionKind][]string{
				ActionDelete: {"transactions", "transaction_journals", "piggy_banks"},
			},
		},
		{
			Name:        "attachments",
			Path:        api + "/attachments",
			Description: "Files attached to transactions, bills and other objects",
		},
		{
			Name:        "available_budgets",
			Path:        api + "/available-budgets",
			Description: "Amounts available for budgeting in a period",
		},
		{
			Name:        "bills",
			Path:        api + "/bills",
			Description: "Recurring bills and subscriptions",
			Cacheable:   true,
			TTL:         constants.VolatileCacheTTL,
		},
		{
			Name:        "budgets",
			Path:        api + "/budgets",
			Description: "Budgets",
			Cacheable:   true,
			TTL:         constants.VolatileCacheTTL,
			Invalidates: allWrites("budget_limits", "available_budgets"),
		},
		{
			Name:        "budget_limits",
			Path:        api + "/budget-limits",
			Description: "Budget limits for a period",
			Invalidates: allWrites("budgets", "available_budgets"),
		},
		{
			Name:        "categories",
			Path:        api + "/categories",
			Description: "Transaction categories",
			Cacheable:   true,
			Invalidates: map[ActionKind][]string{
				ActionDelete: {"transactions", "transaction_journals"},
			},
		},
		{
			Name:        "configuration",
			Path:        api + "/configuration",
			Description: "System configuration values",
			Cacheable:   true,
			TTL:         constants.ReferenceDataCacheTTL,
		},
		{
			Name:        "currencies",
			Path:        api + "/currencies",
			Description: "Currencies known to the instance",
			Cacheable:   true,
			TTL:         constants.ReferenceDataCacheTTL,
			Invalidates: allWrites("currency_exchange_rates"),
		},
		{
			Name:        "currency_exchange_rates",
			Path:        api + "/exchange-rates",
			Description: "Currency exchange rates",
			Cacheable:   true,
		},
		{
			Name:        "insight",
			Path:        api + "/insight",
			Description: `Income, expense and transfer insight for a period. "path" names the report, e.g. "expense/total", "income/category" or "transfer/asset"; pass "start" and "end" dates`,
			Report:      &Report{PathRequired: true},
		},
		{
			Name:        "link_types",
			Path:        api + "/link-types",
			Description: "Types of links between transactions",
			Cacheable:   true,
			TTL:         constants.ReferenceDataCacheTTL,
			Invalidates: map[ActionKind][]string{
				ActionDelete: {"transaction_links"},
			},
		},
		{
			Name:        "object_groups",
			Path:        api + "/object-groups",
			Description: "Groups used to organise piggy banks and bills",
			Cacheable:   true,
			TTL:         constants.ReferenceDataCacheTTL,
			Invalidates: allWrites("piggy_banks", "bills"),
		},
		{
			Name:        "piggy_banks",
			Path:        api + "/piggy-banks",
			Description: "Piggy banks and saving goals",
			Cacheable:   true,
			TTL:         constants.VolatileCacheTTL,
			Invalidates: allWrites("accounts"),
		},
		{
			Name:        "preferences",
			Path:        api + "/preferences",
			Description: "User preferences",
			Cacheable:   true,
		},
		{
			Name:        "recurrences",
			Path:        api + "/recurrences",
			Description: "Recurring transactions",
		},
		{
			Name:        "rule_groups",
			Path:        api + "/rule-groups",
			Description: "Groups of automation rules",
			Cacheable:   true,
			Invalidates: map[ActionKind][]string{
				ActionDelete: {"rules"},
			},
		},
		{
			Name:        "rules",
			Path:        api + "/rules",
			Description: "Automation rules",
			Invalidates: allWrites("rule_groups"),
		},
		{
			Name:        "summary",
			Path:        api + "/summary",
			Description: `Balance, spending and net worth summary for a period. Pass "start" and "end" dates`,
			Report:      &Report{DefaultPath: "basic"},
		},
		{
			Name:        "tags",
			Path:        api + "/tags",
			Description: "Transaction tags",
			Cacheable:   true,
			Invalidates: map[ActionKind][]string{
				ActionDelete: {"transactions", "transaction_journals"},
			},
		},
		{
			Name:        "transactions",
			Path:        api + "/transactions",
			Description: "Transactions (withdrawals, deposits and transfers)",
			Invalidates: allWrites(balanceDependents...),
		},
		{
			Name:        "transaction_journals",
			Path:        api + "/transaction-journals",
			Description: "Individual journals of split transactions",
			Invalidates: allWrites(append([]string{"transactions"}, balanceDependents...)...),
		},
		{
			Name:        "transaction_links",
			Path:        api + "/transaction-links",
			Description: "Links between transactions",
			Invalidates: allWrites("transactions", "transaction_journals"),
		},
		{
			Name:        "user_groups",
			Path:        api + "/user-groups",
			Description: "Financial administrations shared between users",
		},
		{
			Name:        "users",
			Path:        api + "/users",
			Description: "Users of the instance",
		},
		{
			Name:        "webhooks",
			Path:        api + "/webhooks",
			Description: "Webhook definitions",
			Invalidates: map[ActionKind][]string{
				ActionDelete: {"webhook_messages"},
			},
		},
		{
			Name:        "webhook_messages",
			Path:        api + "/webhook-messages",
			Description: "Messages queued by webhooks",
		},
		{
			Name:        "about",
			Path:        api + "/about",
			Description: `Instance and API version information. "path": "user" returns the authenticated user`,
			Cacheable:   true,
			TTL:         constants.ReferenceDataCacheTTL,
			Report:      &Report{},
		},
	}
}

// DefaultRegistry returns a registry of DefaultResources.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultResources()...)
}
