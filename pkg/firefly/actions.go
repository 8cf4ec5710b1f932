package firefly

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// ActionKind is one of the five actions every resource accepts.
type ActionKind string

// Actions.
const (
	ActionGet    ActionKind = "get"
	ActionList   ActionKind = "list"
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// Parameter names with special meaning to the router.
const (
	ParamID       = "id"
	ParamPage     = "page"
	ParamLimit    = "limit"
	ParamAllPages = "all_pages"
	ParamPath     = "path"
)

var reportSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// AllActions returns every action in declaration order.
func AllActions() []ActionKind {
	return []ActionKind{ActionGet, ActionList, ActionCreate, ActionUpdate, ActionDelete}
}

// ParseAction parses an action name.
func ParseAction(name string) (ActionKind, error) {
	action := ActionKind(strings.ToLower(strings.TrimSpace(name)))

	switch action {
	case ActionGet, ActionList, ActionCreate, ActionUpdate, ActionDelete:
		return action, nil
	default:
		return "", NewError(KindInvalidAction,
			fmt.Sprintf("unknown action %q (expected get, list, create, update or delete)", name), 0)
	}
}

// RequiresID reports whether the action addresses a single instance.
func (a ActionKind) RequiresID() bool {
	return a == ActionGet || a == ActionUpdate || a == ActionDelete
}

// IsRead reports whether the action is a read.
func (a ActionKind) IsRead() bool {
	return a == ActionGet || a == ActionList
}

// String implements fmt.Stringer.
func (a ActionKind) String() string {
	return string(a)
}

// Pagination holds the list directives of a request.
type Pagination struct {
	Page     int  `json:"page"`
	Limit    int  `json:"limit"`
	AllPages bool `json:"all_pages"`
}

// Envelope is a validated, immutable request. It is implemented only by the
// request types in this package.
type Envelope interface {
	Action() ActionKind
	Target() *Resource
	sealed()
}

// GetRequest fetches one instance, or one report of a report category.
type GetRequest struct {
	Resource *Resource
	ID       string
	// SubPath is the report below the category path. Report categories only.
	SubPath string
	Query   map[string]any
}

// ListRequest lists a collection.
type ListRequest struct {
	Resource   *Resource
	Query      map[string]any
	Pagination Pagination
}

// CreateRequest creates an instance from Body.
type CreateRequest struct {
	Resource *Resource
	Body     map[string]any
}

// UpdateRequest replaces fields of an instance with Body.
type UpdateRequest struct {
	Resource *Resource
	ID       string
	Body     map[string]any
}

// DeleteRequest deletes an instance.
type DeleteRequest struct {
	Resource *Resource
	ID       string
}

func (GetRequest) Action() ActionKind    { return ActionGet }
func (ListRequest) Action() ActionKind   { return ActionList }
func (CreateRequest) Action() ActionKind { return ActionCreate }
func (UpdateRequest) Action() ActionKind { return ActionUpdate }
func (DeleteRequest) Action() ActionKind { return ActionDelete }

func (r GetRequest) Target() *Resource    { return r.Resource }
func (r ListRequest) Target() *Resource   { return r.Resource }
func (r CreateRequest) Target() *Resource { return r.Resource }
func (r UpdateRequest) Target() *Resource { return r.Resource }
func (r DeleteRequest) Target() *Resource { return r.Resource }

func (GetRequest) sealed()    {}
func (ListRequest) sealed()   {}
func (CreateRequest) sealed() {}
func (UpdateRequest) sealed() {}
func (DeleteRequest) sealed() {}

// NewEnvelope validates params for action and builds the matching request.
// params is copied; the caller's map is never retained.
func NewEnvelope(resource *Resource, action ActionKind, params map[string]any) (Envelope, error) {
	if resource == nil {
		return nil, newValidationError("resource is required")
	}

	if !resource.Supports(action) {
		return nil, NewError(KindInvalidAction,
			fmt.Sprintf("%s does not support %s (supported: %s)", resource.Name, action, joinActions(resource.Actions())), 0)
	}

	rest := copyParams(params)

	if resource.Report != nil {
		return newReportRequest(resource, rest)
	}

	var id string

	if action.RequiresID() {
		var err error

		id, err = instanceID(rest[ParamID])
		if err != nil {
			return nil, newValidationError("%s on %s: %s", action, resource.Name, err.Error())
		}
	}

	delete(rest, ParamID)

	switch action {
	case ActionGet:
		return GetRequest{Resource: resource, ID: id, Query: rest}, nil
	case ActionList:
		pagination, err := parsePagination(rest)
		if err != nil {
			return nil, newValidationError("list on %s: %s", resource.Name, err.Error())
		}

		return ListRequest{Resource: resource, Query: rest, Pagination: pagination}, nil
	case ActionCreate:
		return CreateRequest{Resource: resource, Body: rest}, nil
	case ActionUpdate:
		return UpdateRequest{Resource: resource, ID: id, Body: rest}, nil
	case ActionDelete:
		return DeleteRequest{Resource: resource, ID: id}, nil
	default:
		return nil, NewError(KindInvalidAction, fmt.Sprintf("unknown action %q", action), 0)
	}
}

// newReportRequest builds the get of a report category. params is owned by
// the caller of this function.
func newReportRequest(resource *Resource, params map[string]any) (Envelope, error) {
	if _, ok := params[ParamID]; ok {
		return nil, newValidationError("get on %s: %s is not used, name the report with %s", resource.Name, ParamID, ParamPath)
	}

	subPath, err := reportPath(params[ParamPath], resource.Report)
	if err != nil {
		return nil, newValidationError("get on %s: %s", resource.Name, err.Error())
	}

	delete(params, ParamPath)

	return GetRequest{Resource: resource, SubPath: subPath, Query: params}, nil
}

// reportPath validates a report sub-path such as "expense/total".
func reportPath(value any, report *Report) (string, error) {
	raw, ok := value.(string)
	if value != nil && !ok {
		return "", fmt.Errorf("%s must be a string", ParamPath)
	}

	raw = strings.Trim(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = report.DefaultPath
	}

	if raw == "" {
		if report.PathRequired {
			return "", fmt.Errorf("%s is required", ParamPath)
		}

		return "", nil
	}

	for _, segment := range strings.Split(raw, "/") {
		if !reportSegment.MatchString(segment) {
			return "", fmt.Errorf("%s %q has an invalid segment %q", ParamPath, raw, segment)
		}
	}

	return raw, nil
}

func joinActions(actions []ActionKind) string {
	names := make([]string, len(actions))
	for i, action := range actions {
		names[i] = string(action)
	}

	return strings.Join(names, ", ")
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = value
	}

	return out
}

// instanceID accepts string ids and whole-number ids decoded from JSON.
func instanceID(value any) (string, error) {
	switch typed := value.(type) {
	case nil:
		return "", fmt.Errorf("%s is required", ParamID)
	case string:
		id := strings.TrimSpace(typed)
		if id == "" {
			return "", fmt.Errorf("%s is required", ParamID)
		}

		if strings.ContainsAny(id, "/?#\\") {
			return "", fmt.Errorf("%s %q contains invalid characters", ParamID, id)
		}

		if id == "." || id == ".." {
			return "", fmt.Errorf("%s %q is not a valid identifier", ParamID, id)
		}

		return id, nil
	case float64:
		if typed != math.Trunc(typed) || typed < 1 {
			return "", fmt.Errorf("%s must be a positive integer or string", ParamID)
		}

		return strconv.FormatInt(int64(typed), 10), nil
	case int:
		return instanceID(int64(typed))
	case int64:
		if typed < 1 {
			return "", fmt.Errorf("%s must be a positive integer or string", ParamID)
		}

		return strconv.FormatInt(typed, 10), nil
	case json.Number:
		number, err := typed.Int64()
		if err != nil {
			return "", fmt.Errorf("%s must be a positive integer or string", ParamID)
		}

		return instanceID(number)
	default:
		return "", fmt.Errorf("%s must be a string or integer", ParamID)
	}
}

// parsePagination removes page, limit and all_pages from params.
func parsePagination(params map[string]any) (Pagination, error) {
	pagination := Pagination{Page: 1, Limit: 0}

	page, ok, err := intParam(params, ParamPage)
	if err != nil {
		return pagination, err
	}

	if ok {
		if page < 1 {
			return pagination, fmt.Errorf("%s must be >= 1", ParamPage)
		}

		pagination.Page = page
	}

	limit, ok, err := intParam(params, ParamLimit)
	if err != nil {
		return pagination, err
	}

	if ok {
		if limit < 1 || limit > constants.MaxPageSize {
			return pagination, fmt.Errorf("%s must be between 1 and %d", ParamLimit, constants.MaxPageSize)
		}

		pagination.Limit = limit
	}

	allPages, err := boolParam(params, ParamAllPages)
	if err != nil {
		return pagination, err
	}

	pagination.AllPages = allPages

	return pagination, nil
}

func intParam(params map[string]any, key string) (int, bool, error) {
	value, ok := params[key]
	delete(params, key)

	if !ok || value == nil {
		return 0, false, nil
	}

	switch typed := value.(type) {
	case int:
		return typed, true, nil
	case int64:
		return int(typed), true, nil
	case float64:
		if typed != math.Trunc(typed) {
			return 0, false, fmt.Errorf("%s must be an integer", key)
		}

		return int(typed), true, nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, false, fmt.Errorf("%s must be an integer", key)
		}

		return parsed, true, nil
	default:
		return 0, false, fmt.Errorf("%s must be an integer", key)
	}
}

func boolParam(params map[string]any, key string) (bool, error) {
	value, ok := params[key]
	delete(params, key)

	if !ok || value == nil {
		return false, nil
	}

	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean", key)
		}

		return parsed, nil
	default:
		return false, fmt.Errorf("%s must be a boolean", key)
	}
}

// QueryValues encodes params as URL query values. Slices become repeated
// values; maps and other composites are JSON encoded.
func QueryValues(params map[string]any) url.Values {
	values := url.Values{}

	for key, value := range params {
		switch typed := value.(type) {
		case []any:
			for _, item := range typed {
				values.Add(key, scalarString(item))
			}
		case []string:
			for _, item := range typed {
				values.Add(key, item)
			}
		default:
			values.Set(key, scalarString(value))
		}
	}

	return values
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}

		return string(encoded)
	}
}

// CanonicalParams renders params as "k=v&..." with sorted keys and JSON
// encoded values, so equal maps always produce the same string.
func CanonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		encoded, err := json.Marshal(params[key])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(params[key])))
		}

		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(string(encoded)))
	}

	return strings.Join(parts, "&")
}
