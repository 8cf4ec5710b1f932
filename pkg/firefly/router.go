package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// successPayload is returned for writes that answer 204 No Content.
var successPayload = json.RawMessage(`{"success":true}`)

// ListResult is the payload of a list call.
type ListResult struct {
	Items    []json.RawMessage `json:"items"`
	Page     int               `json:"page,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	HasMore  bool              `json:"has_more"`
	Total    *int              `json:"total,omitempty"`
	Count    int               `json:"count"`
	AllPages bool              `json:"all_pages,omitempty"`
}

// Result is the outcome of a routed call. Data is the JSON payload returned
// to the caller; List is its decoded form for list calls.
type Result struct {
	Data   json.RawMessage
	List   *ListResult
	Cached bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = loggerOrNop(logger)
	}
}

// WithCachingPolicy sets the caching policy. A nil policy disables caching.
func WithCachingPolicy(policy *CachingPolicy) RouterOption {
	return func(r *Router) {
		r.policy = policy
	}
}

// WithTracerProvider traces router calls with provider instead of the
// global one.
func WithTracerProvider(provider trace.TracerProvider) RouterOption {
	return func(r *Router) {
		if provider != nil {
			r.inst.tracer = provider.Tracer(instrumentationName)
		}
	}
}

// WithPaginationOptions sets page size and page cap.
func WithPaginationOptions(options *PaginationOptions) RouterOption {
	return func(r *Router) {
		r.pagination = options
	}
}

// Router validates tool calls and dispatches them to the cache, the pager
// or the transport.
type Router struct {
	doer       Doer
	registry   *Registry
	cache      *CacheManager
	policy     *CachingPolicy
	pagination *PaginationOptions
	pager      *Pager
	logger     Logger
	inst       *instruments
}

// NewRouter creates a router. A nil cache manager disables caching.
func NewRouter(doer Doer, registry *Registry, cache *CacheManager, opts ...RouterOption) *Router {
	if registry == nil {
		registry = DefaultRegistry()
	}

	if cache == nil {
		cache = NewCacheManager(nil, nil)
	}

	router := &Router{
		doer:     doer,
		registry: registry,
		cache:    cache,
		policy:   DefaultCachingPolicy(),
		logger:   noopLogger{},
		inst:     newInstruments(),
	}

	for _, opt := range opts {
		opt(router)
	}

	router.pager = NewPager(doer, router.pagination)

	return router
}

// Registry returns the resource registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Cache returns the cache manager.
func (r *Router) Cache() *CacheManager {
	return r.cache
}

// Execute validates and runs action on the named resource. Every error
// returned is an *Error.
func (r *Router) Execute(ctx context.Context, resourceName, actionName string, params map[string]any) (*Result, error) {
	action, err := ParseAction(actionName)
	if err != nil {
		return nil, err
	}

	resource, ok := r.registry.Lookup(resourceName)
	if !ok {
		return nil, newValidationError("unknown resource category %q", resourceName)
	}

	envelope, err := NewEnvelope(resource, action, params)
	if err != nil {
		return nil, err
	}

	return r.Dispatch(ctx, envelope)
}

// Dispatch runs a validated envelope.
func (r *Router) Dispatch(ctx context.Context, envelope Envelope) (*Result, error) {
	resource := envelope.Target()
	action := envelope.Action()
	start := time.Now()

	ctx, span := r.inst.startSpan(ctx, resource.Name, action)
	defer span.End()

	var (
		result *Result
		err    error
	)

	switch req := envelope.(type) {
	case GetRequest:
		result, err = r.get(ctx, req)
	case ListRequest:
		result, err = r.list(ctx, req)
	case CreateRequest:
		body, encodeErr := encodeBody(req.Body)
		if encodeErr != nil {
			err = encodeErr

			break
		}

		result, err = r.write(ctx, resource, ActionCreate, http.MethodPost, resource.Path, body)
	case UpdateRequest:
		body, encodeErr := encodeBody(req.Body)
		if encodeErr != nil {
			err = encodeErr

			break
		}

		result, err = r.write(ctx, resource, ActionUpdate, http.MethodPut, instancePath(resource, req.ID), body)
	case DeleteRequest:
		result, err = r.write(ctx, resource, ActionDelete, http.MethodDelete, instancePath(resource, req.ID), nil)
	default:
		err = NewError(KindInvalidAction, fmt.Sprintf("unsupported request type %T", envelope), 0)
	}

	fireflyErr := AsError(err)
	cached := result != nil && result.Cached
	r.inst.finish(ctx, span, resource.Name, action, cached, float64(time.Since(start).Microseconds())/1000, fireflyErr)

	if fireflyErr != nil {
		LoggerWithContext(ctx, r.logger).Debug("Router call failed", map[string]interface{}{
			"resource":   resource.Name,
			"action":     string(action),
			"error_kind": string(fireflyErr.Kind),
			"status":     fireflyErr.Status,
		})

		return nil, fireflyErr
	}

	return result, nil
}

func (r *Router) get(ctx context.Context, req GetRequest) (*Result, error) {
	resource := req.Resource
	query := QueryValues(req.Query)

	fetch := func(ctx context.Context) ([]byte, error) {
		resp, err := r.send(ctx, resource, ActionGet, http.MethodGet, getPath(req), query, nil)
		if err != nil {
			return nil, err
		}

		return extractData(resp)
	}

	if !r.policy.ShouldCache(resource, ActionGet) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		return &Result{Data: data}, nil
	}

	keyParams := copyParams(req.Query)
	keyParams[ParamID] = req.ID

	if req.SubPath != "" {
		keyParams[ParamPath] = req.SubPath
	}
	key := r.cache.GetCacheKey(resource.Name, ActionGet, keyParams)

	data, cached, err := r.cache.GetOrCompute(ctx, resource.Name, key, r.policy.TTLFor(resource), fetch)
	r.inst.recordCacheLookup(ctx, resource.Name, cached)

	if err != nil {
		return nil, err
	}

	return &Result{Data: data, Cached: cached}, nil
}

func (r *Router) list(ctx context.Context, req ListRequest) (*Result, error) {
	resource := req.Resource
	pager := r.pager.WithMetadata(requestMetadata(resource, ActionList))
	query := QueryValues(req.Query)

	limit := req.Pagination.Limit
	if limit <= 0 {
		limit = pager.PageSize()
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		listResult, err := r.fetchList(ctx, pager, resource.Path, query, req.Pagination.Page, limit, req.Pagination.AllPages)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(listResult)
		if err != nil {
			return nil, NewError(KindUnknown, "encoding list result", 0)
		}

		return data, nil
	}

	var (
		data   []byte
		cached bool
		err    error
	)

	if r.policy.ShouldCache(resource, ActionList) {
		keyParams := copyParams(req.Query)
		keyParams[ParamLimit] = limit
		keyParams[ParamAllPages] = req.Pagination.AllPages

		if !req.Pagination.AllPages {
			keyParams[ParamPage] = req.Pagination.Page
		}

		key := r.cache.GetCacheKey(resource.Name, ActionList, keyParams)
		data, cached, err = r.cache.GetOrCompute(ctx, resource.Name, key, r.policy.TTLFor(resource), fetch)
		r.inst.recordCacheLookup(ctx, resource.Name, cached)
	} else {
		data, err = fetch(ctx)
	}

	if err != nil {
		return nil, err
	}

	var listResult ListResult

	err = json.Unmarshal(data, &listResult)
	if err != nil {
		return nil, NewError(KindUnknown, "decoding cached list result", 0)
	}

	return &Result{Data: data, List: &listResult, Cached: cached}, nil
}

func (r *Router) fetchList(
	ctx context.Context,
	pager *Pager,
	path string,
	query url.Values,
	page, limit int,
	allPages bool,
) (*ListResult, error) {
	if allPages {
		items, err := FetchAllPages(ctx, pager, path, query, limit)
		if err != nil {
			return nil, err
		}

		return &ListResult{Items: items, Count: len(items), AllPages: true}, nil
	}

	fetched, err := pager.FetchPage(ctx, path, query, page, limit)
	if err != nil {
		return nil, err
	}

	items := fetched.Items
	if items == nil {
		items = []json.RawMessage{}
	}

	return &ListResult{
		Items:   items,
		Page:    fetched.Descriptor.Page,
		Limit:   fetched.Descriptor.Limit,
		HasMore: fetched.HasMore(),
		Total:   fetched.Descriptor.TotalItems,
		Count:   len(items),
	}, nil
}

func (r *Router) write(ctx context.Context, resource *Resource, action ActionKind, method, path string, body []byte) (*Result, error) {
	resp, err := r.send(ctx, resource, action, method, path, nil, body)

	// The server may have applied the write even when the outcome is
	// unknown, so invalidate unless it was rejected outright.
	if err == nil || mayHaveApplied(err) {
		r.invalidate(ctx, resource, action)
	}

	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(resp.Body)) == 0 {
		return &Result{Data: successPayload}, nil
	}

	data, err := extractData(resp)
	if err != nil {
		return nil, err
	}

	return &Result{Data: data}, nil
}

func mayHaveApplied(err error) bool {
	fireflyErr := AsError(err)

	return fireflyErr.Kind == KindServer || fireflyErr.Kind == KindConnectivity
}

func (r *Router) invalidate(ctx context.Context, resource *Resource, action ActionKind) {
	ctx = context.WithoutCancel(ctx)

	for _, category := range resource.InvalidatedBy(action) {
		err := r.cache.Invalidate(ctx, category)
		if err != nil {
			LoggerWithContext(ctx, r.logger).Warn("Cache invalidation failed", map[string]interface{}{
				"category": category,
				"error":    err.Error(),
			})
		}
	}
}

// InvalidateCategory clears the cache of one category, or of every
// category when name is empty.
func (r *Router) InvalidateCategory(ctx context.Context, name string) error {
	if name == "" {
		return r.cache.InvalidateAll(ctx)
	}

	if _, ok := r.registry.Lookup(name); !ok {
		return newValidationError("unknown resource category %q", name)
	}

	return r.cache.Invalidate(ctx, name)
}

// send issues one request and classifies the outcome.
func (r *Router) send(
	ctx context.Context,
	resource *Resource,
	action ActionKind,
	method, path string,
	query url.Values,
	body []byte,
) (*Response, error) {
	req := &Request{
		Method:   method,
		Path:     path,
		Query:    query,
		Body:     body,
		Metadata: requestMetadata(resource, action),
	}

	resp, err := r.doer.Do(ctx, req)
	if err != nil {
		return nil, ClassifyError(err)
	}

	if classified := Classify(resp); classified != nil {
		return nil, classified
	}

	return resp, nil
}

func requestMetadata(resource *Resource, action ActionKind) map[string]interface{} {
	return map[string]interface{}{
		MetadataResource: resource.Name,
		MetadataAction:   string(action),
	}
}

// getPath addresses an instance, or a report of a report category.
func getPath(req GetRequest) string {
	if req.Resource.Report == nil {
		return instancePath(req.Resource, req.ID)
	}

	if req.SubPath == "" {
		return req.Resource.Path
	}

	return req.Resource.Path + "/" + req.SubPath
}

func instancePath(resource *Resource, id string) string {
	return resource.Path + "/" + url.PathEscape(id)
}

func encodeBody(body map[string]any) ([]byte, error) {
	if body == nil {
		body = map[string]any{}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, newValidationError("parameters are not JSON encodable: %s", err.Error())
	}

	return data, nil
}

// extractData returns the "data" member of a JSON object body verbatim, or
// the whole body when there is none.
func extractData(resp *Response) ([]byte, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || !json.Valid(body) {
		return nil, NewError(KindUnknown, "malformed response body", resp.StatusCode)
	}

	if body[0] != '{' {
		return body, nil
	}

	var members map[string]json.RawMessage

	err := json.Unmarshal(body, &members)
	if err != nil {
		return nil, NewError(KindUnknown, "malformed response body", resp.StatusCode)
	}

	if data, ok := members["data"]; ok {
		return data, nil
	}

	return body, nil
}
