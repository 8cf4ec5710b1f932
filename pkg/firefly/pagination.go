package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// ErrNoMoreItems is returned by PaginationIterator.Next when exhausted.
var ErrNoMoreItems = errors.New("no more items")

// PageDescriptor describes one fetched page. TotalPages and TotalItems are
// nil when the server did not declare them.
type PageDescriptor struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages *int `json:"total_pages,omitempty"`
	TotalItems *int `json:"total,omitempty"`
}

// Page is one page of a list endpoint. Items are passed through verbatim.
type Page struct {
	Items      []json.RawMessage
	Descriptor PageDescriptor
}

// HasMore reports whether another page should be requested after this one.
func (p *Page) HasMore() bool {
	if len(p.Items) == 0 {
		return false
	}

	if p.Descriptor.TotalPages != nil {
		return p.Descriptor.Page < *p.Descriptor.TotalPages
	}

	return len(p.Items) >= p.Descriptor.Limit
}

// PaginationOptions configures pagination behavior.
type PaginationOptions struct {
	// PageSize is the limit used when the caller does not set one.
	PageSize int
	// MaxPages caps all-pages walks; requesting page MaxPages+1 fails.
	MaxPages int
}

// DefaultPaginationOptions returns default pagination options.
func DefaultPaginationOptions() *PaginationOptions {
	return &PaginationOptions{
		PageSize: constants.DefaultPageSize,
		MaxPages: constants.DefaultMaxPages,
	}
}

// Pager fetches pages from Firefly III list endpoints.
type Pager struct {
	doer     Doer
	pageSize int
	maxPages int
	metadata map[string]interface{}
}

// NewPager creates a pager. A nil options value uses the defaults.
func NewPager(doer Doer, options *PaginationOptions) *Pager {
	defaults := DefaultPaginationOptions()
	if options == nil {
		options = defaults
	}

	pager := &Pager{
		doer:     doer,
		pageSize: options.PageSize,
		maxPages: options.MaxPages,
	}

	if pager.pageSize <= 0 {
		pager.pageSize = defaults.PageSize
	}

	if pager.maxPages <= 0 {
		pager.maxPages = defaults.MaxPages
	}

	return pager
}

// PageSize returns the default page size.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// MaxPages returns the page cap for all-pages walks.
func (p *Pager) MaxPages() int {
	return p.maxPages
}

// WithMetadata returns a copy of the pager that tags requests with metadata.
func (p *Pager) WithMetadata(metadata map[string]interface{}) *Pager {
	clone := *p
	clone.metadata = metadata

	return &clone
}

// listEnvelope is the shape of a Firefly III list response.
type listEnvelope struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		Pagination *struct {
			Total       *flexInt `json:"total"`
			PerPage     *flexInt `json:"per_page"`
			CurrentPage *flexInt `json:"current_page"`
			TotalPages  *flexInt `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// flexInt accepts numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)

	value, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("parsing pagination value: %w", err)
	}

	*f = flexInt(value)

	return nil
}

func (f *flexInt) intPtr() *int {
	if f == nil {
		return nil
	}

	value := int(*f)

	return &value
}

// FetchPage fetches exactly one page. limit <= 0 uses the default page size.
// Failures are returned as *Error.
func (p *Pager) FetchPage(ctx context.Context, path string, query url.Values, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}

	if limit <= 0 {
		limit = p.pageSize
	}

	values := url.Values{}
	for key, vals := range query {
		values[key] = append([]string(nil), vals...)
	}

	values.Set(ParamPage, strconv.Itoa(page))
	values.Set(ParamLimit, strconv.Itoa(limit))

	req := &Request{
		Method:   http.MethodGet,
		Path:     path,
		Query:    values,
		Metadata: copyMetadata(p.metadata),
	}

	resp, err := p.doer.Do(ctx, req)
	if err != nil {
		return nil, ClassifyError(err)
	}

	if classified := Classify(resp); classified != nil {
		return nil, classified
	}

	return decodePage(resp, page, limit)
}

func decodePage(resp *Response, page, limit int) (*Page, error) {
	var envelope listEnvelope

	err := json.Unmarshal(resp.Body, &envelope)
	if err != nil || len(envelope.Data) == 0 {
		return nil, NewError(KindUnknown, "malformed list response", resp.StatusCode)
	}

	var items []json.RawMessage

	err = json.Unmarshal(envelope.Data, &items)
	if err != nil {
		return nil, NewError(KindUnknown, "malformed list response: data is not an array", resp.StatusCode)
	}

	result := &Page{
		Items:      items,
		Descriptor: PageDescriptor{Page: page, Limit: limit},
	}

	if meta := envelope.Meta.Pagination; meta != nil {
		if meta.CurrentPage != nil && *meta.CurrentPage > 0 {
			result.Descriptor.Page = int(*meta.CurrentPage)
		}

		if meta.PerPage != nil && *meta.PerPage > 0 {
			result.Descriptor.Limit = int(*meta.PerPage)
		}

		result.Descriptor.TotalPages = meta.TotalPages.intPtr()
		result.Descriptor.TotalItems = meta.Total.intPtr()
	}

	return result, nil
}

func copyMetadata(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}

	return out
}

// pageWalker walks a list endpoint from page 1. It is not restartable.
type pageWalker struct {
	pager *Pager
	path  string
	query url.Values
	limit int
	next  int
	done  bool
}

func newPageWalker(pager *Pager, path string, query url.Values, limit int) *pageWalker {
	if limit <= 0 {
		limit = pager.pageSize
	}

	return &pageWalker{
		pager: pager,
		path:  path,
		query: query,
		limit: limit,
		next:  1,
	}
}

// nextPage returns the next page, or nil once the walk is finished.
func (w *pageWalker) nextPage(ctx context.Context) (*Page, error) {
	if w.done {
		return nil, nil
	}

	if w.next > w.pager.maxPages {
		w.done = true

		return nil, NewError(KindPaginationLimit,
			fmt.Sprintf("%s has more than %d pages; narrow the query or raise pagination.max_pages", w.path, w.pager.maxPages), 0)
	}

	page, err := w.pager.FetchPage(ctx, w.path, w.query, w.next, w.limit)
	if err != nil {
		w.done = true

		return nil, err
	}

	w.next++

	if !page.HasMore() {
		w.done = true
	}

	return page, nil
}

// PaginationIterator provides lazy iteration over every item of a list
// endpoint, decoding each item into T.
type PaginationIterator[T any] struct {
	ctx    context.Context
	walker *pageWalker
	items  []json.RawMessage
	index  int
	err    error
}

// NewPaginationIterator creates an iterator over path. Use json.RawMessage
// as T to receive items verbatim.
func NewPaginationIterator[T any](ctx context.Context, pager *Pager, path string, query url.Values) *PaginationIterator[T] {
	return &PaginationIterator[T]{
		ctx:    ctx,
		walker: newPageWalker(pager, path, query, 0),
	}
}

// HasNext reports whether Next will return an item or an error.
func (it *PaginationIterator[T]) HasNext() bool {
	if it.err != nil {
		return true
	}

	for it.index >= len(it.items) {
		page, err := it.walker.nextPage(it.ctx)
		if err != nil {
			it.err = err

			return true
		}

		if page == nil {
			return false
		}

		it.items = page.Items
		it.index = 0
	}

	return true
}

// Next returns the next item.
func (it *PaginationIterator[T]) Next() (T, error) {
	var zero T

	if !it.HasNext() {
		return zero, ErrNoMoreItems
	}

	if it.err != nil {
		err := it.err
		it.err = nil
		it.items = nil

		return zero, err
	}

	raw := it.items[it.index]
	it.index++

	var item T

	err := json.Unmarshal(raw, &item)
	if err != nil {
		return zero, NewError(KindUnknown, "malformed list item", 0)
	}

	return item, nil
}

// All collects every remaining item.
func (it *PaginationIterator[T]) All() ([]T, error) {
	var all []T

	for it.HasNext() {
		item, err := it.Next()
		if err != nil {
			return nil, err
		}

		all = append(all, item)
	}

	return all, nil
}

// ForEach calls fn for every remaining item, stopping at the first error.
func (it *PaginationIterator[T]) ForEach(fn func(T) error) error {
	for it.HasNext() {
		item, err := it.Next()
		if err != nil {
			return err
		}

		err = fn(item)
		if err != nil {
			return err
		}
	}

	return nil
}

// PageResult is one element of a StreamPages channel.
type PageResult struct {
	Items      []json.RawMessage
	Descriptor PageDescriptor
	Err        error
}

// StreamPages walks path in a goroutine and sends each page on the returned
// channel, which is closed after the last page or the first error.
func StreamPages(ctx context.Context, pager *Pager, path string, query url.Values, limit int) <-chan PageResult {
	results := make(chan PageResult)

	go func() {
		defer close(results)

		walker := newPageWalker(pager, path, query, limit)

		for {
			page, err := walker.nextPage(ctx)

			var result PageResult

			switch {
			case err != nil:
				result = PageResult{Err: err}
			case page == nil:
				return
			default:
				result = PageResult{Items: page.Items, Descriptor: page.Descriptor}
			}

			select {
			case results <- result:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	return results
}

// FetchAllPages materializes every item of path in page order.
func FetchAllPages(ctx context.Context, pager *Pager, path string, query url.Values, limit int) ([]json.RawMessage, error) {
	walker := newPageWalker(pager, path, query, limit)
	items := make([]json.RawMessage, 0)

	for {
		page, err := walker.nextPage(ctx)
		if err != nil {
			return nil, err
		}

		if page == nil {
			return items, nil
		}

		items = append(items, page.Items...)
	}
}
