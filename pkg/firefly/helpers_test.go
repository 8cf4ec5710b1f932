package firefly_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// fakeDoer answers requests with a handler and records every call.
type fakeDoer struct {
	mutex    sync.Mutex
	handler  func(req *firefly.Request) (*firefly.Response, error)
	requests []firefly.Request
}

func newFakeDoer(handler func(req *firefly.Request) (*firefly.Response, error)) *fakeDoer {
	return &fakeDoer{handler: handler}
}

func (d *fakeDoer) Do(ctx context.Context, req *firefly.Request) (*firefly.Response, error) {
	d.mutex.Lock()
	d.requests = append(d.requests, *req)
	d.mutex.Unlock()

	return d.handler(req)
}

func (d *fakeDoer) Calls() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.requests)
}

func (d *fakeDoer) Requests() []firefly.Request {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]firefly.Request(nil), d.requests...)
}

// MockDoer is a testify mock of firefly.Doer.
type MockDoer struct {
	mock.Mock
}

func (m *MockDoer) Do(ctx context.Context, req *firefly.Request) (*firefly.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*firefly.Response), args.Error(1)
}

// MockLogger records log entries.
type MockLogger struct {
	mutex sync.Mutex
	logs  []map[string]interface{}
}

func (l *MockLogger) add(level, msg string, fields map[string]interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.logs = append(l.logs, map[string]interface{}{"level": level, "msg": msg, "fields": fields})
}

func (l *MockLogger) Debug(msg string, fields map[string]interface{}) { l.add("debug", msg, fields) }
func (l *MockLogger) Info(msg string, fields map[string]interface{})  { l.add("info", msg, fields) }
func (l *MockLogger) Warn(msg string, fields map[string]interface{})  { l.add("warn", msg, fields) }
func (l *MockLogger) Error(msg string, fields map[string]interface{}) { l.add("error", msg, fields) }

func (l *MockLogger) Messages() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	messages := make([]string, 0, len(l.logs))
	for _, entry := range l.logs {
		messages = append(messages, entry["msg"].(string))
	}

	return messages
}

func jsonResponse(status int, body interface{}) *firefly.Response {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}

	return &firefly.Response{StatusCode: status, Headers: http.Header{}, Body: data}
}

func rawResponse(status int, body string) *firefly.Response {
	return &firefly.Response{StatusCode: status, Headers: http.Header{}, Body: []byte(body)}
}

// listPage renders a Firefly III list response with count items numbered
// from first.
func listPage(first, count, page, perPage, totalPages, total int) *firefly.Response {
	items := make([]map[string]interface{}, 0, count)
	for i := range count {
		items = append(items, map[string]interface{}{"id": fmt.Sprint(first + i), "type": "accounts"})
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"data": items,
		"meta": map[string]interface{}{
			"pagination": map[string]interface{}{
				"total":        total,
				"count":        count,
				"per_page":     perPage,
				"current_page": page,
				"total_pages":  totalPages,
			},
		},
	})
}

func itemID(t interface{ Helper() }, raw json.RawMessage) string {
	t.Helper()

	var item struct {
		ID string `json:"id"`
	}

	_ = json.Unmarshal(raw, &item)

	return item.ID
}
