//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// GatewayIntegrationTestSuite runs the gateway against a live Firefly III.
type GatewayIntegrationTestSuite struct {
	suite.Suite
	config *TestConfig
	client *fireflyclient.Client
	ctx    context.Context
}

// SetupSuite initializes the test environment.
func (s *GatewayIntegrationTestSuite) SetupSuite() {
	s.config = LoadTestConfig()
	s.config.SkipIfMissingConfig(s.T())

	s.ctx = context.Background()

	client, err := s.config.NewClient(s.ctx)
	s.Require().NoError(err)

	s.client = client
}

// TearDownSuite releases the client.
func (s *GatewayIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *GatewayIntegrationTestSuite) TestConnection() {
	about, err := s.client.TestConnection(s.ctx)
	s.Require().NoError(err)

	var info map[string]any
	s.Require().NoError(json.Unmarshal(about, &info))
	s.NotEmpty(info["version"])
}

func (s *GatewayIntegrationTestSuite) TestListAllPages() {
	result, err := s.client.Execute(s.ctx, "accounts", "list", map[string]any{
		firefly.ParamAllPages: true,
		firefly.ParamLimit:    5,
	})
	s.Require().NoError(err)
	s.Require().NotNil(result.List)
	s.True(result.List.AllPages)
	s.Len(result.List.Items, result.List.Count)
}

func (s *GatewayIntegrationTestSuite) TestTagLifecycle() {
	name := GenerateTestName("firefly-mcp")

	created, err := s.client.Execute(s.ctx, "tags", "create", map[string]any{"tag": name})
	s.Require().NoError(err)

	var tag struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(created.Data, &tag))
	s.Require().NotEmpty(tag.ID)

	defer CleanupResource(s.T(), s.client, "tags", tag.ID)

	fetched, err := s.client.Execute(s.ctx, "tags", "get", map[string]any{firefly.ParamID: tag.ID})
	s.Require().NoError(err)
	s.Contains(string(fetched.Data), name)

	_, err = s.client.Execute(s.ctx, "tags", "update", map[string]any{
		firefly.ParamID: tag.ID,
		"description":   "updated by integration test",
	})
	s.Require().NoError(err)

	refetched, err := s.client.Execute(s.ctx, "tags", "get", map[string]any{firefly.ParamID: tag.ID})
	s.Require().NoError(err)
	s.False(refetched.Cached)
	s.Contains(string(refetched.Data), "updated by integration test")

	deleted, err := s.client.Execute(s.ctx, "tags", "delete", map[string]any{firefly.ParamID: tag.ID})
	s.Require().NoError(err)
	s.JSONEq(`{"success":true}`, string(deleted.Data))

	_, err = s.client.Execute(s.ctx, "tags", "get", map[string]any{firefly.ParamID: tag.ID})
	s.ErrorIs(err, firefly.ErrNotFound)
}

func (s *GatewayIntegrationTestSuite) TestBatch() {
	operations := firefly.NewBatchBuilder().
		AddList("currencies", "currencies", nil).
		AddGet("missing", "bills", "999999999").
		AddList("budgets", "budgets", nil).
		Build()

	response, err := s.client.ExecuteBatch(s.ctx, operations, firefly.BatchOptions{ContinueOnError: false})
	s.Require().NoError(err)

	summary := response.Summary()
	s.Equal(1, summary.Succeeded)
	s.Equal(1, summary.Failed)
	s.Equal(1, summary.Skipped)
}

func (s *GatewayIntegrationTestSuite) TestCLICheck() {
	runner := NewCommandRunner(s.config, s.T())
	if !runner.Available() {
		s.T().Skip("firefly-mcp binary not found")
	}

	stdout, stderr, err := runner.Run("check", "--output", "json")
	s.Require().NoError(err, stderr)
	s.Contains(stdout, `"status": "ok"`)
}

func TestGatewayIntegrationSuite(t *testing.T) {
	suite.Run(t, new(GatewayIntegrationTestSuite))
}
