// Package mcp implements a read-only MCP (Model Context Protocol) server
// that reports vault, queue and cache status. It never returns the stored
// secret or queued request bodies.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/pkg/cache"
	"github.com/forest6511/vaultsync/pkg/queue"
	"github.com/forest6511/vaultsync/pkg/vault"
)

// Tool names.
const (
	ToolVaultStatus = "vault_status"
	ToolQueueStatus = "queue_status"
	ToolCacheStats  = "cache_stats"
)

// ErrToolDenied is returned when the policy refuses a tool call.
var ErrToolDenied = errors.New("tool denied by policy")

// CacheStats reports per-partition cache usage. *cache.Router implements it.
type CacheStats interface {
	Stats(ctx context.Context) ([]cache.PartitionStats, error)
}

// Server is the MCP status server.
type Server struct {
	server *mcp.Server
	vault  *vault.Vault
	queue  *queue.Queue
	cache  CacheStats
	policy *Policy
	logger *zap.Logger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	Vault *vault.Vault
	Queue *queue.Queue
	Cache CacheStats

	// DataDir is searched for the policy file. Without a policy every
	// status tool is available.
	DataDir string

	Version string
	Logger  *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Vault == nil || opts.Queue == nil || opts.Cache == nil {
		return nil, errors.New("mcp: vault, queue and cache are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var policy *Policy
	if opts.DataDir != "" {
		p, err := LoadPolicy(opts.DataDir)
		switch {
		case err == nil:
			policy = p
		case errors.Is(err, ErrPolicyNotFound):
		default:
			// A policy that exists but cannot be trusted must not fall
			// back to allowing everything.
			return nil, fmt.Errorf("mcp: failed to load policy: %w", err)
		}
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "vaultsync",
			Version: version,
		},
		nil,
	)

	s := &Server{
		server: mcpServer,
		vault:  opts.Vault,
		queue:  opts.Queue,
		cache:  opts.Cache,
		policy: policy,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolVaultStatus,
		Description: "Report whether a PIN-protected secret exists, failed unlock attempts, remaining attempts and any active lockout. Does NOT return the secret.",
	}, s.handleVaultStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolQueueStatus,
		Description: "List requests saved while offline and waiting to sync, oldest first. Returns method, path, age and retry count. Does NOT return request bodies or headers.",
	}, s.handleQueueStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolCacheStats,
		Description: "Report entry counts and sizes for each cache partition.",
	}, s.handleCacheStats)
}

// checkTool applies the policy to a tool call.
func (s *Server) checkTool(name string) error {
	if s.policy == nil {
		return nil
	}
	if allowed, reason := s.policy.IsToolAllowed(name); !allowed {
		s.logger.Warn("tool call denied", zap.String("tool", name), zap.String("reason", reason))
		return fmt.Errorf("%w: %s", ErrToolDenied, reason)
	}
	return nil
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
