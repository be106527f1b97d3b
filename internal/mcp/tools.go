package mcp

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/vaultsync/pkg/governor"
)

// defaultQueueLimit caps queue_status output when no limit is given.
const defaultQueueLimit = 50

// VaultStatusInput represents input for vault_status tool.
type VaultStatusInput struct{}

// VaultStatusOutput represents output for vault_status tool.
type VaultStatusOutput struct {
	Exists                  bool   `json:"exists"`
	FailedAttempts          int    `json:"failed_attempts"`
	RemainingAttempts       int    `json:"remaining_attempts"`
	LockedOut               bool   `json:"locked_out"`
	LockoutRemainingSeconds int    `json:"lockout_remaining_seconds,omitempty"`
	CreatedAt               string `json:"created_at,omitempty"`
}

// QueueStatusInput represents input for queue_status tool.
type QueueStatusInput struct {
	Limit int `json:"limit,omitempty"`
}

// QueueStatusOutput represents output for queue_status tool.
type QueueStatusOutput struct {
	Length   int         `json:"length"`
	Draining bool        `json:"draining"`
	Items    []QueueItem `json:"items"`
}

// QueueItem describes a queued request without its payload.
type QueueItem struct {
	ID         int64  `json:"id"`
	RequestID  string `json:"request_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	EnqueuedAt string `json:"enqueued_at"`
	ExpiresAt  string `json:"expires_at"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
}

// CacheStatsInput represents input for cache_stats tool.
type CacheStatsInput struct {
	Partition string `json:"partition,omitempty"`
}

// CacheStatsOutput represents output for cache_stats tool.
type CacheStatsOutput struct {
	Partitions   []PartitionInfo `json:"partitions"`
	TotalEntries int             `json:"total_entries"`
	TotalBytes   int64           `json:"total_bytes"`
}

// PartitionInfo reports one cache partition.
type PartitionInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Oldest  string `json:"oldest,omitempty"`
	Newest  string `json:"newest,omitempty"`
}

// handleVaultStatus handles the vault_status tool call.
func (s *Server) handleVaultStatus(_ context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	if err := s.checkTool(ToolVaultStatus); err != nil {
		return nil, VaultStatusOutput{}, err
	}

	st, err := s.vault.Status()
	if err != nil {
		return nil, VaultStatusOutput{}, fmt.Errorf("failed to read vault status: %w", err)
	}

	out := VaultStatusOutput{
		Exists:            st.Exists,
		FailedAttempts:    st.FailedAttempts,
		RemainingAttempts: st.RemainingAttempts,
		LockedOut:         st.LockedOut,
	}
	if st.LockedOut {
		out.LockoutRemainingSeconds = governor.CeilSeconds(st.LockoutRemaining)
	}
	if !st.CreatedAt.IsZero() {
		out.CreatedAt = st.CreatedAt.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

// handleQueueStatus handles the queue_status tool call.
func (s *Server) handleQueueStatus(ctx context.Context, _ *mcp.CallToolRequest, input QueueStatusInput) (*mcp.CallToolResult, QueueStatusOutput, error) {
	if err := s.checkTool(ToolQueueStatus); err != nil {
		return nil, QueueStatusOutput{}, err
	}
	if input.Limit < 0 {
		return nil, QueueStatusOutput{}, fmt.Errorf("limit must not be negative")
	}
	limit := input.Limit
	if limit == 0 {
		limit = defaultQueueLimit
	}

	items, err := s.queue.List(ctx)
	if err != nil {
		return nil, QueueStatusOutput{}, fmt.Errorf("failed to list queue: %w", err)
	}

	out := QueueStatusOutput{
		Length:   len(items),
		Draining: s.queue.Draining(),
		Items:    make([]QueueItem, 0, min(limit, len(items))),
	}
	for _, m := range items {
		if len(out.Items) == limit {
			break
		}
		out.Items = append(out.Items, QueueItem{
			ID:         m.ID,
			RequestID:  m.RequestID,
			Method:     m.Method,
			Path:       redactURL(m.URL),
			EnqueuedAt: m.EnqueuedAt.UTC().Format(time.RFC3339),
			ExpiresAt:  m.Deadline().UTC().Format(time.RFC3339),
			Attempts:   m.Attempts,
			LastError:  m.LastError,
		})
	}
	return nil, out, nil
}

// handleCacheStats handles the cache_stats tool call.
func (s *Server) handleCacheStats(ctx context.Context, _ *mcp.CallToolRequest, input CacheStatsInput) (*mcp.CallToolResult, CacheStatsOutput, error) {
	if err := s.checkTool(ToolCacheStats); err != nil {
		return nil, CacheStatsOutput{}, err
	}

	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return nil, CacheStatsOutput{}, fmt.Errorf("failed to read cache stats: %w", err)
	}

	out := CacheStatsOutput{Partitions: make([]PartitionInfo, 0, len(stats))}
	for _, ps := range stats {
		if input.Partition != "" && ps.Partition != input.Partition {
			continue
		}
		info := PartitionInfo{Name: ps.Partition, Entries: ps.Entries, Bytes: ps.Bytes}
		if !ps.Oldest.IsZero() {
			info.Oldest = ps.Oldest.UTC().Format(time.RFC3339)
		}
		if !ps.Newest.IsZero() {
			info.Newest = ps.Newest.UTC().Format(time.RFC3339)
		}
		out.Partitions = append(out.Partitions, info)
		out.TotalEntries += ps.Entries
		out.TotalBytes += ps.Bytes
	}
	return nil, out, nil
}

// redactURL keeps host and path and drops credentials, query and fragment.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid URL)"
	}
	return u.Host + u.EscapedPath()
}
