package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/obo/pkg/logger"
)

const policyYAML = `policies:
  - id: eng-default
    principals: ["*@example.com"]
    actors: ["*"]
    targets: ["github", "google"]
    auto_approve: ["repo:", "read"]
    manual_approve: ["admin:*"]
    deny: ["delete:*"]
    max_ttl: 24h
`

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileSourceLoadsPolicies(t *testing.T) {
	path := writePolicyFile(t, policyYAML)

	src, err := NewFileSource(path, logger.NewNoop())
	require.NoError(t, err)

	policies, err := src.Policies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	p := policies[0]
	assert.Equal(t, "eng-default", p.ID)
	assert.Equal(t, []string{"repo:", "read"}, p.AutoApprove)
	assert.Equal(t, 24*time.Hour, p.MaxTTL)
}

func TestFileSourceRejectsMalformedFile(t *testing.T) {
	path := writePolicyFile(t, "policies:\n  - principals: [\"*\"]\n")

	_, err := NewFileSource(path, logger.NewNoop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestFileSourceRejectsBadTTL(t *testing.T) {
	path := writePolicyFile(t, "policies:\n  - id: p1\n    max_ttl: soon\n")

	_, err := NewFileSource(path, logger.NewNoop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_ttl")
}

func TestReloadKeepsLastGoodSetOnFailure(t *testing.T) {
	path := writePolicyFile(t, policyYAML)
	src, err := NewFileSource(path, logger.NewNoop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))
	require.Error(t, src.Reload(context.Background()))

	policies, err := src.Policies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "eng-default", policies[0].ID)
}

func TestWatchPicksUpChanges(t *testing.T) {
	path := writePolicyFile(t, policyYAML)
	src, err := NewFileSource(path, logger.NewNoop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Watch(ctx))

	updated := policyYAML + `  - id: second
    principals: ["*"]
    actors: ["*"]
    targets: ["*"]
    auto_approve: ["*"]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		policies, perr := src.Policies(context.Background())
		return perr == nil && len(policies) == 2
	}, 3*time.Second, 50*time.Millisecond)
}
