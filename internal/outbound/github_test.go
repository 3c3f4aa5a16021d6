package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceID_ValidFormat(t *testing.T) {
	t.Run("Should split owner, repo, and issue number", func(t *testing.T) {
		owner, repo, number, err := parseResourceID("octocat/hello-world#42")

		require.NoError(t, err)
		assert.Equal(t, "octocat", owner)
		assert.Equal(t, "hello-world", repo)
		assert.Equal(t, 42, number)
	})
}

func TestParseResourceID_RejectsMissingNumber(t *testing.T) {
	t.Run("Should reject a resource id with no '#number' suffix", func(t *testing.T) {
		_, _, _, err := parseResourceID("octocat/hello-world")

		require.Error(t, err)
	})
}

func TestParseResourceID_RejectsMissingOwner(t *testing.T) {
	t.Run("Should reject a resource id with no 'owner/repo' prefix", func(t *testing.T) {
		_, _, _, err := parseResourceID("hello-world#42")

		require.Error(t, err)
	})
}

func TestParseResourceID_RejectsNonNumericIssueNumber(t *testing.T) {
	t.Run("Should reject a non-numeric issue number", func(t *testing.T) {
		_, _, _, err := parseResourceID("octocat/hello-world#abc")

		require.Error(t, err)
	})
}
