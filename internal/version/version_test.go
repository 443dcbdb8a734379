package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	defer func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] }()

	assert.Equal(t, "dev (unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-03-01T12:00:00Z"
	assert.Equal(t, "1.2.0 (abc123, built 2026-03-01T12:00:00Z)", String())
}
