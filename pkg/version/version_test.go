package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	assert.Regexp(t, semver, Version)
}

func TestString(t *testing.T) {
	s := String()

	assert.Contains(t, s, "hybridsearch "+Version)
	assert.Contains(t, s, "commit: "+Commit)
	assert.Contains(t, s, runtime.Version())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given: build info
	info := GetInfo()

	// When: marshaling it
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then: every field is present with snake_case keys
	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, Version, m["version"])
	assert.Equal(t, runtime.GOOS, m["os"])
	assert.Equal(t, runtime.GOARCH, m["arch"])
	for _, key := range []string{"commit", "date", "go_version"} {
		assert.Contains(t, m, key)
	}
}
