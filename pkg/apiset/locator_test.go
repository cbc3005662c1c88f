package apiset

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-ldr/pkg/errors"
)

func TestProcessLocator(t *testing.T) {
	if runtime.GOOS != "windows" {
		_, err := Resolve("api-ms-win-core-file-l1-1-0.dll")
		assert.True(t, errors.IsCode(err, errors.ErrUnsupportedPlatform))
		return
	}

	host, err := Resolve("api-ms-win-core-file-l1-1-0.dll")
	require.NoError(t, err)
	assert.NotEmpty(t, host)
}
