package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSetLoggerNilFallsBackToNop(t *testing.T) {
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	SetLogger(nil)
	assert.NotNil(t, Logger())
	assert.NotPanics(t, func() { Logger().Debug("after nil logger") })
}
