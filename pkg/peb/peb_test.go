package peb

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/obf"
)

func TestFindByHash(t *testing.T) {
	mods := []Module{
		{Name: "ntdll.dll", Base: 0x7ff800000000},
		{Name: "KERNEL32.DLL", Base: 0x7ff810000000},
	}

	m, ok := findByHash(mods, obf.GetHash("kernel32.dll"))
	require.True(t, ok)
	assert.Equal(t, uintptr(0x7ff810000000), m.Base)

	_, ok = findByHash(mods, obf.GetHash("user32.dll"))
	assert.False(t, ok)
}

func TestProcessState(t *testing.T) {
	if runtime.GOOS != "windows" {
		_, err := Modules()
		assert.True(t, errors.IsCode(err, errors.ErrUnsupportedPlatform))
		_, err = ApiSetMap()
		assert.True(t, errors.IsCode(err, errors.ErrUnsupportedPlatform))
		_, err = FindModule("ntdll.dll")
		assert.True(t, errors.IsCode(err, errors.ErrUnsupportedPlatform))
		return
	}

	m, err := FindModule("NTDLL.DLL")
	require.NoError(t, err)
	assert.NotZero(t, m.Base)
	assert.NotZero(t, m.Size)

	ns, err := ApiSetMap()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ns), 8)
}
