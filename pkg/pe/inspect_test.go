package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/pe/petest"
)

func TestInspectListsImportsAndExports(t *testing.T) {
	b := petest.New()
	b.Export("Hello", b.Stub())
	b.Import("kernel32.dll", "GetTickCount")
	b.Import("user32.dll", "MessageBoxA")

	r, err := Inspect(writeImage(t, b))
	require.NoError(t, err)

	assert.True(t, r.DLL)
	assert.Equal(t, uint16(MachineAMD64), r.Machine)
	assert.Equal(t, []string{"kernel32.dll", "user32.dll"}, r.Imports)
	require.Len(t, r.Exports, 1)
	assert.Equal(t, "Hello", r.Exports[0].Name)
	require.Len(t, r.Sections, 1)
	assert.Equal(t, ".data", r.Sections[0].Name)
}

func TestInspectRejectsOtherMachines(t *testing.T) {
	b := petest.New()
	b.Machine = 0xAA64
	_, err := InspectReader(bytes.NewReader(b.Bytes()))
	assert.True(t, errors.IsCode(err, errors.ErrUnhandledMachine))
}
