package apiset

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-ldr/pkg/apiset/apisettest"
	"github.com/carved4/go-ldr/pkg/errors"
)

func TestIsApiSetReference(t *testing.T) {
	assert.True(t, IsApiSetReference("api-ms-win-core-file-l1-1-0.dll"))
	assert.True(t, IsApiSetReference("ext-ms-win-gdi-draw-l1-1-0.dll"))
	assert.True(t, IsApiSetReference("my-api-thing.dll"))
	assert.False(t, IsApiSetReference("kernel32.dll"))
	assert.False(t, IsApiSetReference("apisetschema.dll"))
}

func TestHashMatchesNamespace(t *testing.T) {
	for _, s := range []string{"api-test-l1", "API-MS-WIN-CORE-FILE-L1-2", ""} {
		assert.Equal(t, apisettest.Hash(s, apisettest.HashFactor), hashV6(s, apisettest.HashFactor), s)
	}
}

func TestResolveV6(t *testing.T) {
	ns := apisettest.V6(
		apisettest.Entry{Name: "api-test-l1", Hashed: "api-test-l1", Hosts: []string{"realtest.dll"}},
		apisettest.Entry{Name: "api-ms-win-core-file-l1-2-4", Hashed: "api-ms-win-core-file-l1-2", Hosts: []string{"kernelbase.dll", "kernel32.dll"}},
		apisettest.Entry{Name: "ext-ms-win-empty-l1-1-0", Hashed: "ext-ms-win-empty-l1-1"},
	)

	host, err := ResolveIn(ns, "api-test-l1-1.dll")
	require.NoError(t, err)
	assert.Equal(t, "realtest.dll", host)

	host, err = ResolveIn(ns, "api-TEST-L1-7.dll")
	require.NoError(t, err)
	assert.Equal(t, "realtest.dll", host)

	host, err = ResolveIn(ns, "api-ms-win-core-file-l1-2-1.dll")
	require.NoError(t, err)
	assert.Equal(t, "kernelbase.dll", host)

	for _, name := range []string{
		"api-unlisted-l1-1.dll",
		"api-test-l1-1-0.dll",
		"ext-ms-win-empty-l1-1-0.dll",
		"api-",
	} {
		_, err := ResolveIn(ns, name)
		assert.True(t, errors.IsCode(err, errors.ErrInvalidName), name)
	}
}

func TestResolveV6HashCollision(t *testing.T) {
	ns := apisettest.V6(apisettest.Entry{
		Name:   "api-test-l1",
		Hashed: "api-test-l1",
		Hosts:  []string{"realtest.dll"},
		Hash:   apisettest.Hash("api-other-l1", apisettest.HashFactor),
	})
	_, err := ResolveIn(ns, "api-other-l1-1.dll")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidName))
}

func TestResolveV6Truncated(t *testing.T) {
	ns := apisettest.V6(apisettest.Entry{Name: "api-test-l1", Hashed: "api-test-l1", Hosts: []string{"realtest.dll"}})
	_, err := ResolveIn(ns[:40], "api-test-l1-1.dll")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidName))
	assert.True(t, errors.IsCode(err, errors.ErrOutOfBounds))
}

func TestResolveV2(t *testing.T) {
	ns := apisettest.V2(
		apisettest.V2Entry{Name: "MS-Win-Core-File-L1-1-0", Hosts: []apisettest.V2Host{{Host: "kernel32.dll"}}},
		apisettest.V2Entry{Name: "MS-Win-Core-Console-L1-1-0", Hosts: []apisettest.V2Host{
			{Importer: "kernel32.dll", Host: "kernelbase.dll"},
			{Host: "kernel32.dll"},
		}},
		apisettest.V2Entry{Name: "MS-Win-Security-Base-L1-1-0", Hosts: []apisettest.V2Host{{Host: "advapi32.dll"}}},
	)

	v, err := Version(ns)
	require.NoError(t, err)
	assert.Equal(t, uint32(SchemaV2), v)

	host, err := ResolveIn(ns, "api-ms-win-core-file-l1-1-0.dll")
	require.NoError(t, err)
	assert.Equal(t, "kernel32.dll", host)

	host, err = ResolveIn(ns, "api-ms-win-security-base-l1-1-0.dll")
	require.NoError(t, err)
	assert.Equal(t, "advapi32.dll", host)

	host, err = ResolveIn(ns, "api-ms-win-core-console-l1-1-0.dll")
	require.NoError(t, err)
	assert.Equal(t, "kernel32.dll", host)

	_, err = ResolveIn(ns, "api-ms-win-core-missing-l1-1-0.dll")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidName))

	_, err = ResolveIn(ns, "api-ms-win-core-file-l1-1-0")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidName))
}

func TestResolveSchemaDispatch(t *testing.T) {
	version := func(v uint32) []byte {
		return binary.LittleEndian.AppendUint32(make([]byte, 0, 64), v)
	}

	_, err := ResolveIn(version(SchemaV3), "api-ms-win-core-file-l1-1-0.dll")
	assert.True(t, errors.IsCode(err, errors.ErrUnsupportedSchema))

	_, err = ResolveIn(version(SchemaV4), "api-ms-win-core-file-l1-1-0.dll")
	assert.True(t, errors.IsCode(err, errors.ErrUnsupportedSchema))

	_, err = ResolveIn(version(5), "api-ms-win-core-file-l1-1-0.dll")
	assert.True(t, errors.IsCode(err, errors.ErrUnhandledVersion))

	_, err = ResolveIn(nil, "api-ms-win-core-file-l1-1-0.dll")
	assert.True(t, errors.IsCode(err, errors.ErrSetMapNotFound))

	_, err = ResolveIn(version(SchemaV6), "kernel32.dll")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidName))
}

func TestResolverUsesLocator(t *testing.T) {
	ns := apisettest.V6(apisettest.Entry{Name: "api-test-l1", Hashed: "api-test-l1", Hosts: []string{"realtest.dll"}})
	r := NewResolver(Static(ns))

	host, err := r.Resolve("api-test-l1-1.dll")
	require.NoError(t, err)
	assert.Equal(t, "realtest.dll", host)

	failing := NewResolver(LocatorFunc(func() ([]byte, error) {
		return nil, errors.New(errors.ErrProcessQuery, "test")
	}))
	_, err = failing.Resolve("api-test-l1-1.dll")
	assert.True(t, errors.IsCode(err, errors.ErrProcessQuery))

	_, err = r.Resolve("kernel32.dll")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidName))
}
