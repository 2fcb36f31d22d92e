package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage/memory"
)

func testMount(id string) *Mount {
	return &Mount{
		ID:              id,
		StorageConfigID: "cfg-" + id,
		Driver:          memory.New(),
	}
}

func TestRegistryAddAndGet(t *testing.T) {
	reg := NewRegistry()

	m := testMount("documents")
	require.NoError(t, reg.Add(m))

	got, err := reg.Get("documents")
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.Equal(t, "documents", got.Name)
	assert.Equal(t, "memory", got.StorageType)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(testMount("documents")))

	err := reg.Add(testMount("documents"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConflict))
}

func TestRegistryValidatesMounts(t *testing.T) {
	reg := NewRegistry()

	assert.True(t, fault.IsKind(reg.Add(nil), fault.KindValidation))
	assert.True(t, fault.IsKind(reg.Add(&Mount{Driver: memory.New()}), fault.KindValidation))
	assert.True(t, fault.IsKind(reg.Add(&Mount{ID: "x"}), fault.KindValidation))
}

func TestRegistryGetMissing(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("nope")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(testMount("documents")))

	require.NoError(t, reg.Remove("documents"))
	_, err := reg.Get("documents")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	err = reg.Remove("documents")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRegistryListOrdered(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(testMount("zeta")))
	require.NoError(t, reg.Add(testMount("alpha")))
	require.NoError(t, reg.Add(testMount("mid")))

	var ids []string
	for _, m := range reg.List() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.IDs())
}

func TestVerifyPathPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	m := testMount("vault")
	m.PathPasswordHash = string(hash)

	assert.NoError(t, m.VerifyPathPassword("open sesame"))

	err = m.VerifyPathPassword("wrong")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))

	err = m.VerifyPathPassword("")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
}

func TestVerifyPathPasswordWithoutHash(t *testing.T) {
	m := testMount("open")

	assert.NoError(t, m.VerifyPathPassword(""))
	assert.NoError(t, m.VerifyPathPassword("anything"))
}
