package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/backing"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
)

func openMem(t *testing.T) *BTree {
	t.Helper()
	bt, err := Open(backing.NewMemoryBacking(25), Options{})
	require.NoError(t, err)
	return bt
}

func TestPutGet(t *testing.T) {
	bt := openMem(t)

	require.NoError(t, bt.Put([]byte("k1"), []byte("v1")))

	v, ok, err := bt.Get([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestGetMissing(t *testing.T) {
	bt := openMem(t)

	_, ok, err := bt.Get([]byte("nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwrite(t *testing.T) {
	bt := openMem(t)

	require.NoError(t, bt.Put([]byte("k"), []byte("v1")))
	require.NoError(t, bt.Put([]byte("k"), []byte("v2")))

	v, ok, err := bt.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
	assert.Equal(t, 1, bt.Len())
}

func TestDeleteIdempotent(t *testing.T) {
	bt := openMem(t)
	require.NoError(t, bt.Put([]byte("k"), []byte("v")))

	existed, err := bt.Delete([]byte("k"))
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = bt.Delete([]byte("k"))
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestEmptyKeyRejected(t *testing.T) {
	bt := openMem(t)

	err := bt.Put(nil, []byte("v"))
	assert.ErrorIs(t, err, mtdberrors.ErrInvalidKey)

	_, _, err = bt.Get(nil)
	assert.ErrorIs(t, err, mtdberrors.ErrInvalidKey)

	_, err = bt.Delete(nil)
	assert.ErrorIs(t, err, mtdberrors.ErrInvalidKey)
}

func TestIterOrder(t *testing.T) {
	bt := openMem(t)
	require.NoError(t, bt.Put([]byte("b"), []byte("2")))
	require.NoError(t, bt.Put([]byte("a"), []byte("1")))
	require.NoError(t, bt.Put([]byte("c"), []byte("3")))

	cur := bt.Iter(nil, nil)
	var keys []string
	for cur.Next() {
		keys = append(keys, string(cur.Key()))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestIterRange(t *testing.T) {
	bt := openMem(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, bt.Put([]byte(k), []byte(k)))
	}

	cur := bt.Iter([]byte("b"), []byte("d"))
	var keys []string
	for cur.Next() {
		keys = append(keys, string(cur.Key()))
	}
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestPrefixUpperBound(t *testing.T) {
	bt := openMem(t)
	require.NoError(t, bt.Put([]byte("user:1"), []byte("a")))
	require.NoError(t, bt.Put([]byte("user:2"), []byte("b")))
	require.NoError(t, bt.Put([]byte("zzz"), []byte("c")))

	prefix := []byte("user:")
	cur := bt.Iter(prefix, PrefixUpperBound(prefix))
	count := 0
	for cur.Next() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestFlushAndReload(t *testing.T) {
	back := backing.NewMemoryBacking(25)
	bt, err := Open(back, Options{PageSize: 64})
	require.NoError(t, err)

	require.NoError(t, bt.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, bt.Put([]byte("k2"), []byte("some longer value to span pages: too long to share a 64-byte page body with k1")))
	require.NoError(t, bt.Flush())

	reopened, err := Open(back, Options{PageSize: 64})
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	v, ok, err := reopened.Get([]byte("k2"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "some longer value to span pages: too long to share a 64-byte page body with k1", string(v))
}

func TestClear(t *testing.T) {
	bt := openMem(t)
	require.NoError(t, bt.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, bt.Put([]byte("k2"), []byte("v2")))

	bt.Clear()
	assert.Equal(t, 0, bt.Len())
}
