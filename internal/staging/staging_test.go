package staging

import (
	"errors"
	"os"
	"testing"

	"roster-scan/internal/diag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func cell(b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), 8, 6, gocv.MatTypeCV8UC3)
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	key := CellKey{Doc: 0, Page: 1, Row: 2, Day: 3}

	require.NoError(t, s.Put(key, cell(10, 20, 30)))

	err := s.View(key, func(m gocv.Mat) error {
		assert.Equal(t, 8, m.Rows())
		assert.Equal(t, 6, m.Cols())
		v := m.GetVecbAt(4, 4)
		assert.Equal(t, []uint8{10, 20, 30}, []uint8{v[0], v[1], v[2]})
		return nil
	})
	require.NoError(t, err)

	err = s.View(CellKey{Page: 9}, func(gocv.Mat) error {
		t.Fatal("callback must not run for a missing cell")
		return nil
	})
	assert.True(t, errors.Is(err, diag.ErrMissingCell))

	sentinel := errors.New("boom")
	assert.ErrorIs(t, s.View(key, func(gocv.Mat) error { return sentinel }), sentinel)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.View(key, func(gocv.Mat) error { return nil }), ErrClosed)
	assert.ErrorIs(t, s.Put(key, cell(0, 0, 0)), ErrClosed)
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestMemory_ReplaceAndLen(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	key := CellKey{Day: 1}
	require.NoError(t, m.Put(key, cell(1, 1, 1)))
	require.NoError(t, m.Put(key, cell(2, 2, 2)))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.View(key, func(c gocv.Mat) error {
		assert.Equal(t, uint8(2), c.GetUCharAt(0, 0))
		return nil
	}))
}

func TestDisk(t *testing.T) {
	d, err := NewDisk(t.TempDir(), "test")
	require.NoError(t, err)
	dir := d.Dir()
	assert.DirExists(t, dir)

	testStore(t, d)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "run directory must be removed on Close")
	assert.NoError(t, d.Close(), "Close is idempotent")
}

func TestDisk_CorruptCell(t *testing.T) {
	d, err := NewDisk(t.TempDir(), "corrupt")
	require.NoError(t, err)
	defer d.Close()

	key := CellKey{Page: 1}
	require.NoError(t, d.Put(key, cell(0, 0, 0)))
	require.NoError(t, os.WriteFile(d.path(key), []byte("garbage"), 0o644))

	err = d.View(key, func(gocv.Mat) error { return nil })
	assert.True(t, errors.Is(err, diag.ErrMissingCell))
}
