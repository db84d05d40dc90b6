package grid

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "grid.raw")
	encodedPath := filepath.Join(dir, "grid.access")

	header := Header{Zoom: 9, West: 1000, North: 2000, Width: 3, Height: 2, NValues: 2}
	w, err := NewWriter(rawPath, header)
	require.NoError(t, err)

	expected := make([]int32, 0, 12)
	for origin := 0; origin < 6; origin++ {
		values := []int32{int32(origin * 10), int32(origin*10 + 5)}
		require.NoError(t, w.WriteOriginValues(origin, values))
		expected = append(expected, values...)
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	require.NoError(t, EncodeDeltas(rawPath, encodedPath))

	decoded, values, err := Decode(encodedPath)
	require.NoError(t, err)
	assert.Equal(t, header, decoded)
	assert.Equal(t, expected, values)
}

func TestGridOutOfOrderAndRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "grid.raw")

	header := Header{Width: 2, Height: 2, NValues: 1}
	w, err := NewWriter(rawPath, header)
	require.NoError(t, err)

	require.NoError(t, w.WriteOriginValues(3, []int32{30}))
	require.NoError(t, w.WriteOriginValues(0, []int32{0}))
	require.NoError(t, w.WriteOriginValues(3, []int32{30})) // replay, identical bytes
	require.NoError(t, w.WriteOriginValues(1, []int32{10}))
	require.NoError(t, w.WriteOriginValues(2, []int32{20}))
	require.NoError(t, w.Close())

	encodedPath := filepath.Join(dir, "grid.access")
	require.NoError(t, EncodeDeltas(rawPath, encodedPath))

	_, values, err := Decode(encodedPath)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 10, 20, 30}, values)
}

func TestGridDeltaResetsAtRowBoundary(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "grid.raw")

	// Values chosen so a delta register carried across rows would decode wrong
	header := Header{Width: 2, Height: 2, NValues: 1}
	w, err := NewWriter(rawPath, header)
	require.NoError(t, err)
	require.NoError(t, w.WriteOriginValues(0, []int32{1000}))
	require.NoError(t, w.WriteOriginValues(1, []int32{2000}))
	require.NoError(t, w.WriteOriginValues(2, []int32{5}))
	require.NoError(t, w.WriteOriginValues(3, []int32{10}))
	require.NoError(t, w.Close())

	encodedPath := filepath.Join(dir, "grid.access")
	require.NoError(t, EncodeDeltas(rawPath, encodedPath))

	_, values, err := Decode(encodedPath)
	require.NoError(t, err)
	assert.Equal(t, []int32{1000, 2000, 5, 10}, values)
}

func TestGridUnreachedSentinelSurvivesEncoding(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "grid.raw")

	header := Header{Width: 2, Height: 1, NValues: 1}
	w, err := NewWriter(rawPath, header)
	require.NoError(t, err)
	require.NoError(t, w.WriteOriginValues(0, []int32{math.MaxInt32}))
	require.NoError(t, w.WriteOriginValues(1, []int32{7}))
	require.NoError(t, w.Close())

	encodedPath := filepath.Join(dir, "grid.access")
	require.NoError(t, EncodeDeltas(rawPath, encodedPath))

	_, values, err := Decode(encodedPath)
	require.NoError(t, err)
	assert.Equal(t, []int32{math.MaxInt32, 7}, values)
}

func TestWriterRejectsBadShapes(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "grid.raw"), Header{Width: 2, Height: 2, NValues: 2})
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.WriteOriginValues(-1, []int32{1, 2}))
	assert.Error(t, w.WriteOriginValues(4, []int32{1, 2}))
	assert.Error(t, w.WriteOriginValues(0, []int32{1}))
}

func TestMercatorRoundTrip(t *testing.T) {
	zoom := 9
	lon, lat := 151.2093, -33.8688

	x := LonToPixel(lon, zoom)
	y := LatToPixel(lat, zoom)

	assert.InDelta(t, lon, PixelToLon(x, zoom), 1e-9)
	assert.InDelta(t, lat, PixelToLat(y, zoom), 1e-9)
}
