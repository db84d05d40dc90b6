package grid

import "math"

// Origin grids address cells in web mercator pixels at a zoom level, where
// the world is 256 * 2^zoom pixels wide. These helpers convert a pixel
// coordinate back to geographic degrees for workers that route from lon/lat.

func worldWidthPixels(zoom int) float64 {
	return 256 * math.Exp2(float64(zoom))
}

// PixelToLon converts an absolute x pixel coordinate to longitude degrees
func PixelToLon(xPixel float64, zoom int) float64 {
	return xPixel/worldWidthPixels(zoom)*360 - 180
}

// PixelToLat converts an absolute y pixel coordinate to latitude degrees
func PixelToLat(yPixel float64, zoom int) float64 {
	tile := yPixel / worldWidthPixels(zoom)
	return math.Atan(math.Sinh(math.Pi*(1-2*tile))) * 180 / math.Pi
}

// LonToPixel converts longitude degrees to an absolute x pixel coordinate
func LonToPixel(lon float64, zoom int) float64 {
	return (lon + 180) / 360 * worldWidthPixels(zoom)
}

// LatToPixel converts latitude degrees to an absolute y pixel coordinate
func LatToPixel(lat float64, zoom int) float64 {
	latRad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * worldWidthPixels(zoom)
}
