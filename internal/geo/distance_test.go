package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_IdenticalPoints(t *testing.T) {
	assert.Equal(t, 0.0, Distance(40.7128, -74.0060, 40.7128, -74.0060))
	assert.Equal(t, 0.0, Distance(0, 0, 0, 0))
}

func TestDistance_OneDegreeLongitudeAtEquator(t *testing.T) {
	// One degree of arc on a 6371 km sphere: 6371 * pi / 180.
	assert.InDelta(t, 111.19492664455873, Distance(0, 0, 0, 1), 1e-9)
}

func TestDistance_NewYorkToLondon(t *testing.T) {
	d := Distance(40.7128, -74.0060, 51.5074, -0.1278)
	assert.InDelta(t, 5570.0, d, 5.0)
}

func TestDistance_Symmetric(t *testing.T) {
	a := Distance(35.6762, 139.6503, -33.8688, 151.2093)
	b := Distance(-33.8688, 151.2093, 35.6762, 139.6503)
	assert.InDelta(t, a, b, 1e-9)
}

func TestMaxMindResolver_MissingFile(t *testing.T) {
	_, err := OpenMaxMind("/nonexistent/GeoLite2-City.mmdb")
	assert.Error(t, err)
}

func TestDistance_NearAntipodalIsFinite(t *testing.T) {
	halfCircumference := EarthRadiusKm * math.Pi

	for lat := -89.5; lat <= 89.5; lat += 0.5 {
		for lon := -179.5; lon <= 0; lon += 0.5 {
			d := Distance(lat, lon, -lat, lon+180)
			if math.IsNaN(d) || d > halfCircumference+1e-6 {
				t.Fatalf("Distance(%v, %v, %v, %v) = %v", lat, lon, -lat, lon+180, d)
			}
		}
	}

	assert.InDelta(t, halfCircumference, Distance(-88.5, -179.3, 88.5, 0.7), 1.0)
}
