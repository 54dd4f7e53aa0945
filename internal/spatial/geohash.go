package spatial

import "strings"

// Base32 encoding for geohash
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// HotspotGeohashPrecision gives ~20 km cells, close to a 1° heatmap cell.
const HotspotGeohashPrecision = 4

// EncodeGeohash encodes latitude and longitude into a geohash string
// precision: number of characters in the geohash (1-12)
func EncodeGeohash(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}

	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}

	var sb strings.Builder
	sb.Grow(precision)

	even := true
	ch, bits := 0, 0
	for sb.Len() < precision {
		rng, v := &latRange, lat
		if even {
			rng, v = &lonRange, lon
		}
		mid := (rng[0] + rng[1]) / 2
		ch <<= 1
		if v > mid {
			ch |= 1
			rng[0] = mid
		} else {
			rng[1] = mid
		}
		even = !even

		if bits++; bits == 5 {
			sb.WriteByte(base32[ch])
			ch, bits = 0, 0
		}
	}
	return sb.String()
}
