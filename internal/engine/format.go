package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// FormatDistance renders meters the way results are shown: whole kilometers
// above 2 km, raw meters otherwise.
func FormatDistance(meters float64) string {
	if meters > 2000 {
		return fmt.Sprintf("%dkm", int(math.Floor(meters/1000)))
	}
	return strconv.FormatFloat(meters, 'f', -1, 64) + "m"
}

// FormatDuration renders d as mm:ss, rounded to the nearest second.
func FormatDuration(d time.Duration) string {
	secs := int(math.Round(d.Seconds()))
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func FormatCoord(c Coord) string {
	return fmt.Sprintf("%.4f, %.4f", c.Lat, c.Lng)
}
