// Package timeline aligns recorded tracks on a common origin and plans the
// mix that renders them into one file.
package timeline

import (
	"errors"
	"math"

	"github.com/samber/lo"

	"github.com/channel-io/go-voicesync/pkg/store"
)

var ErrNoTracksFound = errors.New("timeline: no tracks found")

// GlobalStartTime is the earliest track start in milliseconds, or 0 when
// there are no tracks.
func GlobalStartTime(tracks []*store.TrackMetadata) float64 {
	if len(tracks) == 0 {
		return 0
	}
	return lo.Min(lo.Map(tracks, func(t *store.TrackMetadata, _ int) float64 {
		return t.StartMillis()
	}))
}

// TrackDelay is the track's offset from the global start in whole
// milliseconds. It is never negative.
func TrackDelay(track *store.TrackMetadata, globalStart float64) int64 {
	return lo.Max([]int64{int64(math.Round(track.StartMillis() - globalStart)), 0})
}

// Delays computes every track's delay against the earliest start.
func Delays(tracks []*store.TrackMetadata) []int64 {
	global := GlobalStartTime(tracks)
	return lo.Map(tracks, func(t *store.TrackMetadata, _ int) int64 {
		return TrackDelay(t, global)
	})
}
