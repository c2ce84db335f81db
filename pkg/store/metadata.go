package store

import (
	"fmt"
	"time"
)

// HRTime is a high resolution instant split into whole seconds and the
// nanosecond remainder.
type HRTime struct {
	Sec  int64 `json:"sec" msgpack:"sec"`
	Nsec int64 `json:"nsec" msgpack:"nsec"`
}

func FromTime(t time.Time) HRTime {
	return HRTime{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func (t HRTime) Time() time.Time {
	return time.Unix(t.Sec, t.Nsec)
}

func (t HRTime) Millis() float64 {
	return float64(t.Sec)*1e3 + float64(t.Nsec)/1e6
}

func (t HRTime) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

// TrackMetadata is captured once, at the first packet of a participant
// stream.
type TrackMetadata struct {
	UserID string `json:"user_id"`
	SSRC   uint32 `json:"ssrc"`
	// Segment numbers the participant's streams within a session, so a
	// rejoin with the same SSRC still gets its own files.
	Segment           int    `json:"segment,omitempty"`
	StartTimestamp    uint32 `json:"start_timestamp"`
	StartTimeHR       HRTime `json:"start_time_hr"`
	SampleRate        int    `json:"sample_rate"`
	DecodedSampleRate int    `json:"decoded_sample_rate"`
	PCMFile           string `json:"pcm_file"`
}

func (m *TrackMetadata) StartMillis() float64 {
	return m.StartTimeHR.Millis()
}

// Name is the base name shared by the track's PCM file and sidecars.
func (m *TrackMetadata) Name() string {
	name := TrackName(m.UserID, m.SSRC)
	if m.Segment > 0 {
		name = fmt.Sprintf("%s.%d", name, m.Segment)
	}
	return name
}

func TrackName(userID string, ssrc uint32) string {
	return fmt.Sprintf("%s-%d", userID, ssrc)
}

// TrackStats is written once when a track worker stops.
type TrackStats struct {
	EndTimeHR      HRTime        `json:"end_time_hr"`
	Packets        int           `json:"packets"`
	DroppedPackets int           `json:"dropped_packets"`
	LatePackets    int           `json:"late_packets"`
	Frames         int           `json:"frames"`
	SilenceFrames  int           `json:"silence_frames"`
	DecodeFailures int           `json:"decode_failures"`
	BytesWritten   int64         `json:"bytes_written"`
	Jitter         time.Duration `json:"jitter_ns"`
	// MalformedPackets counts packets of the participant that failed to
	// parse while the track was live.
	MalformedPackets int `json:"malformed_packets"`
}

type Participant struct {
	ID          string `json:"id" msgpack:"id"`
	Username    string `json:"username" msgpack:"username"`
	DisplayName string `json:"display_name" msgpack:"display_name"`
}

type SessionMetadata struct {
	SessionID    string        `json:"session_id" msgpack:"session_id"`
	GuildID      string        `json:"guild_id" msgpack:"guild_id"`
	ChannelID    string        `json:"channel_id" msgpack:"channel_id"`
	ChannelName  string        `json:"channel_name" msgpack:"channel_name"`
	StartTime    time.Time     `json:"start_time" msgpack:"start_time"`
	Participants []Participant `json:"participants" msgpack:"participants"`
	Dir          string        `json:"-" msgpack:"dir"`
}
