package store

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/huandu/go-assert"
)

func TestHRTime(t *testing.T) {
	a := assert.New(t)
	now := time.Unix(1700000000, 250_000_000)
	hr := FromTime(now)

	a.Equal(hr.Sec, int64(1700000000))
	a.Equal(hr.Nsec, int64(250_000_000))
	a.Assert(hr.Time().Equal(now))
	a.Assert(math.Abs(hr.Millis()-1700000000250.0) < 0.001)
}

func TestTrackName(t *testing.T) {
	a := assert.New(t)
	meta := &TrackMetadata{UserID: "alice", SSRC: 11}
	a.Equal(meta.Name(), "alice-11")

	meta.Segment = 2
	a.Equal(meta.Name(), "alice-11.2")
	a.Equal(PCMFileName(meta.Name()), "alice-11.2.pcm")
	a.Equal(CorrectedFileName(PCMFileName(meta.Name())), "alice-11.2.corrected.pcm")
}

func TestTrackSidecars(t *testing.T) {
	a := assert.New(t)
	d, err := OpenDir(t.TempDir())
	a.NilError(err)

	late := &TrackMetadata{
		UserID:            "bob",
		SSRC:              22,
		StartTimeHR:       HRTime{Sec: 100, Nsec: 500_000_000},
		SampleRate:        48000,
		DecodedSampleRate: 48000,
		PCMFile:           PCMFileName(TrackName("bob", 22)),
	}
	early := &TrackMetadata{
		UserID:      "alice",
		SSRC:        11,
		StartTimeHR: HRTime{Sec: 100},
		SampleRate:  48000,
		PCMFile:     PCMFileName(TrackName("alice", 11)),
	}
	rejoin := &TrackMetadata{
		UserID:      "alice",
		SSRC:        11,
		Segment:     1,
		StartTimeHR: HRTime{Sec: 200},
		SampleRate:  48000,
	}
	rejoin.PCMFile = PCMFileName(rejoin.Name())

	a.NilError(d.WriteTrackMetadata(late))
	a.NilError(d.WriteTrackMetadata(rejoin))
	a.NilError(d.WriteTrackMetadata(early))
	a.NilError(d.WriteTrackStats(late, &TrackStats{Frames: 10, MalformedPackets: 2}))
	a.NilError(d.WriteTrackStats(rejoin, &TrackStats{Frames: 3}))
	a.NilError(d.WriteSession(&SessionMetadata{SessionID: "s1"}))

	tracks, err := d.ReadTracks()
	a.NilError(err)
	a.Equal(len(tracks), 3)
	a.Equal(tracks[0], early)
	a.Equal(tracks[1], late)
	a.Equal(tracks[2], rejoin)

	stats, err := d.ReadTrackStats(late)
	a.NilError(err)
	a.Equal(stats.Frames, 10)
	a.Equal(stats.MalformedPackets, 2)

	stats, err = d.ReadTrackStats(rejoin)
	a.NilError(err)
	a.Equal(stats.Frames, 3)

	_, err = d.ReadTrackStats(early)
	a.Assert(errors.Is(err, ErrNotFound))
}

func TestPCMAppend(t *testing.T) {
	a := assert.New(t)
	d, err := OpenDir(t.TempDir())
	a.NilError(err)

	for i := 0; i < 2; i++ {
		w, err := d.CreatePCM("a.pcm")
		a.NilError(err)
		_, err = w.Write([]byte{1, 2, 3, 4})
		a.NilError(err)
		a.NilError(w.Close())
	}

	size, err := d.PCMSize("a.pcm")
	a.NilError(err)
	a.Equal(size, int64(8))

	r, err := d.OpenPCM("a.pcm")
	a.NilError(err)
	defer r.Close()
	data, err := io.ReadAll(r)
	a.NilError(err)
	a.Equal(data, []byte{1, 2, 3, 4, 1, 2, 3, 4})

	_, err = d.PCMSize("missing.pcm")
	a.Assert(errors.Is(err, ErrNotFound))
}

func TestRemove(t *testing.T) {
	a := assert.New(t)
	d, err := OpenDir(t.TempDir())
	a.NilError(err)

	w, err := d.Create("a.corrected.pcm")
	a.NilError(err)
	a.NilError(w.Close())

	a.NilError(d.Remove("a.corrected.pcm"))
	_, err = d.PCMSize("a.corrected.pcm")
	a.Assert(errors.Is(err, ErrNotFound))

	a.NilError(d.Remove("a.corrected.pcm"))
}

func TestSessionRoundTrip(t *testing.T) {
	a := assert.New(t)
	d, err := OpenDir(t.TempDir())
	a.NilError(err)

	meta := &SessionMetadata{
		SessionID:   "s1",
		GuildID:     "g",
		ChannelID:   "c",
		ChannelName: "general",
		StartTime:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Participants: []Participant{
			{ID: "1", Username: "alice", DisplayName: "Alice"},
		},
	}
	a.NilError(d.WriteSession(meta))

	got, err := d.ReadSession()
	a.NilError(err)
	a.Equal(got.Dir, d.Root())
	a.Equal(got.Participants, meta.Participants)
	a.Assert(meta.StartTime.Equal(got.StartTime))
}

func TestIndex(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	idx, err := OpenIndex(IndexOptions{InMemory: true})
	a.NilError(err)
	defer idx.Close()

	older := &SessionMetadata{SessionID: "a", StartTime: time.Unix(100, 0).UTC(), Dir: "/tmp/a"}
	newer := &SessionMetadata{SessionID: "b", StartTime: time.Unix(200, 0).UTC(), Dir: "/tmp/b"}
	a.NilError(idx.Put(ctx, older))
	a.NilError(idx.Put(ctx, newer))

	got, err := idx.Get(ctx, "a")
	a.NilError(err)
	a.Equal(got.Dir, "/tmp/a")

	list, err := idx.List(ctx)
	a.NilError(err)
	a.Equal(len(list), 2)
	a.Equal(list[0].SessionID, "b")

	a.NilError(idx.Delete(ctx, "a"))
	_, err = idx.Get(ctx, "a")
	a.Assert(errors.Is(err, ErrNotFound))
}

func TestIndexRequiresDir(t *testing.T) {
	a := assert.New(t)
	_, err := OpenIndex(IndexOptions{})
	a.NonNilError(err)
}
