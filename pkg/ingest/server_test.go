package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/huandu/go-assert"

	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/rtpheader"
	"github.com/channel-io/go-voicesync/pkg/session"
	"github.com/channel-io/go-voicesync/pkg/store"
	"github.com/channel-io/go-voicesync/pkg/track"
)

type silentDecoder struct{}

func (silentDecoder) Decode([]byte) ([]byte, error) {
	return pcm.DefaultFormat.Silence(1), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(t.TempDir(), nil, session.Options{
		NewDecoder: func(pcm.Format) (track.Decoder, error) { return silentDecoder{}, nil },
	})
	srv := httptest.NewServer(NewServer(registry))
	t.Cleanup(srv.Close)
	return srv, registry
}

func startSession(t *testing.T, base string) startResponse {
	t.Helper()
	a := assert.New(t)
	resp, err := http.Post(base+"/sessions", "application/json",
		strings.NewReader(`{"channel_id":"c1","channel_name":"general"}`))
	a.NilError(err)
	defer resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusCreated)

	var out startResponse
	a.NilError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func rtpPacket(t *testing.T, seq uint16) []byte {
	t.Helper()
	buf, err := rtpheader.Header{
		Version:        2,
		PayloadType:    111,
		SequenceNumber: seq,
		Timestamp:      uint32(seq) * 960,
		SSRC:           99,
	}.Marshal()
	assert.Equal(t, err, nil)
	return append(buf, 0xfc)
}

func TestStreamRecordsTrack(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	srv, _ := newTestServer(t)
	started := startSession(t, srv.URL)
	a.NotEqual(started.SessionID, "")

	stream, err := Dial(ctx, srv.URL, started.SessionID, "alice")
	a.NilError(err)
	for seq := uint16(1); seq <= 4; seq++ {
		a.NilError(stream.Send(rtpPacket(t, seq)))
	}
	a.NilError(stream.Send([]byte{0x01}))
	a.NilError(stream.Close())

	dir, err := store.OpenDir(started.Dir)
	a.NilError(err)
	meta := &store.TrackMetadata{UserID: "alice", SSRC: 99}

	// closing the stream ends the track, which writes its stats
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := dir.ReadTrackStats(meta); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats, err := dir.ReadTrackStats(meta)
	a.NilError(err)
	a.Equal(stats.Packets, 4)
	a.Equal(stats.MalformedPackets, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+started.SessionID, nil)
	a.NilError(err)
	resp, err := http.DefaultClient.Do(req)
	a.NilError(err)
	defer resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusOK)
}

func TestStreamErrors(t *testing.T) {
	a := assert.New(t)
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/sessions/missing/stream?participant=a")
	a.NilError(err)
	resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusNotFound)

	started := startSession(t, srv.URL)
	resp, err = http.Get(srv.URL + "/sessions/" + started.SessionID + "/stream")
	a.NilError(err)
	resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusBadRequest)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/missing", nil)
	a.NilError(err)
	resp, err = http.DefaultClient.Do(req)
	a.NilError(err)
	resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusNotFound)

	_, err = Dial(context.Background(), srv.URL, "missing", "a")
	a.NonNilError(err)
}

func TestDuplicateSession(t *testing.T) {
	a := assert.New(t)
	srv, _ := newTestServer(t)

	body := `{"session_id":"fixed"}`
	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(body))
	a.NilError(err)
	resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusCreated)

	resp, err = http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(body))
	a.NilError(err)
	resp.Body.Close()
	a.Equal(resp.StatusCode, http.StatusConflict)
}
