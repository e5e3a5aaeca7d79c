package delivery

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/livefmp4/internal/segmenter"
	"github.com/bluenviron/livefmp4/internal/store"
	"github.com/bluenviron/livefmp4/internal/test"
)

type testEnv struct {
	pres   *segmenter.Presentation
	store  *store.Store
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	st := &store.Store{
		Retention: 10,
		Parent:    test.NilLogger,
	}
	err := st.Initialize()
	require.NoError(t, err)

	p := &segmenter.Presentation{
		Sink:   st,
		Parent: test.NilLogger,
	}
	err = p.Initialize()
	require.NoError(t, err)

	s := &Server{
		Presentation: p,
		Store:        st,
		Parent:       test.NilLogger,
	}

	return &testEnv{
		pres:   p,
		store:  st,
		router: s.newRouter(),
	}
}

func (e *testEnv) feed(t *testing.T, count int) {
	videoID, err := e.pres.AddVideoTrack("video", test.CodecH264, 1280, 720)
	require.NoError(t, err)

	audioID, err := e.pres.AddAudioTrack("audio", test.CodecMPEG4Audio, 2, 16, 48000)
	require.NoError(t, err)

	for i := 0; i < count; i++ {
		var flags segmenter.SampleFlags
		if i%25 == 0 {
			flags = segmenter.SampleFlagKeyframe
		}

		err = e.pres.Input(videoID, &segmenter.Sample{
			Payload: []byte{1, 2, 3, 4},
			PTS:     time.Duration(i) * 40 * time.Millisecond,
			DTS:     time.Duration(i) * 40 * time.Millisecond,
			Flags:   flags,
		})
		require.NoError(t, err)

		for j := 0; j < 2; j++ {
			ts := time.Duration(i*2+j) * 20 * time.Millisecond
			err = e.pres.Input(audioID, &segmenter.Sample{
				Payload: []byte{5, 6},
				PTS:     ts,
				DTS:     ts,
			})
			require.NoError(t, err)
		}
	}
}

func (e *testEnv) get(t *testing.T, method string, path string) *http.Response {
	w := httptest.NewRecorder()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	e.router.ServeHTTP(w, req)
	return w.Result()
}

func readBody(t *testing.T, res *http.Response) string {
	byts, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(byts)
}

func TestServerManifests(t *testing.T) {
	e := newTestEnv(t)
	defer e.store.Close()

	res := e.get(t, http.MethodGet, "/manifest.mpd")
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = e.get(t, http.MethodGet, "/index.m3u8")
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	e.feed(t, 75)

	res = e.get(t, http.MethodGet, "/manifest.mpd")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/dash+xml", res.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", res.Header.Get("Cache-Control"))
	body := readBody(t, res)
	require.Contains(t, body, `type="dynamic"`)
	require.Contains(t, body, "avc1.42c028,mp4a.40.2")

	res = e.get(t, http.MethodGet, "/index.m3u8")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/vnd.apple.mpegurl", res.Header.Get("Content-Type"))
	body = readBody(t, res)
	require.Contains(t, body, "stream-0.m4s")
	require.Contains(t, body, "stream-1000.m4s")
	require.NotContains(t, body, "#EXT-X-ENDLIST")

	err := e.pres.Close()
	require.NoError(t, err)

	res = e.get(t, http.MethodGet, "/index.m3u8")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "max-age=3600", res.Header.Get("Cache-Control"))
	body = readBody(t, res)
	require.Contains(t, body, "stream-2000.m4s")
	require.Contains(t, body, "#EXT-X-ENDLIST")
}

func TestServerFiles(t *testing.T) {
	e := newTestEnv(t)
	defer e.store.Close()

	e.feed(t, 50)

	res := e.get(t, http.MethodGet, "/stream-init.mp4")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "video/mp4", res.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", res.Header.Get("Cache-Control"))
	combined, err := e.pres.CombinedInit()
	require.NoError(t, err)
	require.Equal(t, string(combined), readBody(t, res))

	res = e.get(t, http.MethodGet, "/video-init.mp4")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = e.get(t, http.MethodGet, "/stream-0.m4s")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "video/iso.segment", res.Header.Get("Content-Type"))
	f, err := e.store.Get("stream-0.m4s")
	require.NoError(t, err)
	require.Equal(t, string(f.Payload), readBody(t, res))

	res = e.get(t, http.MethodGet, "/stream-5000.m4s")
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = e.get(t, http.MethodGet, "/sub/stream-0.m4s")
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = e.get(t, http.MethodPost, "/stream-0.m4s")
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	err = e.pres.Close()
	require.NoError(t, err)

	res = e.get(t, http.MethodGet, "/stream-init.mp4")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "max-age=3600", res.Header.Get("Cache-Control"))
}

func TestServerTracks(t *testing.T) {
	e := newTestEnv(t)
	defer e.store.Close()

	e.feed(t, 50)

	res := e.get(t, http.MethodGet, "/tracks")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "application/json"))

	var pres apiPresentation
	err := json.NewDecoder(res.Body).Decode(&pres)
	require.NoError(t, err)

	require.Equal(t, "stream", pres.Name)
	require.Equal(t, "live", pres.Mode)
	require.Len(t, pres.Tracks, 2)
	require.Equal(t, "video", pres.Tracks[0].Prefix)
	require.Equal(t, "avc1.42c028", pres.Tracks[0].Codec)
	require.Equal(t, 1280, pres.Tracks[0].Width)
	require.Equal(t, "mp4a.40.2", pres.Tracks[1].Codec)
	require.Equal(t, 48000, pres.Tracks[1].SampleRate)
	require.Len(t, pres.Tracks[0].Fragments, 1)
	require.Equal(t, "stream-0.m4s", pres.Tracks[0].Fragments[0].Name)
	require.InDelta(t, 1.0, pres.Tracks[0].Fragments[0].Duration, 0.001)
}

func TestServerPreflight(t *testing.T) {
	e := newTestEnv(t)
	defer e.store.Close()

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodOptions, "/manifest.mpd", nil)
	require.NoError(t, err)
	req.Header.Set("Access-Control-Request-Method", "GET")
	e.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "OPTIONS, GET", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestServerOrigin(t *testing.T) {
	e := newTestEnv(t)
	defer e.store.Close()

	s := &Server{
		AllowOrigins: []string{"https://*.example.org"},
		Presentation: e.pres,
		Store:        e.store,
		Parent:       test.NilLogger,
	}
	router := s.newRouter()

	for _, ca := range []struct {
		name     string
		origin   string
		expected string
	}{
		{"allowed", "https://player.example.org", "https://player.example.org"},
		{"not allowed", "https://another.com", ""},
	} {
		t.Run(ca.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, err := http.NewRequest(http.MethodGet, "/tracks", nil)
			require.NoError(t, err)
			req.Header.Set("Origin", ca.origin)
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, ca.expected, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
