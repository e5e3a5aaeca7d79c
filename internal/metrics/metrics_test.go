package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/livefmp4/internal/segmenter"
	"github.com/bluenviron/livefmp4/internal/test"
)

func scrape(t *testing.T, m *Metrics) string {
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)
	m.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	byts, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(byts)
}

func TestMetrics(t *testing.T) {
	m := &Metrics{
		Parent: test.NilLogger,
	}
	err := m.Initialize()
	require.NoError(t, err)
	defer m.Close()

	var deliveries []*segmenter.Delivery

	p := &segmenter.Presentation{
		Sink: m.WrapSink(segmenter.SinkFunc(func(d *segmenter.Delivery) error {
			deliveries = append(deliveries, d)
			return nil
		})),
		Parent: test.NilLogger,
	}
	err = p.Initialize()
	require.NoError(t, err)

	m.SetPresentation(p)

	id, err := p.AddVideoTrack("video", test.CodecH264, 1280, 720)
	require.NoError(t, err)

	for i := 0; i < 26; i++ {
		var flags segmenter.SampleFlags
		if i%25 == 0 {
			flags = segmenter.SampleFlagKeyframe
		}

		err = p.Input(id, &segmenter.Sample{
			Payload: make([]byte, 100),
			PTS:     time.Duration(i) * 40 * time.Millisecond,
			DTS:     time.Duration(i) * 40 * time.Millisecond,
			Flags:   flags,
		})
		require.NoError(t, err)
	}

	require.Len(t, deliveries, 2)

	err = p.Input(5, &segmenter.Sample{Payload: []byte{1}})
	require.ErrorIs(t, err, segmenter.ErrUnknownTrack)
	m.OnInputError(err)

	body := scrape(t, m)

	require.Contains(t, body, `livefmp4_deliveries_total{kind="init"} 1`)
	require.Contains(t, body, `livefmp4_deliveries_total{kind="media"} 1`)
	require.Contains(t, body, fmt.Sprintf(`livefmp4_delivered_bytes_total{kind="media"} %d`, len(deliveries[1].Payload)))
	require.Contains(t, body, `livefmp4_input_errors_total{reason="unknown_track"} 1`)
	require.Contains(t, body, `livefmp4_track_bitrate{prefix="video",track="1"} 20000`)
	require.Contains(t, body, `livefmp4_track_fragments{prefix="video",track="1"} 1`)
	require.Contains(t, body, "livefmp4_advertised_fragments 1")
	require.Contains(t, body, "livefmp4_published_seconds 1")
}

func TestMetricsDeliveryErrors(t *testing.T) {
	m := &Metrics{
		Parent: test.NilLogger,
	}
	err := m.Initialize()
	require.NoError(t, err)
	defer m.Close()

	sink := m.WrapSink(segmenter.SinkFunc(func(_ *segmenter.Delivery) error {
		return errors.New("disk full")
	}))

	err = sink.OnFragment(&segmenter.Delivery{Kind: segmenter.DeliveryMedia, Payload: []byte{1}})
	require.Error(t, err)

	m.OnInputError(&segmenter.DeliveryError{TrackID: 1, Name: "stream-0.m4s", Err: err})
	m.OnInputError(fmt.Errorf("track 1: %w", segmenter.ErrCapacityExceeded))
	m.OnInputError(fmt.Errorf("track 1: %w", segmenter.ErrKeyframeRequired))

	body := scrape(t, m)
	require.Contains(t, body, "livefmp4_delivery_errors_total 1")
	require.Contains(t, body, `livefmp4_input_errors_total{reason="delivery"} 1`)
	require.Contains(t, body, `livefmp4_input_errors_total{reason="capacity_exceeded"} 1`)
	require.Contains(t, body, `livefmp4_input_errors_total{reason="keyframe_required"} 1`)
	require.NotContains(t, body, "livefmp4_track_bitrate")
}

func TestMetricsServer(t *testing.T) {
	m := &Metrics{
		Address:      "localhost:9998",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Parent:       test.NilLogger,
	}
	err := m.Initialize()
	require.NoError(t, err)
	defer m.Close()

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	hc := &http.Client{Transport: tr}

	res, err := hc.Get("http://localhost:9998/metrics")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
}
