package app

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const syntheticFrameInterval = time.Second / 15

// newSyntheticTrack creates a VP8 sample track fed with placeholder
// frames at a steady rate, so the media path can be exercised without a
// capture device. The returned stop function ends the feeder.
func newSyntheticTrack() (*webrtc.TrackLocalStaticSample, func(), error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "fieldcast",
	)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(syntheticFrameInterval)
		defer ticker.Stop()

		// Minimal VP8 payload: enough for the packetizer, not a real
		// frame. Receivers that decode will show garbage, which is fine
		// for a placeholder source.
		payload := make([]byte, 64)
		for {
			select {
			case <-ticker.C:
				_ = track.WriteSample(media.Sample{
					Data:     payload,
					Duration: syntheticFrameInterval,
				})
			case <-done:
				return
			}
		}
	}()

	return track, func() { close(done) }, nil
}
