//go:build !portaudio

package capture

import "errors"

func newPortAudioDevice() (Device, error) {
	return nil, errors.New("portaudio support is disabled in this build (rebuild with -tags portaudio)")
}
