//go:build !whisper

package engine

import "errors"

func newNativeBackend(BackendConfig) (Backend, error) {
	return nil, errors.New("whisper.cpp support is disabled in this build (rebuild with -tags whisper)")
}
