package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stream"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

const (
	maxUploadBytes  = 64 << 20
	maxChunkBytes   = 512 << 10
	streamWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler returns the HTTP API.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealthz)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /{$}", r.handleRoot)
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /model/info", r.handleModelInfo)
	mux.HandleFunc("GET /status", r.handleStatus)
	mux.HandleFunc("POST /transcribe", r.handleTranscribe)
	mux.HandleFunc("POST /transcribe/base64", r.handleTranscribeBase64)
	mux.HandleFunc("GET /stream", r.handleStream)
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}
	return mux
}

func (r *Runtime) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": r.cfg.RuntimeName + " speech-to-text",
		"version": Version,
		"mode":    r.provider.Status().Mode,
	})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := r.provider.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": st.ModelLoaded,
		"mode":         st.Mode,
		"model_name":   st.ModelName,
		"timestamp":    float64(time.Now().UnixNano()) / 1e9,
	})
}

func (r *Runtime) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	st := r.provider.Status()
	if st.Mode == engine.ModeMock || st.Info == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Model not loaded (running in mock mode)")
		return
	}
	writeJSON(w, http.StatusOK, st.Info)
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var uptime float64
	if !r.started.IsZero() {
		uptime = time.Since(r.started).Seconds()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application": map[string]any{
			"name":           r.cfg.RuntimeName,
			"version":        Version,
			"environment":    r.cfg.Environment,
			"uptime_seconds": uptime,
		},
		"model": r.provider.Status(),
		"configuration": map[string]any{
			"sample_rate":           engine.SampleRate,
			"language":              r.cfg.Engine.Language,
			"silence_threshold":     r.cfg.Processing.SilenceThreshold,
			"min_duration_seconds":  r.cfg.Processing.MinDurationSeconds,
			"max_duration_seconds":  r.cfg.Processing.MaxDurationSeconds,
			"stream_window_seconds": r.cfg.Streaming.WindowSeconds,
			"control_transport":     r.cfg.Control.Transport,
		},
	})
}

// handleTranscribe accepts a multipart upload in the audio_file field, or the
// audio as the raw request body.
func (r *Runtime) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	opts := r.service.DefaultOptions()

	var data []byte
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
			return
		}
		file, _, err := req.FormFile("audio_file")
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "missing audio_file")
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("read audio_file: %v", err))
			return
		}
	} else {
		var err error
		if data, err = io.ReadAll(req.Body); err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
			return
		}
	}

	if lang := req.FormValue("language"); lang != "" {
		opts.Language = lang
	}
	opts.Normalize = formBool(req, "normalize", opts.Normalize)
	opts.TrimSilence = formBool(req, "trim_silence", opts.TrimSilence)

	r.transcribe(req.Context(), w, data, opts)
}

type base64Request struct {
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language"`
}

func (r *Runtime) handleTranscribeBase64(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	var body base64Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	data, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid base64 audio: %v", err))
		return
	}
	opts := r.service.DefaultOptions()
	if body.Language != "" {
		opts.Language = body.Language
	}
	r.transcribe(req.Context(), w, data, opts)
}

func (r *Runtime) transcribe(ctx context.Context, w http.ResponseWriter, data []byte, opts transcribe.Options) {
	samples, rate, err := transcribe.Decode(data)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid audio: %v", err))
		return
	}
	res, err := r.service.TranscribeSamples(ctx, samples, rate, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if isClientError(err) {
			status = http.StatusBadRequest
		}
		r.logger.Warn("transcription request failed", slog.String("error", err.Error()))
		writeDetail(w, status, err.Error())
		return
	}
	transcript := res.Transcript()
	r.recordHTTP(ctx, transcript)
	writeJSON(w, http.StatusOK, transcript)
}

func (r *Runtime) recordHTTP(ctx context.Context, t protocol.Transcript) {
	if r.store == nil {
		return
	}
	id := uuid.NewString()
	if err := r.store.OpenSession(ctx, id, "http"); err != nil {
		r.logger.Warn("failed to record http session", slog.String("error", err.Error()))
		return
	}
	if err := r.store.RecordEvent(ctx, protocol.NewTranscription(t).WithSession(id)); err != nil {
		r.logger.Warn("failed to record http transcription", slog.String("error", err.Error()))
	}
}

// handleStream upgrades to a websocket. Binary messages carry float32 LE
// chunks at 16 kHz; every voiced window is answered with a partial event.
func (r *Runtime) handleStream(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxChunkBytes)

	ctx := req.Context()
	session := stream.NewSession(r.service, r.streamConfig(), r.metrics, r.logger)
	log := r.logger.With(slog.String("component", "stream"), slog.String("session_id", session.ID()))

	if r.store != nil {
		if err := r.store.OpenSession(ctx, session.ID(), "stream"); err != nil {
			log.Warn("failed to record stream session", slog.String("error", err.Error()))
		}
	}
	r.metrics.StreamOpened(ctx)
	defer r.metrics.StreamClosed(context.Background())
	log.Info("stream opened")

	for {
		kind, payload, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("stream read ended", slog.String("error", err.Error()))
			}
			log.Info("stream closed")
			return
		}
		if kind != websocket.BinaryMessage {
			if err := r.writeEvent(ws, protocol.NewError("expected binary float32 audio").WithSession(session.ID())); err != nil {
				return
			}
			continue
		}

		evt, err := session.Push(ctx, payload)
		if err != nil {
			failed := protocol.NewError(err.Error()).WithSession(session.ID())
			evt = &failed
		}
		if evt == nil {
			continue
		}
		if err := r.writeEvent(ws, *evt); err != nil {
			log.Warn("stream write failed", slog.String("error", err.Error()))
			return
		}
		if r.store != nil {
			if err := r.store.RecordEvent(ctx, *evt); err != nil {
				log.Warn("failed to record stream event", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) writeEvent(ws *websocket.Conn, evt protocol.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return ws.WriteJSON(evt)
}

func isClientError(err error) bool {
	return errors.Is(err, transcribe.ErrAudioTooShort) ||
		errors.Is(err, transcribe.ErrAudioTooLong) ||
		errors.Is(err, transcribe.ErrEmptyBuffer)
}

func formBool(req *http.Request, key string, fallback bool) bool {
	v := req.FormValue(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
