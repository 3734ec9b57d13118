// Package recording assembles the session's media artifacts: chunked video
// uploads are appended as they arrive, microphone and TTS audio are
// collected as raw PCM, and on finalize everything is muxed into a single
// MP4 through ffmpeg. Finalization runs after the session ends and never
// blocks termination; its failures degrade to keeping the original upload.
package recording

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/pkg/pcm"
)

const (
	recordingDir = "recordings"

	uploadName = "upload.webm"
	micName    = "mic.pcm"
	ttsName    = "tts.pcm"
	mixName    = "audio.wav"
	finalName  = "final.mp4"

	// sampleRate of the mic and TTS PCM tracks.
	sampleRate = 16000

	// micGain and ttsGain set the mix balance: the candidate's voice stays
	// at full level, the interviewer's synthesized questions sit under it.
	micGain = 1.0
	ttsGain = 0.8

	// muxAttempts is how many times the mux may fail before the original
	// upload is kept as-is.
	muxAttempts = 2
)

// Artifact describes the final retained recording of a session.
type Artifact struct {
	SessionID uuid.UUID
	Ref       string
	HasAudio  bool
	CreatedAt time.Time
}

// Runner executes an external command and returns its combined output.
// The default implementation shells out; tests script it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w (%s)", name, err, truncate(out))
	}
	return out, nil
}

func truncate(b []byte) string {
	const max = 400
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return string(b)
}

// Recorder collects chunks and finalizes session recordings.
type Recorder struct {
	store  *storage.Store
	runner Runner
	clk    clock.Clock
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRunner replaces the external command runner.
func WithRunner(r Runner) Option {
	return func(rec *Recorder) { rec.runner = r }
}

// WithClock overrides the clock.
func WithClock(clk clock.Clock) Option {
	return func(rec *Recorder) { rec.clk = clk }
}

// New builds a Recorder writing under store.
func New(store *storage.Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, runner: execRunner{}, clk: clock.System{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AppendChunk appends one uploaded video chunk.
func (r *Recorder) AppendChunk(sessionID uuid.UUID, data []byte) error {
	if err := r.store.Append(r.ref(sessionID, uploadName), data); err != nil {
		return fmt.Errorf("recording: append chunk: %w", err)
	}
	return nil
}

// AppendMic appends raw microphone PCM16LE for the session.
func (r *Recorder) AppendMic(sessionID uuid.UUID, audio []byte) error {
	if err := r.store.Append(r.ref(sessionID, micName), audio); err != nil {
		return fmt.Errorf("recording: append mic: %w", err)
	}
	return nil
}

// AppendTTS appends raw synthesized-question PCM16LE for the session.
func (r *Recorder) AppendTTS(sessionID uuid.UUID, audio []byte) error {
	if err := r.store.Append(r.ref(sessionID, ttsName), audio); err != nil {
		return fmt.Errorf("recording: append tts: %w", err)
	}
	return nil
}

// HasUpload reports whether any video chunks arrived for the session.
func (r *Recorder) HasUpload(sessionID uuid.UUID) bool {
	return r.store.Exists(r.ref(sessionID, uploadName))
}

// Finalize turns the collected pieces into the retained artifact.
//
// When the upload already carries audio and no separate mic track exists,
// the upload is kept as-is. Otherwise the mic and TTS tracks are mixed and
// muxed into the upload; the result must probe to exactly one audio stream
// before the original and the intermediate tracks are deleted. Two mux
// failures keep the original, with HasAudio reporting whether the upload
// itself carried audio.
func (r *Recorder) Finalize(ctx context.Context, sessionID uuid.UUID) (Artifact, error) {
	uploadRef := r.ref(sessionID, uploadName)
	if !r.store.Exists(uploadRef) {
		return Artifact{}, fmt.Errorf("recording: no upload for session %s", sessionID)
	}
	uploadPath, err := r.store.Path(uploadRef)
	if err != nil {
		return Artifact{}, err
	}

	originalHadAudio, videoCodec, err := r.probeInput(ctx, uploadPath)
	if err != nil {
		slog.Warn("probe of upload failed, assuming no audio",
			"session_id", sessionID, "err", err)
	}

	hasMic := r.store.Exists(r.ref(sessionID, micName))
	hasTTS := r.store.Exists(r.ref(sessionID, ttsName))

	if originalHadAudio && !hasMic {
		slog.Info("upload audio used as-is", "session_id", sessionID)
		return Artifact{
			SessionID: sessionID,
			Ref:       uploadRef,
			HasAudio:  true,
			CreatedAt: r.clk.Now(),
		}, nil
	}

	mixRef, err := r.writeMix(sessionID, hasMic, hasTTS)
	if err != nil {
		return Artifact{}, err
	}

	finalRef := r.ref(sessionID, finalName)
	for attempt := 1; attempt <= muxAttempts; attempt++ {
		err := r.mux(ctx, uploadPath, mixRef, finalRef, videoCodec)
		if err == nil {
			err = r.verify(ctx, finalRef)
		}
		if err == nil {
			// Verified: only the merged file is retained, the upload and
			// the intermediate audio tracks go.
			for _, name := range []string{uploadName, micName, ttsName, mixName} {
				ref := r.ref(sessionID, name)
				if !r.store.Exists(ref) {
					continue
				}
				if rmErr := r.store.Remove(ref); rmErr != nil {
					slog.Warn("intermediate file not removed",
						"session_id", sessionID, "ref", ref, "err", rmErr)
				}
			}
			return Artifact{
				SessionID: sessionID,
				Ref:       finalRef,
				HasAudio:  true,
				CreatedAt: r.clk.Now(),
			}, nil
		}
		slog.Warn("mux attempt failed",
			"session_id", sessionID, "attempt", attempt, "err", err)
	}

	slog.Error("mux failed twice, keeping original upload",
		"session_id", sessionID, "has_audio", originalHadAudio)
	return Artifact{
		SessionID: sessionID,
		Ref:       uploadRef,
		HasAudio:  originalHadAudio,
		CreatedAt: r.clk.Now(),
	}, nil
}

// writeMix mixes the mic and TTS PCM tracks into one WAV file and returns
// its ref. With neither track present it writes a short silent bed so the
// mux still produces a valid audio stream.
func (r *Recorder) writeMix(sessionID uuid.UUID, hasMic, hasTTS bool) (string, error) {
	var mic, tts []byte
	var err error
	if hasMic {
		if mic, err = r.readAll(sessionID, micName); err != nil {
			return "", err
		}
	}
	if hasTTS {
		if tts, err = r.readAll(sessionID, ttsName); err != nil {
			return "", err
		}
	}

	var mixed []byte
	switch {
	case hasMic && hasTTS:
		mixed = pcm.MixGain(mic, micGain, tts, ttsGain)
	case hasMic:
		mixed = pcm.ApplyGain(mic, micGain)
	case hasTTS:
		mixed = pcm.ApplyGain(tts, ttsGain)
	default:
		mixed = pcm.Silence(1, sampleRate)
	}

	wav, err := pcm.EncodeWAV(mixed, sampleRate)
	if err != nil {
		return "", fmt.Errorf("recording: encode mix: %w", err)
	}
	ref := r.ref(sessionID, mixName)
	if _, err := r.store.Write(ref, wav); err != nil {
		return "", fmt.Errorf("recording: write mix: %w", err)
	}
	return ref, nil
}

// mux runs ffmpeg to merge the upload's video with the mixed audio. Video
// is passed through when it is already H.264, re-encoded otherwise; audio
// is AAC 192k stereo.
func (r *Recorder) mux(ctx context.Context, uploadPath, mixRef, finalRef, videoCodec string) error {
	mixPath, err := r.store.Path(mixRef)
	if err != nil {
		return err
	}
	finalPath, err := r.store.Path(finalRef)
	if err != nil {
		return err
	}

	videoArgs := []string{"-c:v", "libx264"}
	if videoCodec == "h264" {
		videoArgs = []string{"-c:v", "copy"}
	}

	args := []string{
		"-y",
		"-i", uploadPath,
		"-i", mixPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	args = append(args, videoArgs...)
	args = append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		"-ac", "2",
		finalPath,
	)
	if _, err := r.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("recording: mux: %w", err)
	}
	return nil
}

func (r *Recorder) readAll(sessionID uuid.UUID, name string) ([]byte, error) {
	f, err := r.store.Open(r.ref(sessionID, name))
	if err != nil {
		return nil, fmt.Errorf("recording: open %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("recording: read %s: %w", name, err)
	}
	return data, nil
}

func (r *Recorder) ref(sessionID uuid.UUID, name string) string {
	return path.Join(recordingDir, sessionID.String(), name)
}
