package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/storage"
)

const (
	noAudioVP9JSON = `{"streams": [{"codec_type": "video", "codec_name": "vp9"}]}`
	noAudioH264    = `{"streams": [{"codec_type": "video", "codec_name": "h264"}]}`
	withAudioJSON  = `{"streams": [{"codec_type": "video", "codec_name": "vp9"}, {"codec_type": "audio", "codec_name": "opus"}]}`
	goodFinalJSON  = `{"streams": [{"codec_type": "video", "codec_name": "h264"}, {"codec_type": "audio", "codec_name": "aac"}]}`
	twoAudioJSON   = `{"streams": [{"codec_type": "video", "codec_name": "h264"}, {"codec_type": "audio", "codec_name": "aac"}, {"codec_type": "audio", "codec_name": "aac"}]}`
)

// fakeRunner scripts ffmpeg/ffprobe. Probe output is keyed by the target
// file's basename; ffmpeg creates its output file unless scripted to fail.
type fakeRunner struct {
	probeJSON  map[string]string
	ffmpegErrs []error

	ffmpegCalls int
	ffmpegArgs  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	switch name {
	case "ffprobe":
		target := filepath.Base(args[len(args)-1])
		out, ok := f.probeJSON[target]
		if !ok {
			return nil, errors.New("ffprobe: no such file")
		}
		return []byte(out), nil
	case "ffmpeg":
		n := f.ffmpegCalls
		f.ffmpegCalls++
		f.ffmpegArgs = append(f.ffmpegArgs, args)
		if n < len(f.ffmpegErrs) && f.ffmpegErrs[n] != nil {
			return nil, f.ffmpegErrs[n]
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("mp4"), 0o644)
	default:
		return nil, errors.New("unexpected command " + name)
	}
}

func newTestRecorder(t *testing.T, runner *fakeRunner) (*Recorder, *storage.Store) {
	t.Helper()
	st, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return New(st, WithRunner(runner)), st
}

func hasArgPair(args []string, a, b string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == a && args[i+1] == b {
			return true
		}
	}
	return false
}

func TestFinalizeMuxesMicAndTTS(t *testing.T) {
	runner := &fakeRunner{probeJSON: map[string]string{
		"upload.webm": noAudioVP9JSON,
		"final.mp4":   goodFinalJSON,
	}}
	r, st := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm-part-1")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := r.AppendChunk(sid, []byte("webm-part-2")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := r.AppendMic(sid, []byte{1, 0, 2, 0, 3, 0, 4, 0}); err != nil {
		t.Fatalf("AppendMic: %v", err)
	}
	if err := r.AppendTTS(sid, []byte{5, 0, 6, 0}); err != nil {
		t.Fatalf("AppendTTS: %v", err)
	}

	art, err := r.Finalize(context.Background(), sid)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !art.HasAudio {
		t.Error("artifact has no audio")
	}
	if !strings.HasSuffix(art.Ref, "final.mp4") {
		t.Errorf("artifact ref = %q", art.Ref)
	}
	for _, name := range []string{"upload.webm", "mic.pcm", "tts.pcm", "audio.wav"} {
		if st.Exists("recordings/" + sid.String() + "/" + name) {
			t.Errorf("%s left behind after verified mux", name)
		}
	}

	args := runner.ffmpegArgs[0]
	if !hasArgPair(args, "-c:v", "libx264") {
		t.Errorf("non-h264 input not re-encoded: %v", args)
	}
	if !hasArgPair(args, "-b:a", "192k") || !hasArgPair(args, "-ac", "2") {
		t.Errorf("audio encode args: %v", args)
	}
}

func TestUploadAudioUsedAsIs(t *testing.T) {
	runner := &fakeRunner{probeJSON: map[string]string{
		"upload.webm": withAudioJSON,
	}}
	r, st := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	art, err := r.Finalize(context.Background(), sid)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !art.HasAudio {
		t.Error("artifact should carry the upload's own audio")
	}
	if !strings.HasSuffix(art.Ref, "upload.webm") {
		t.Errorf("artifact ref = %q", art.Ref)
	}
	if runner.ffmpegCalls != 0 {
		t.Errorf("ffmpeg ran %d times for an as-is upload", runner.ffmpegCalls)
	}
	if !st.Exists(art.Ref) {
		t.Error("retained artifact missing")
	}
}

func TestMicTrackForcesMuxDespiteUploadAudio(t *testing.T) {
	runner := &fakeRunner{probeJSON: map[string]string{
		"upload.webm": withAudioJSON,
		"final.mp4":   goodFinalJSON,
	}}
	r, _ := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := r.AppendMic(sid, []byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("AppendMic: %v", err)
	}

	art, err := r.Finalize(context.Background(), sid)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if runner.ffmpegCalls != 1 {
		t.Errorf("ffmpeg ran %d times, want 1", runner.ffmpegCalls)
	}
	if !strings.HasSuffix(art.Ref, "final.mp4") {
		t.Errorf("artifact ref = %q", art.Ref)
	}
}

func TestH264InputIsPassedThrough(t *testing.T) {
	runner := &fakeRunner{probeJSON: map[string]string{
		"upload.webm": noAudioH264,
		"final.mp4":   goodFinalJSON,
	}}
	r, _ := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := r.AppendMic(sid, []byte{1, 0}); err != nil {
		t.Fatalf("AppendMic: %v", err)
	}

	if _, err := r.Finalize(context.Background(), sid); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !hasArgPair(runner.ffmpegArgs[0], "-c:v", "copy") {
		t.Errorf("h264 input not passed through: %v", runner.ffmpegArgs[0])
	}
}

func TestMuxFailsTwiceKeepsOriginal(t *testing.T) {
	boom := errors.New("mux exploded")
	runner := &fakeRunner{
		probeJSON:  map[string]string{"upload.webm": noAudioVP9JSON},
		ffmpegErrs: []error{boom, boom},
	}
	r, st := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := r.AppendMic(sid, []byte{1, 0}); err != nil {
		t.Fatalf("AppendMic: %v", err)
	}

	art, err := r.Finalize(context.Background(), sid)
	if err != nil {
		t.Fatalf("Finalize should not fail terminally: %v", err)
	}
	if art.HasAudio {
		t.Error("upload without audio must record has_audio=false after failed mux")
	}
	if !strings.HasSuffix(art.Ref, "upload.webm") {
		t.Errorf("artifact ref = %q, want the original upload", art.Ref)
	}
	if !st.Exists(art.Ref) {
		t.Error("original upload missing after failed mux")
	}
	if runner.ffmpegCalls != 2 {
		t.Errorf("ffmpeg attempted %d times, want 2", runner.ffmpegCalls)
	}
}

func TestMuxFailureKeepsUploadAudioFlag(t *testing.T) {
	boom := errors.New("mux exploded")
	runner := &fakeRunner{
		probeJSON:  map[string]string{"upload.webm": withAudioJSON},
		ffmpegErrs: []error{boom, boom},
	}
	r, st := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	// A mic track forces the mux even though the upload carries audio.
	if err := r.AppendMic(sid, []byte{1, 0}); err != nil {
		t.Fatalf("AppendMic: %v", err)
	}

	art, err := r.Finalize(context.Background(), sid)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !art.HasAudio {
		t.Error("upload with its own audio must keep has_audio=true after failed mux")
	}
	if !strings.HasSuffix(art.Ref, "upload.webm") {
		t.Errorf("artifact ref = %q, want the original upload", art.Ref)
	}
	if !st.Exists(art.Ref) {
		t.Error("original upload missing after failed mux")
	}
}

func TestVerifyRejectsExtraAudioStreams(t *testing.T) {
	runner := &fakeRunner{probeJSON: map[string]string{
		"upload.webm": noAudioVP9JSON,
		"final.mp4":   twoAudioJSON,
	}}
	r, st := newTestRecorder(t, runner)
	sid := uuid.New()

	if err := r.AppendChunk(sid, []byte("webm")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := r.AppendMic(sid, []byte{1, 0}); err != nil {
		t.Fatalf("AppendMic: %v", err)
	}

	art, err := r.Finalize(context.Background(), sid)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if art.HasAudio || !strings.HasSuffix(art.Ref, "upload.webm") {
		t.Errorf("unverifiable mux should keep the original: %+v", art)
	}
	if !st.Exists(art.Ref) {
		t.Error("original upload missing")
	}
}

func TestFinalizeWithoutUploadErrors(t *testing.T) {
	r, _ := newTestRecorder(t, &fakeRunner{probeJSON: map[string]string{}})
	if _, err := r.Finalize(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected an error with no uploaded chunks")
	}
}
