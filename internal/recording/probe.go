package recording

import (
	"context"
	"encoding/json"
	"fmt"
)

// probeStream is one stream entry of ffprobe's JSON output.
type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
}

// probe runs ffprobe over the file at path and parses its stream list.
func (r *Recorder) probe(ctx context.Context, path string) (probeResult, error) {
	out, err := r.runner.Run(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	if err != nil {
		return probeResult{}, fmt.Errorf("recording: probe: %w", err)
	}
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return probeResult{}, fmt.Errorf("recording: parse probe output: %w", err)
	}
	return res, nil
}

// probeInput inspects the uploaded video: whether it carries any audio
// stream and what its video codec is (for passthrough).
func (r *Recorder) probeInput(ctx context.Context, path string) (hasAudio bool, videoCodec string, err error) {
	res, err := r.probe(ctx, path)
	if err != nil {
		return false, "", err
	}
	for _, s := range res.Streams {
		switch s.CodecType {
		case "audio":
			hasAudio = true
		case "video":
			if videoCodec == "" {
				videoCodec = s.CodecName
			}
		}
	}
	return hasAudio, videoCodec, nil
}

// verify confirms the muxed output holds exactly one audio stream.
func (r *Recorder) verify(ctx context.Context, finalRef string) error {
	finalPath, err := r.store.Path(finalRef)
	if err != nil {
		return err
	}
	res, err := r.probe(ctx, finalPath)
	if err != nil {
		return err
	}
	audio := 0
	for _, s := range res.Streams {
		if s.CodecType == "audio" {
			audio++
		}
	}
	if audio != 1 {
		return fmt.Errorf("recording: muxed output has %d audio streams, want 1", audio)
	}
	return nil
}
