package ambient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// WhisperConfig configures the whisper.cpp CLI transcriber.
type WhisperConfig struct {
	CLIPath   string
	ModelPath string
	Threads   int
	BeamSize  int
}

// WhisperCLI drives the whisper.cpp command line tool with JSON output so
// segment timings survive.
type WhisperCLI struct {
	cliPath   string
	modelPath string
	threads   int
	beamSize  int
}

func NewWhisperCLI(cfg WhisperConfig) (*WhisperCLI, error) {
	cli := strings.TrimSpace(cfg.CLIPath)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}
	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath == "" {
		return nil, fmt.Errorf("WHISPER_MODEL_PATH is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper.cpp model not found: %s", modelPath)
	}

	if cfg.Threads < 0 {
		return nil, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	threads := cfg.Threads
	if threads == 0 {
		threads = min(max(runtime.NumCPU(), 2), 8)
	}
	beam := cfg.BeamSize
	if beam <= 0 {
		beam = 5
	}
	return &WhisperCLI{cliPath: cliPath, modelPath: modelPath, threads: threads, beamSize: beam}, nil
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	if err := checkAudio(audioPath); err != nil {
		return Transcript{}, err
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = "en"
	}

	tmpDir, err := os.MkdirTemp("", "careflow-whisper-*")
	if err != nil {
		return Transcript{}, err
	}
	defer os.RemoveAll(tmpDir)
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-l", language,
		"-oj",
		"-of", outPrefix,
		"-t", strconv.Itoa(w.threads),
		"-bs", strconv.Itoa(w.beamSize),
	}
	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcript{}, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		// whisper.cpp is chatty on stderr; keep the tail.
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return Transcript{}, fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	raw, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return Transcript{}, fmt.Errorf("read whisper output: %w", err)
	}
	tr, err := parseWhisperJSON(raw, language)
	if err != nil {
		return Transcript{}, err
	}
	if d := wavDuration(audioPath); d > 0 {
		tr.DurationSeconds = round2(d.Seconds())
	}
	return tr, nil
}

// parseWhisperJSON converts whisper.cpp -oj output. Duration falls back to
// the end of the last segment.
func parseWhisperJSON(raw []byte, language string) (Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transcript{}, fmt.Errorf("decode whisper output: %w", err)
	}
	tr := Transcript{Language: language, Segments: make([]Segment, 0, len(out.Transcription))}
	if out.Result.Language != "" {
		tr.Language = out.Result.Language
	}
	parts := make([]string, 0, len(out.Transcription))
	for _, s := range out.Transcription {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		tr.Segments = append(tr.Segments, Segment{
			Start: round2(float64(s.Offsets.From) / 1000),
			End:   round2(float64(s.Offsets.To) / 1000),
			Text:  text,
		})
	}
	tr.Text = strings.Join(parts, " ")
	if n := len(tr.Segments); n > 0 {
		tr.DurationSeconds = tr.Segments[n-1].End
	}
	return tr, nil
}
