package ambient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/antoniostano/careflow/internal/audio"
)

// ErrAudioNotFound is returned when the referenced audio file is absent.
var ErrAudioNotFound = errors.New("audio file not found")

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text            string    `json:"transcript"`
	Language        string    `json:"language"`
	DurationSeconds float64   `json:"duration_seconds"`
	Segments        []Segment `json:"segments"`
}

// Transcriber turns an audio file into text with timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (Transcript, error)
}

func checkAudio(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrAudioNotFound, path)
		}
		return fmt.Errorf("stat audio: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrAudioNotFound, path)
	}
	return nil
}

// wavDuration returns the length of a WAV file, or 0 for other containers.
func wavDuration(path string) time.Duration {
	info, err := audio.InspectWAVFile(path)
	if err != nil {
		return 0
	}
	return info.Duration()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Mock returns a fixed transcript; it stands in for whisper.cpp in local
// development and tests.
type Mock struct {
	Text string
}

func (m Mock) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if err := checkAudio(audioPath); err != nil {
		return Transcript{}, err
	}
	if language == "" {
		language = "en"
	}
	text := m.Text
	if text == "" {
		text = "Doctor: How are you feeling today? Patient: I've had a cough for three days."
	}
	dur := round2(wavDuration(audioPath).Seconds())
	return Transcript{
		Text:            text,
		Language:        language,
		DurationSeconds: dur,
		Segments:        []Segment{{Start: 0, End: dur, Text: text}},
	}, nil
}
