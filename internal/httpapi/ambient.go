package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/antoniostano/careflow/internal/ambient"
)

type notesRequest struct {
	Transcript string `json:"transcript"`
}

type codesRequest struct {
	NoteText      string `json:"note_text"`
	EncounterType string `json:"encounter_type,omitempty"`
}

// handleTranscribe accepts a multipart upload in field "audio" and an
// optional "language" field.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.opts.Transcriber == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "transcription not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxAudioBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large", "audio upload exceeds the size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with an audio file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio file is required")
		return
	}
	defer file.Close()
	if header.Size > s.opts.MaxAudioBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large", "audio upload exceeds the size limit")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".wav"
	}
	tmp, err := os.CreateTemp("", "careflow-upload-*"+ext)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	language := strings.TrimSpace(r.FormValue("language"))
	tr, err := s.opts.Transcriber.Transcribe(r.Context(), tmp.Name(), language)
	if err != nil {
		if errors.Is(err, ambient.ErrAudioNotFound) || errors.Is(err, ambient.ErrInvalidInput) {
			s.fail(w, r, err)
			return
		}
		s.log.Error().Err(err).Str("file", header.Filename).Msg("transcription failed")
		respondError(w, http.StatusBadGateway, "transcription_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tr)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	note, err := s.opts.Notes.Generate(r.Context(), req.Transcript)
	if err != nil {
		s.failModel(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleCodes(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	out, err := s.opts.Codes.Suggest(r.Context(), req.NoteText, req.EncounterType)
	if err != nil {
		s.failModel(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// failModel reports any non-validation error from a documentation model call
// as a bad gateway.
func (s *Server) failModel(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ambient.ErrInvalidInput) {
		s.fail(w, r, err)
		return
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("documentation model failed")
	respondError(w, http.StatusBadGateway, "model_unavailable", "the language model is unavailable, please retry")
}
