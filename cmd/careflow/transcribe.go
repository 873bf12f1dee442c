package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newTranscribeCommand() *cobra.Command {
	var language string
	var withNote bool
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an encounter recording, optionally drafting a SOAP note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if a.transcriber == nil {
				return errors.New("transcription is disabled; set TRANSCRIBER=whisper or mock")
			}

			tr, err := a.transcriber.Transcribe(cmd.Context(), args[0], language)
			if err != nil {
				return err
			}
			out := map[string]any{"transcript": tr}
			if withNote {
				note, err := a.notes.Generate(cmd.Context(), tr.Text)
				if err != nil {
					return err
				}
				out["soap_note"] = note
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&language, "language", "en", "spoken language code")
	cmd.Flags().BoolVar(&withNote, "note", false, "also generate a SOAP note from the transcript")
	return cmd
}
