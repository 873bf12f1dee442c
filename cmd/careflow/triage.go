package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antoniostano/careflow/internal/nurse"
)

func newTriageCommand() *cobra.Command {
	var req nurse.TriageRequest
	var history, meds string
	cmd := &cobra.Command{
		Use:   "triage [symptoms]",
		Short: "Run one ESI triage assessment and print it as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Symptoms = args[0]
			}
			if strings.TrimSpace(req.Symptoms) == "" {
				return errors.New("symptoms are required")
			}
			req.MedicalHistory = splitList(history)
			req.CurrentMedications = splitList(meds)

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.triage.Assess(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&req.Symptoms, "symptoms", "", "symptom description")
	cmd.Flags().StringVar(&req.PatientID, "patient", "", "patient id")
	cmd.Flags().IntVar(&req.Age, "age", 0, "patient age in years")
	cmd.Flags().StringVar(&req.Sex, "sex", "", "patient sex")
	cmd.Flags().StringVar(&history, "history", "", "comma-separated medical history")
	cmd.Flags().StringVar(&meds, "medications", "", "comma-separated current medications")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
