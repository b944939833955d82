package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nc-assistant/internal/prompt"
)

type templateView struct {
	Name        string            `yaml:"name"`
	Inputs      []string          `yaml:"inputs"`
	Temperature float64           `yaml:"temperature"`
	JSONMode    bool              `yaml:"json_mode"`
	ModelHint   *prompt.ModelHint `yaml:"model_hint,omitempty"`
	System      string            `yaml:"system"`
	User        string            `yaml:"user"`
}

func newPromptsCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect prompt templates",
	}
	cmd.PersistentFlags().String("prompts-dir", "", "Load prompt templates from this directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List template names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), st.cfg, false)
			if err != nil {
				return err
			}
			for _, name := range a.prompts.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), st.cfg, false)
			if err != nil {
				return err
			}
			t, err := a.prompts.Get(args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(templateView{
				Name:        t.Name,
				Inputs:      t.InputNames,
				Temperature: t.Temperature,
				JSONMode:    t.JSONMode,
				ModelHint:   t.ModelHint,
				System:      t.SystemText,
				User:        t.UserText,
			})
		},
	})
	return cmd
}
