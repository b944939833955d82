package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/sse"
	"nc-assistant/internal/usecase"
)

type askOptions struct {
	text        string
	description string
	role        string
	historyFile string
	stream      bool
}

func newAskCmd(st *cliState) *cobra.Command {
	var o askOptions
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Run one question through the pipeline and print the answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := o.message()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, st.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			in := usecase.AskInput{Messages: []domain.InboundMessage{msg}}
			out := cmd.OutOrStdout()
			if o.stream {
				_, err = a.assistant.Stream(ctx, in, sse.NewEncoder(out))
				return err
			}
			answer, err := a.assistant.Ask(ctx, in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(answer)
		},
	}
	addAssistantFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&o.text, "text", "", "User message")
	f.StringVarP(&o.description, "description", "d", "", "Non-conformity description")
	f.StringVar(&o.role, "role", domain.DefaultWorkflowRole, "Workflow role tag (000, 100)")
	f.StringVar(&o.historyFile, "history", "", "JSON file holding the prior exchange")
	f.BoolVar(&o.stream, "stream", false, "Print the server-sent event stream instead of the final answer")
	return cmd
}

func (o askOptions) message() (domain.InboundMessage, error) {
	if o.text == "" && o.description == "" {
		return domain.InboundMessage{}, errors.New("one of --text or --description is required")
	}
	msg := domain.InboundMessage{Role: o.role}
	if o.text != "" {
		msg.Text = &o.text
	}
	if o.description != "" {
		msg.Description = &o.description
	}
	if o.historyFile != "" {
		raw, err := os.ReadFile(o.historyFile)
		if err != nil {
			return domain.InboundMessage{}, errors.Wrap(err, "read history")
		}
		if !json.Valid(raw) {
			return domain.InboundMessage{}, errors.Errorf("history file %s is not valid JSON", o.historyFile)
		}
		msg.History = raw
	}
	return msg, nil
}
