package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"nc-assistant/handler"
)

func newLambdaCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function URL handler with response streaming",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, st.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.newHandler(ctx)
			if err != nil {
				return err
			}
			adapter, err := handler.NewLambdaAdapter(h)
			if err != nil {
				return err
			}
			lambda.Start(adapter.Handle)
			return nil
		},
	}
}
