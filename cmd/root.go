package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nc-assistant/internal/config"
	"nc-assistant/internal/logging"
)

// cliState is shared by the subcommands once the root pre-run has loaded the
// configuration.
type cliState struct {
	v   *viper.Viper
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	st := &cliState{}
	var configFile string

	root := &cobra.Command{
		Use:           "ncbot",
		Short:         "ncbot answers aircraft non-conformity questions with retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(configFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.Log); err != nil {
				return err
			}
			st.v, st.cfg = v, cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to config file (default ./ncbot.yaml, ~/.ncbot, /etc/ncbot)")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "json", "Log format (json, text, auto)")
	pf.String("log-file", "", "Also write logs to this rotated file")
	pf.Bool("with-caller", false, "Log caller")

	root.AddCommand(
		newServeCmd(st),
		newLambdaCmd(st),
		newAskCmd(st),
		newIndexCmd(st),
		newPromptsCmd(st),
	)
	return root
}

// flagKeys maps flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"with-caller":     "log.with-caller",
	"addr":            "server.addr",
	"provider":        "llm.default-provider",
	"retrieval":       "retrieval.backend",
	"sqlite-path":     "retrieval.sqlite-path",
	"prompts-dir":     "prompts.dir",
	"embedding-model": "retrieval.embedding-model",
	"weaviate-host":   "retrieval.weaviate.host",
	"retrieval-limit": "retrieval.limit",
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
