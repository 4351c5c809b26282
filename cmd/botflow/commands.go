package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/botflow/internal/diagram"
	"github.com/rendis/botflow/internal/loader"
	"github.com/rendis/botflow/internal/runner"
	"github.com/rendis/botflow/internal/secrets"
	"github.com/rendis/botflow/internal/store"
	"github.com/rendis/botflow/pkg/schema"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bot-file>",
		Short: "Validate and compile a bot document without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loader.LoadFile(args[0])
			if err != nil {
				if ferr, ok := err.(*schema.FlowError); ok {
					if violations, has := ferr.Details["violations"]; has {
						if list, ok := violations.([]string); ok {
							for _, v := range list {
								fmt.Fprintln(cmd.ErrOrStderr(), " -", v)
							}
						}
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", def.Name())
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	var persist bool
	var vaultPath string

	cmd := &cobra.Command{
		Use:   "chat <bot-file>",
		Short: "Run a bot interactively on the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			logger := newLogger(cfg)

			def, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}

			st, err := openStore(cfg, persist)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			opts := []runner.Option{}
			if vaultPath != "" {
				creds, err := loadCredentials(vaultPath)
				if err != nil {
					return err
				}
				opts = append(opts, runner.WithCredentials(creds))
			}

			r := runner.New(st, logger, opts...)
			if err := r.RegisterBot(def); err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := r.StartSession(ctx, def.Name(), "terminal")
			if err != nil {
				return err
			}

			res, err := r.Process(ctx, id, runner.Event{})
			if err != nil {
				return err
			}
			printMessages(cmd, res)
			if res.Completed {
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())

				res, err = r.Process(ctx, id, runner.Event{Input: &input})
				if err != nil {
					return err
				}
				printMessages(cmd, res)
				if res.Completed {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "keep the session in the configured database")
	cmd.Flags().StringVar(&vaultPath, "vault", "", "encrypted credentials file for the understanding service")
	return cmd
}

// loadCredentials opens the encrypted vault with the passphrase and salt
// from the environment.
func loadCredentials(path string) (map[string]string, error) {
	v, err := secrets.NewFileVault(path, secrets.VaultConfig{
		Passphrase: os.Getenv("BOTFLOW_VAULT_PASSPHRASE"),
		Salt:       []byte(os.Getenv("BOTFLOW_VAULT_SALT")),
	})
	if err != nil {
		return nil, err
	}
	return v.Load()
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <bot-file>",
		Short: "Render a bot's state graph as a Mermaid diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), diagram.Mermaid(def))
			return nil
		},
	}
}

func newSessionsCmd() *cobra.Command {
	var bot string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			st, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			sessions, err := st.ListSessions(cmd.Context(), store.SessionFilter{
				BotName: bot,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s  %-12s  %s\n",
					sess.ID, sess.Status, sess.BotName, sess.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bot, "bot", "", "filter by bot name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions to list")
	return cmd
}

// openStore picks the backing store: libSQL when the session should outlive
// the process, in-memory otherwise.
func openStore(cfg Config, persist bool) (store.Store, error) {
	if !persist {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(botflowDir(), 0o755); err != nil {
		return nil, err
	}
	return store.NewLibSQLStore(cfg.DBPath)
}

func printMessages(cmd *cobra.Command, res *runner.TurnResult) {
	for _, msg := range res.Messages {
		fmt.Fprintln(cmd.OutOrStdout(), msg.Body)
		for _, opt := range msg.Options {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s. %s\n", opt.ID, opt.Title)
		}
	}
	if res.Completed && len(res.Outputs) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "-- done: %v\n", res.Outputs)
	}
}
