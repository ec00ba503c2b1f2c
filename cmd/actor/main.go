// cmd/actor is a Cobra binary exposing the three one-shot request
// processors of spec §4.5 as subcommands, mirroring original_source's
// actors/ package grouping (one module, three entry functions) the way
// the teacher's cmd/client groups multiple operations behind one binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/biblored/internal/actor"
	"github.com/cuemby/biblored/internal/config"
	"github.com/cuemby/biblored/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	var pretty bool

	root := &cobra.Command{
		Use:   "biblored-actor",
		Short: "Loan / Renew / Return request processors",
	}
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-readable console logging")

	root.AddCommand(loanCmd(&pretty), renewCmd(&pretty), returnCmd(&pretty))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// loanCmd runs the synchronous Loan actor (binds LOAN-REP).
func loanCmd(pretty *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "loan",
		Short: "Run the synchronous Loan actor (LOAN-REP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Pretty = *pretty
			}
			logging.Init(cfg.Pretty)
			log := logging.WithComponent("actor.loan")

			a := actor.NewLoanActor(cfg.LoanRepAddr, "/loan", "http://"+cfg.SMRepAddr, "/sm", log)
			go func() {
				if err := a.Run(); err != nil {
					log.Error().Err(err).Msg("loan actor exited")
				}
			}()
			log.Info().Str("addr", cfg.LoanRepAddr).Msg("loan actor started")

			waitForSignal()
			log.Info().Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return a.Shutdown(ctx)
		},
	}
}

// renewCmd runs the asynchronous Renew actor (subscribes RENOVACION).
func renewCmd(pretty *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Run the asynchronous Renew actor (RENOVACION topic)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Pretty = *pretty
			}
			logging.Init(cfg.Pretty)
			log := logging.WithComponent("actor.renew")

			a := actor.NewRenewActor(cfg.RedisAddr, cfg.TopicRenovacion, "http://"+cfg.SMRepAddr, "/sm", log)
			go a.Run()
			log.Info().Str("topic", cfg.TopicRenovacion).Msg("renew actor started")

			waitForSignal()
			log.Info().Msg("shutting down")
			a.Stop()
			return nil
		},
	}
}

// returnCmd runs the asynchronous Return actor (subscribes DEVOLUCION).
func returnCmd(pretty *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "return",
		Short: "Run the asynchronous Return actor (DEVOLUCION topic)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Pretty = *pretty
			}
			logging.Init(cfg.Pretty)
			log := logging.WithComponent("actor.return")

			a := actor.NewReturnActor(cfg.RedisAddr, cfg.TopicDevolucion, "http://"+cfg.SMRepAddr, "/sm", log)
			go a.Run()
			log.Info().Str("topic", cfg.TopicDevolucion).Msg("return actor started")

			waitForSignal()
			log.Info().Msg("shutting down")
			a.Stop()
			return nil
		},
	}
}
