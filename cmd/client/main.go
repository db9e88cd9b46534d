package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"redlight/internal/client"
	"redlight/internal/config"
	"redlight/internal/domain"
)

const usage = "commands: move, stop, ack, concede, state, quit"

type options struct {
	server   string
	name     string
	avatar   int
	computer bool
	manual   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "redlight-client",
		Short:         "Joins a Red Light, Green Light host as a player.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts, os.Stdin)
		},
	}

	fs := cmd.Flags()
	config.RegisterClientFlags(fs)
	fs.StringVar(&opts.server, "server", "localhost:5050", "game host to join")
	fs.StringVar(&opts.name, "name", "", "player name")
	fs.IntVar(&opts.avatar, "avatar", 0, "avatar index")
	fs.BoolVar(&opts.computer, "computer", false, "let the computer play")
	fs.BoolVar(&opts.manual, "manual-ack", false, "answer the doll yourself with ack or concede")
	_ = cmd.MarkFlagRequired("name")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

func run(ctx context.Context, cfg *config.Config, opts options, in io.Reader) error {
	logger := config.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientOpts := []client.Option{client.WithListener(printer(logger))}
	if opts.manual {
		clientOpts = append(clientOpts, client.WithManualAck())
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.Dial(dialCtx, opts.server, cfg.Game, cfg.Server.WriteTimeout, logger, clientOpts...)
	if err != nil {
		return fmt.Errorf("join %s: %w", opts.server, err)
	}
	defer c.Close()

	logger.Info("connected", "server", opts.server, "id", c.ID())
	if err := c.RegisterPlayer(opts.name, opts.avatar, opts.computer); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	if !opts.computer {
		fmt.Fprintln(os.Stderr, usage)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// keep playing until the round ends, computer players need no input
				lines = nil
				continue
			}
			if line == "quit" {
				return nil
			}
			if err := command(c, line); err != nil {
				logger.Warn("command failed", "command", line, "error", err)
			}
		}
	}
}

func command(c *client.Client, line string) error {
	switch line {
	case "":
		return nil
	case "move":
		return c.SetMoving(true)
	case "stop":
		return c.SetMoving(false)
	case "ack":
		return c.AcknowledgeDollTurn(false)
	case "concede":
		return c.AcknowledgeDollTurn(true)
	case "state":
		state := c.State()
		for _, p := range state.Players {
			fmt.Printf("%-20s %6.1f %s\n", p.Name, p.Position, p.State)
		}
		fmt.Printf("phase %s\n", state.Phase)
		return nil
	default:
		fmt.Fprintln(os.Stderr, usage)
		return nil
	}
}

func printer(logger *slog.Logger) domain.Listener {
	return domain.Callbacks{
		OnPlayerRegistered: func(p domain.Player) {
			logger.Info("player joined", "id", p.ID, "name", p.Name)
		},
		OnPlayerLeft: func(id int) {
			logger.Info("player left", "id", id)
		},
		OnPlayerMoved: func(id int, position float64) {
			logger.Debug("player moved", "id", id, "position", position)
		},
		OnPlayerEliminated: func(id int) {
			logger.Info("player eliminated", "id", id)
		},
		OnPhaseChanged: func(phase domain.Phase) {
			logger.Info("phase changed", "phase", phase)
		},
		OnRoundFinished: func(winners, losers []string) {
			logger.Info("round finished", "winners", winners, "losers", losers)
		},
		OnTransportError: func(reason string) {
			logger.Warn("connection problem", "reason", reason)
		},
	}
}
