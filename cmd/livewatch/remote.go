package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/client"
)

// remoteCmds talk to a running server.
func remoteCmds() []*cobra.Command {
	return []*cobra.Command{watchCmd(), broadcastCmd(), snapshotCmd(), clearCmd(), pauseCmd(), resumeCmd(), statusCmd()}
}

func newClient() (*client.Client, error) {
	if token == "" {
		return nil, errors.New("a token is required (use --token or LIVESYNC_TOKEN; see 'livewatch token')")
	}
	return client.New(serverURL, token), nil
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch MATCH_ID...",
		Short: "Stream updates for matches from a server over WebSocket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.ConnectWS(ctx); err != nil {
				return err
			}
			defer c.CloseWS()
			for _, id := range args {
				if err := c.Subscribe(id); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-c.Events():
					if !ok {
						return errors.New("connection closed by server")
					}
					switch ev.Type {
					case "match_update":
						u, err := ev.Update()
						if err != nil {
							log.Warn().Err(err).Msg("Undecodable update")
							continue
						}
						printUpdate(out, ev.MatchID, u)
					case "error":
						log.Warn().Str("matchId", ev.MatchID).RawJSON("data", ev.Data).Msg("Server error")
					}
				}
			}
		},
	}
}

func broadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast MATCH_ID FILE|-",
		Short: "Push a match document to every consumer without waiting for a poll",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			doc, err := readDocument(args[1])
			if err != nil {
				return err
			}
			u, err := c.Broadcast(cmd.Context(), args[0], doc)
			if err != nil {
				return err
			}
			return printUpdate(cmd.OutOrStdout(), args[0], u)
		},
	}
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot MATCH_ID",
		Short: "Print the stored state of a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			u, err := c.Snapshot(cmd.Context(), args[0])
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("no live state for %s", args[0])
			}
			if err != nil {
				return err
			}
			return printUpdate(cmd.OutOrStdout(), args[0], u)
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear MATCH_ID",
		Short: "Remove the stored state of a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Clear(cmd.Context(), args[0])
		},
	}
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Suspend polling on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Pause(cmd.Context())
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume polling on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Resume(cmd.Context())
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the server's sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case auth.RoleViewer, auth.RoleScorer, auth.RoleService:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := auth.NewJWTManager(cfg.JWTSecret).GenerateToken(user, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "livewatch", "subject of the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "viewer, scorer or service")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
