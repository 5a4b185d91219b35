package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mrvl/livesync/internal/app"
	"github.com/mrvl/livesync/internal/config"
	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository/postgres"
)

func tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail MATCH_ID...",
		Short: "Run an embedded sync and print every update for the given matches",
		Long: `Run a sync in this process against the configured store and snapshot
source, printing each update as a JSON line until interrupted.

The process joins the other consumers sharing the store: it polls the
source for its matches and picks up writes made elsewhere.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			out := cmd.OutOrStdout()
			for _, arg := range args {
				id := arg
				deps.Sync.Subscribe(model.ResourceID(id), func(u model.StampedUpdate) {
					if err := printUpdate(out, id, u); err != nil {
						log.Error().Err(err).Str("matchId", id).Msg("Failed to print update")
					}
				})
				if u := deps.Sync.Snapshot(ctx, model.ResourceID(id)); u != nil {
					printUpdate(out, id, *u)
				}
			}
			log.Info().Strs("matches", args).Str("instance", deps.Sync.Instance()).Msg("Tailing")

			<-ctx.Done()
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "seed MATCH_ID [FILE|-]",
		Short: "Write a match document into the Postgres snapshot source",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := postgres.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := postgres.NewMatchRepo(db)
			id := model.ResourceID(args[0])

			if remove {
				return repo.Delete(ctx, id)
			}
			if len(args) < 2 {
				return fmt.Errorf("a document file is required unless --delete is set")
			}
			doc, err := readDocument(args[1])
			if err != nil {
				return err
			}
			snap, err := model.DecodeSnapshot(doc)
			if err != nil {
				return err
			}
			if err := repo.Upsert(ctx, id, snap); err != nil {
				return err
			}
			if cfg.SnapshotSource != config.SourcePostgres {
				log.Warn().Msg("SNAPSHOT_SOURCE is not postgres, pollers will not read this document")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "remove the match instead of writing it")
	return cmd
}
