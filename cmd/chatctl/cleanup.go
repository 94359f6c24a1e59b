package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/repository"
	"sudooom.market.chat/internal/service"
)

var cleanupBatch int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Soft delete rooms below their minimum member count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDatabase(ctx)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		rdb := openRedis()
		defer rdb.Close()

		gateway := channel.NewGateway(
			channel.NewRedisProvider(rdb, cfg.Channel.KeyPrefix),
			channel.NewTokenIssuer(cfg.Channel.TokenSecret, cfg.Channel.TokenTTL),
			cfg.Channel.Timeout,
		)
		defer gateway.Shutdown(ctx)

		batch := cleanupBatch
		if batch <= 0 {
			batch = cfg.Chat.CleanupBatch
		}
		cleaner := service.NewCleaner(repository.NewRoomRepository(db), gateway, nil, service.CleanerConfig{
			BatchSize:       batch,
			MinGroupMembers: cfg.Chat.MinGroupMembers,
		})

		cleaned, err := cleaner.RunOnce(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("%d room(s) cleaned\n", cleaned)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupBatch, "batch", 0, "max rooms to clean (default: chat.cleanup_batch)")
	rootCmd.AddCommand(cleanupCmd)
}
