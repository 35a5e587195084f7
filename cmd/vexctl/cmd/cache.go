package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/internal/infra/redis"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the API's Redis caches",
	Long: `Operate on the caches the API keeps in Redis. The connection comes from
the server configuration (config file and REDIS_* environment variables),
not from the CLI context.`,
}

func init() {
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "invalidate-membership ORG_ID USER_ID",
		Short: "Drop a cached organization membership",
		Long: `Drop the cached membership of a user in an organization so the next
request reloads it from the database. Without this a role change or removal
is seen once the entry expires (CACHE_MEMBERSHIP_TTL).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := invalidateMembership(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Membership of user %s in organization %s invalidated.\n", args[1], args[0])
			return nil
		},
	})
}

func invalidateMembership(ctx context.Context, orgArg, userArg string) error {
	orgID, err := shared.IDFromString(orgArg)
	if err != nil {
		return fmt.Errorf("invalid organization ID %q", orgArg)
	}
	userID, err := shared.IDFromString(userArg)
	if err != nil {
		return fmt.Errorf("invalid user ID %q", userArg)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewNop()
	if flagVerbose {
		log = logger.NewDevelopment()
	}
	client, err := redis.New(&cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer client.Close()

	cache, err := redis.NewMembershipCache(client, cfg.Cache.MembershipTTL)
	if err != nil {
		return err
	}
	return cache.Invalidate(ctx, orgID, userID)
}
