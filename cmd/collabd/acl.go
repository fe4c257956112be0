package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"collabrooms/internal/access"
)

const aclTimeout = 5 * time.Second

// newACLCmd manages the Redis room access lists read by the server.
func newACLCmd() *cobra.Command {
	var redisURL string
	cmd := &cobra.Command{
		Use:   "acl",
		Short: "Manage room access lists",
	}
	cmd.PersistentFlags().StringVar(&redisURL, "redis-url", "redis://localhost:6379/0", "Redis URL holding room access lists")

	grant := &cobra.Command{
		Use:   "grant ROOM USER ROLE",
		Short: "Give a user a role (owner, editor or viewer) in a room",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := access.Role(args[2])
			if access.Normalize(args[2]) != role {
				return fmt.Errorf("unknown role %q", args[2])
			}
			return withChecker(redisURL, func(ctx context.Context, c *access.RedisChecker) error {
				if err := c.Grant(ctx, args[0], args[1], role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s %s in %s\n", args[1], role, args[0])
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke ROOM USER",
		Short: "Remove a user from a room's access list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChecker(redisURL, func(ctx context.Context, c *access.RedisChecker) error {
				if err := c.Revoke(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s in %s\n", args[1], args[0])
				return nil
			})
		},
	}

	check := &cobra.Command{
		Use:   "check ROOM USER",
		Short: "Show whether a user may join a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChecker(redisURL, func(ctx context.Context, c *access.RedisChecker) error {
				d, err := c.HasAccess(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !d.HasAccess {
					fmt.Fprintf(cmd.OutOrStdout(), "%s has no access to %s\n", args[1], args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s in %s\n", args[1], d.Role, args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(grant, revoke, check)
	return cmd
}

func withChecker(redisURL string, fn func(context.Context, *access.RedisChecker) error) error {
	c, err := access.NewRedisChecker(redisURL)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), aclTimeout)
	defer cancel()
	return fn(ctx, c)
}
