package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]...",
		Short: "Print the value of one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client.MultiGet(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, item := range items {
				if !item.Found {
					fmt.Printf("%s: (miss)\n", item.Key)
					continue
				}
				fmt.Printf("%s: %v (%T, cas %d)\n", item.Key, item.Value, item.Value, item.CAS)
			}
			return nil
		},
	}

	setCmd = &cobra.Command{
		Use:   "set [key] [value] [ttl]",
		Short: "Store a string value",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := ttlArg(args, 2)
			if err != nil {
				return err
			}
			stored, err := client.Set(cmd.Context(), args[0], args[1], ttl)
			return printStored(stored, err)
		},
	}

	addCmd = &cobra.Command{
		Use:   "add [key] [value] [ttl]",
		Short: "Store a string value if the key does not exist",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := ttlArg(args, 2)
			if err != nil {
				return err
			}
			stored, err := client.Add(cmd.Context(), args[0], args[1], ttl)
			return printStored(stored, err)
		},
	}

	deleteCmd = &cobra.Command{
		Use:     "delete [key]...",
		Aliases: []string{"del"},
		Short:   "Delete one or more keys",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.MultiDelete(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}

	incrCmd = &cobra.Command{
		Use:   "incr [key] [delta]",
		Short: "Increment a counter, creating it at 0",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := deltaArg(args)
			if err != nil {
				return err
			}
			n, err := client.Increment(cmd.Context(), args[0], delta, 0, 0)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}

	decrCmd = &cobra.Command{
		Use:   "decr [key] [delta]",
		Short: "Decrement a counter, creating it at 0",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := deltaArg(args)
			if err != nil {
				return err
			}
			n, err := client.Decrement(cmd.Context(), args[0], delta, 0, 0)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}

	touchCmd = &cobra.Command{
		Use:   "touch [key] [ttl]",
		Short: "Update the expiration of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := ttlArg(args, 1)
			if err != nil {
				return err
			}
			found, err := client.Touch(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("not found")
				return nil
			}
			fmt.Println("touched")
			return nil
		},
	}

	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Invalidate all items on all servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.FlushAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("flushed")
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version of each server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := client.Version(cmd.Context())
			if err != nil {
				return err
			}

			addrs := make([]string, 0, len(versions))
			for addr := range versions {
				addrs = append(addrs, addr)
			}
			sort.Strings(addrs)

			for _, addr := range addrs {
				fmt.Printf("%s: %s\n", addr, versions[addr])
			}
			return nil
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check that every server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("pong in %s\n", time.Since(start))
			return nil
		},
	}
)

func ttlArg(args []string, i int) (time.Duration, error) {
	if len(args) <= i {
		return 0, nil
	}
	ttl, err := time.ParseDuration(args[i])
	if err != nil {
		return 0, fmt.Errorf("ttl must be a duration like 30s: %w", err)
	}
	return ttl, nil
}

func deltaArg(args []string) (uint64, error) {
	if len(args) < 2 {
		return 1, nil
	}
	delta, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("delta must be a positive number: %w", err)
	}
	return delta, nil
}

func printStored(stored bool, err error) error {
	if err != nil {
		return err
	}
	if stored {
		fmt.Println("stored")
	} else {
		fmt.Println("not stored")
	}
	return nil
}
