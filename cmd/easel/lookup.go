// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/internal/cli"
)

func lookupCommand() *cli.Command {
	var options commonOptions
	return &cli.Command{
		Name:    "lookup",
		Summary: "Show where a peer is registered",
		Usage:   "easel lookup ID [ID...] [flags]",
		Examples: []cli.Example{
			{Description: "Find alice", Command: "easel lookup alice --discovery 10.0.0.2:5005"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
			options.bind(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("at least one peer id is required")
			}
			cfg, logger, err := options.load()
			if err != nil {
				return err
			}
			client, err := directory(ctx, cfg, logger)
			if err != nil {
				return err
			}
			records := make([]discovery.PeerRecord, 0, len(args))
			var missing []error
			for _, id := range args {
				record, err := client.Lookup(ctx, id)
				if err != nil {
					if !discovery.IsNotFound(err) {
						return err
					}
					missing = append(missing, err)
					continue
				}
				records = append(records, record)
			}
			printRecords(os.Stdout, records)
			return errors.Join(missing...)
		},
	}
}

func printRecords(w io.Writer, records []discovery.PeerRecord) {
	if len(records) == 0 {
		return
	}
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tENDPOINT\tRELAY")
	for _, record := range records {
		relayURL := "-"
		if !record.Relay.IsZero() {
			relayURL = record.Relay.URL
		}
		fmt.Fprintf(table, "%s\t%s\t%s\n", record.ID, record.HostPort(), relayURL)
	}
	table.Flush()
}
