// Copyright 2026 Peter Edge
//
// All rights reserved.

package main

import (
	"context"

	"buf.build/go/app/appcmd"
	"buf.build/go/app/appext"
	"github.com/wangzl-eric/flexctl/cmd/flexctl/internal/command/config"
	"github.com/wangzl-eric/flexctl/cmd/flexctl/internal/command/fetch"
	"github.com/wangzl-eric/flexctl/cmd/flexctl/internal/command/parse"
)

func main() {
	appcmd.Main(context.Background(), newRootCommand("flexctl"))
}

// newRootCommand creates the root flexctl command with all sub-commands.
func newRootCommand(name string) *appcmd.Command {
	builder := appext.NewBuilder(name)
	return &appcmd.Command{
		Use:                 name,
		Short:               "Fetch and normalize IBKR Flex Query statements",
		BindPersistentFlags: builder.BindRoot,
		SubCommands: []*appcmd.Command{
			config.NewCommand("config", builder),
			fetch.NewCommand("fetch", builder),
			parse.NewCommand("parse", builder),
		},
	}
}
