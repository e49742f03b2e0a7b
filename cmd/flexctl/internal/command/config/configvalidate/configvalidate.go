// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package configvalidate implements the "config validate" command.
package configvalidate

import (
	"context"
	"fmt"

	"buf.build/go/app/appcmd"
	"buf.build/go/app/appext"
	"github.com/wangzl-eric/flexctl/cmd/flexctl/internal/flexctlcmd"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlconfig"
	"github.com/wangzl-eric/flexctl/internal/standard/xos"
	"github.com/spf13/pflag"
)

// NewCommand returns a new config validate command that validates the configuration file.
func NewCommand(name string, builder appext.SubCommandBuilder) *appcmd.Command {
	flags := newFlags()
	return &appcmd.Command{
		Use:   name,
		Short: "Validate the configuration file",
		Args:  appcmd.NoArgs,
		Run: builder.NewRunFunc(
			func(ctx context.Context, container appext.Container) error {
				return run(ctx, container, flags)
			},
		),
		BindFlags: flags.Bind,
	}
}

type flags struct {
	// Dir is the flexctl directory containing flexctl.yaml.
	Dir string
}

func newFlags() *flags {
	return &flags{}
}

// Bind registers the flag definitions with the given flag set.
func (f *flags) Bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Dir, flexctlcmd.DirFlagName, ".", "The flexctl directory containing flexctl.yaml")
}

func run(_ context.Context, container appext.Container, flags *flags) error {
	dirPath, err := xos.ExpandHome(flags.Dir)
	if err != nil {
		return err
	}
	if err := flexctlconfig.ValidateConfig(dirPath); err != nil {
		return err
	}
	_, err = fmt.Fprintln(container.Stdout(), "OK")
	return err
}
