// Copyright 2024 The mongofs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the mongofs command line: a single cobra command
// that parses "-o key=value" mount options into internal/cfg.Config and
// mounts the database as a FUSE file system.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var mountOptionFlags []string

var rootCmd = &cobra.Command{
	Use:   "mongofs [flags] mount_point",
	Short: "Mount a MongoDB-like document database as a local file system",
	Long: `mongofs is a FUSE adapter that lets you browse and edit the
databases, collections, and documents of a MongoDB-compatible server as
ordinary directories and JSON files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(args[0])
	},
}

func init() {
	rootCmd.Flags().StringArrayVarP(&mountOptionFlags, "option", "o", nil,
		"mount option in \"key=value\" or \"key\" form; may be repeated or comma-separated")
	rootCmd.Flags().Bool("foreground", false, "run in the foreground instead of daemonizing")
}

// Execute runs the root command, exiting the process on error the same
// way the teacher's Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
