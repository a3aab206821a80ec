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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/kardianos/osext"
	"github.com/spf13/pflag"

	"github.com/paulo-raca/mongofs/fs"
	"github.com/paulo-raca/mongofs/internal/cfg"
	"github.com/paulo-raca/mongofs/internal/dircache"
	"github.com/paulo-raca/mongofs/internal/docstore"
	"github.com/paulo-raca/mongofs/internal/logger"
	"github.com/paulo-raca/mongofs/internal/metrics"
	"github.com/paulo-raca/mongofs/internal/mountopts"
	"github.com/paulo-raca/mongofs/internal/notifier"
	"github.com/paulo-raca/mongofs/internal/openfile"

	"github.com/prometheus/client_golang/prometheus"
)

const successfulMountMessage = "mongofs has been successfully mounted."

// parseMountOptions folds the repeated "-o" flag and the convenience
// "--foreground" flag into a single mount-option map, the shape
// cfg.FromMountOptions expects.
func parseMountOptions(flags *pflag.FlagSet) map[string]string {
	m := make(map[string]string)
	for _, o := range mountOptionFlags {
		mountopts.Parse(m, o)
	}
	if fg, _ := flags.GetBool("foreground"); fg {
		m["foreground"] = "true"
	}
	return m
}

// runMount resolves configuration, connects to the database, and either
// daemonizes or mounts in the foreground and blocks until unmounted.
func runMount(mountPoint string) error {
	options := parseMountOptions(rootCmd.Flags())

	mountPoint, err := filepath.Abs(mountPoint)
	if err != nil {
		return fmt.Errorf("resolving mount point: %w", err)
	}

	config := cfg.FromMountOptions(options)

	if !config.Foreground {
		return daemonizeSelf(mountPoint)
	}

	return mountAndServe(mountPoint, config)
}

// daemonizeSelf re-execs the current binary with --foreground set and the
// resolved mount point, the same background-by-default behavior the
// teacher's runCLIApp implements with jacobsa/daemonize.
func daemonizeSelf(mountPoint string) error {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("osext.Executable: %w", err)
	}

	args := append([]string{"--foreground"}, os.Args[1:]...)
	args[len(args)-1] = mountPoint

	env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
	if home, herr := os.UserHomeDir(); herr == nil {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof(successfulMountMessage)
	return nil
}

func mountAndServe(mountPoint string, config cfg.Config) error {
	logSignalOutcome := func(err error) {
		if err2 := daemonize.SignalOutcome(err); err2 != nil {
			logger.Errorf("failed to signal outcome to parent process: %v", err2)
		}
	}

	store, err := docstore.Connect(context.Background(), config.Store)
	if err != nil {
		logSignalOutcome(err)
		return fmt.Errorf("connecting to %s: %w", config.Store.Host, err)
	}
	defer store.Disconnect(context.Background())

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)
	if config.MetricsAddress != "" {
		shutdown, err := metrics.Serve(config.MetricsAddress, func(err error) {
			logger.Errorf("metrics server: %v", err)
		})
		if err != nil {
			logSignalOutcome(err)
			return fmt.Errorf("starting metrics server on %s: %w", config.MetricsAddress, err)
		}
		defer shutdown(context.Background())
	}

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())

	server, err := fs.NewServer(&fs.ServerConfig{
		Store:     store,
		DirCache:  dircache.New(timeutil.RealClock(), config.DirCacheTTL, config.DirCacheCapacity),
		OpenFiles: openfile.NewCache(),
		Config:    config,
		Notifier:  notifier.Desktop{},
		Metrics:   metricsRegistry,
		Uid:       uid,
		Gid:       gid,
	})
	if err != nil {
		logSignalOutcome(err)
		return fmt.Errorf("fs.NewServer: %w", err)
	}

	mountCfg := &fuse.MountConfig{
		FSName:      "mongofs",
		Subtype:     "mongofs",
		VolumeName:  "mongofs",
		ErrorLogger: logger.NewStdLogger("fuse: ", logger.LevelError),
		DebugLogger: logger.NewStdLogger("fuse_debug: ", logger.LevelTrace),
		Options: map[string]string{
			// Always on: without it only the mounting user could see the
			// tree, which defeats sharing a database mount with other
			// local processes/users.
			"allow_other": "",
		},
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		logSignalOutcome(fmt.Errorf("mount: %w", err))
		return fmt.Errorf("mount: %w", err)
	}

	logger.Infof(successfulMountMessage)
	notifier.Desktop{}.Notify("mongofs", fmt.Sprintf("Mounted at %s", mountPoint))
	logSignalOutcome(nil)

	registerSIGINTHandler(mountPoint)

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}
	return nil
}

// registerSIGINTHandler lets the user unmount with Ctrl-C, matching the
// teacher's legacy_main.go helper of the same name.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("received SIGINT, attempting to unmount...")
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("failed to unmount in response to SIGINT: %v", err)
				continue
			}
			logger.Infof("successfully unmounted in response to SIGINT.")
			return
		}
	}()
}
