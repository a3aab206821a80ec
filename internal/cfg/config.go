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

// Package cfg is the central, immutable configuration every other
// component reads from, built once from mount options at startup. Nothing
// below this package parses a mount option string itself.
package cfg

import (
	"time"

	"github.com/paulo-raca/mongofs/internal/dircache"
	"github.com/paulo-raca/mongofs/internal/docjson"
	"github.com/paulo-raca/mongofs/internal/docstore"
	"github.com/paulo-raca/mongofs/internal/mountopts"
)

// Config is the fully resolved set of knobs the mount command, the store
// connection, and every node behavior consult.
type Config struct {
	Store docstore.Config

	HideID          bool
	FetchFileLength bool

	JSON docjson.Options

	DirCacheTTL      time.Duration
	DirCacheCapacity int

	MetricsAddress string
	Foreground     bool
}

// FromMountOptions resolves a Config from the parsed "-o key=value,..."
// map, applying the same defaults documented for each option.
func FromMountOptions(m map[string]string) Config {
	store := docstore.DefaultConfig()
	store.Host = mountopts.String(m, "host", store.Host)

	return Config{
		Store:           store,
		HideID:          mountopts.Bool(m, "hide_id", false),
		FetchFileLength: mountopts.Bool(m, "fetch_file_length", false),
		JSON: docjson.Options{
			Indent:      mountopts.Int(m, "json_indent", docjson.DefaultOptions().Indent),
			EnsureASCII: mountopts.Bool(m, "json_escaping", false),
			Encoding:    mountopts.String(m, "json_encoding", "utf-8"),
		},
		DirCacheTTL:      mountopts.Seconds(m, "dircache_ttl", dircache.DefaultTTL),
		DirCacheCapacity: mountopts.Int(m, "dircache_capacity", dircache.ChooseDefaultCapacity()),
		MetricsAddress:   mountopts.String(m, "metrics_address", ""),
		Foreground:       mountopts.Bool(m, "foreground", false),
	}
}
