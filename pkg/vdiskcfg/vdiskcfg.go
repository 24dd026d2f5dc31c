// Package vdiskcfg holds the "optional settings objects" spec.md §6 says
// collaborators may pass to a reader: block-cache sizing and
// partition-table policy knobs. Every field has a hard-coded default, so
// nothing in this module requires a config file to function; Load is a
// convenience for callers who want to override defaults from YAML/TOML/env
// via viper, the way vorteil/pkg/vconvert loads provisioning config.
package vdiskcfg

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// Config collects the tunables this module's readers and partition tables
// take as arguments. No package in this module reads a Config itself; a
// caller passes its fields on.
type Config struct {
	// BlockCache sizes the vio.BlockCacheStream wrapping a raw stream.
	BlockCache vio.BlockCacheSettings

	// GPTAlignment is an alignment (bytes) for GPT's aligned create
	// operation.
	GPTAlignment int64

	// MBRAlignment is an alignment in bytes for MBR's aligned create
	// operation (mbr.Table.Create takes its alignment in sectors).
	MBRAlignment int64

	// MSRSmallDiskThreshold is the disk-size cutoff, and MSRSmallDiskSize
	// and MSRLargeDiskSize the Microsoft Reserved partition sizes, that
	// spec.md §4.2 uses (32 MiB below 16 GiB, 128 MiB at or above).
	MSRSmallDiskThreshold int64
	MSRSmallDiskSize      int64
	MSRLargeDiskSize      int64
}

// Default returns the hard-coded defaults.
func Default() Config {
	const sectorSize = 512
	return Config{
		BlockCache: vio.BlockCacheSettings{
			BlockSize:       sectorSize,
			ReadCacheSize:   20 * sectorSize * sectorSize, // 20 * 256KiB worth of sectors
			OptimumReadSize: 128 * sectorSize,
			LargeReadSize:   1 << 20, // 1 MiB
		},
		GPTAlignment:          1 << 20, // 1 MiB
		MBRAlignment:          sectorSize,
		MSRSmallDiskThreshold: 16 << 30, // 16 GiB
		MSRSmallDiskSize:      32 << 20, // 32 MiB
		MSRLargeDiskSize:      128 << 20,
	}
}

// Load reads overrides from path (any format viper supports: yaml, toml,
// json, env) on top of Default(). A missing file is not an error; Load
// simply returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("vdiskcfg: loading %s: %w", path, err)
	}

	if v.IsSet("blockcache.blocksize") {
		cfg.BlockCache.BlockSize = v.GetInt64("blockcache.blocksize")
	}
	if v.IsSet("blockcache.readcachesize") {
		cfg.BlockCache.ReadCacheSize = v.GetInt64("blockcache.readcachesize")
	}
	if v.IsSet("blockcache.optimumreadsize") {
		cfg.BlockCache.OptimumReadSize = v.GetInt64("blockcache.optimumreadsize")
	}
	if v.IsSet("blockcache.largereadsize") {
		cfg.BlockCache.LargeReadSize = v.GetInt64("blockcache.largereadsize")
	}
	if v.IsSet("gptalignment") {
		cfg.GPTAlignment = v.GetInt64("gptalignment")
	}
	if v.IsSet("mbralignment") {
		cfg.MBRAlignment = v.GetInt64("mbralignment")
	}

	return cfg, nil
}
