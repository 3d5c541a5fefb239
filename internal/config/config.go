// Package config loads the demo binary's pool parameters from a YAML
// file. The bufferpool library itself never depends on this package —
// it takes a plain bufferpool.Config struct — this is only for
// cmd/clockbufbench's edge.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type BenchConfig struct {
	Pool struct {
		NumBuffers   int `mapstructure:"num_buffers"`
		BlockStripes int `mapstructure:"block_stripes"`
		FileStripes  int `mapstructure:"file_stripes"`
	} `mapstructure:"pool"`
	Workload struct {
		Workers int `mapstructure:"workers"`
		Files   int `mapstructure:"files"`
		Blocks  int `mapstructure:"blocks_per_file"`
	} `mapstructure:"workload"`
	DataDir string `mapstructure:"data_dir"`
}

func Load(path string) (*BenchConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg BenchConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
