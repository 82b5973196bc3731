package main

import "github.com/BurntSushi/toml"

// Config is kcoresim's kernel.toml shape: enough knobs to size the
// simulated arena and heap and to pick how many IRQ lines a boot run
// reserves, without pretending to be a real bootloader configuration
// format.
type Config struct {
	Memory struct {
		ArenaBytes  uint64 `toml:"arena_bytes"`
		BumpReserve uint64 `toml:"bump_reserve"`
		HeapBytes   uint64 `toml:"heap_bytes"`
	} `toml:"memory"`
	Irq struct {
		Lines int `toml:"lines"`
	} `toml:"irq"`
}

func defaultConfig() Config {
	var c Config
	c.Memory.ArenaBytes = 64 * 1024 * 1024
	c.Memory.BumpReserve = 4 * 1024 * 1024
	c.Memory.HeapBytes = 16 * 1024 * 1024
	c.Irq.Lines = 16
	return c
}

// loadConfig returns defaultConfig when path is empty, otherwise decodes
// path over the defaults so a kernel.toml only needs to mention the
// fields it overrides.
func loadConfig(path string) (Config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
