// Package config provides the configuration for bined.
//
// Settings come from several layers; higher layers override lower ones:
//
//	┌─────────────────────────────┐
//	│  4. Environment Variables   │  ← BINED_PAGE_SIZE, BINED_LOG_LEVEL, ...
//	├─────────────────────────────┤
//	│  3. Explicit File           │  ← bined -c path.toml
//	├─────────────────────────────┤
//	│  2. User Settings           │  ← ~/.config/bined/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Command line flags are applied by the caller on top of the loaded Config.
//
// A file may pull shared settings in from other files; its own settings win:
//
//	include = ["cache.toml"]
//
// # Settings
//
//	[cache]
//	page_size = 4096      # power of two in [64, 1048576]
//	max_pages = 256       # at least 1
//
//	[source]
//	lock = true           # exclusive advisory lock on opened files
//	watch = false         # report external modification of opened files
//	watch_delay = "100ms" # coalescing window for file events
//
//	[engine]
//	verify = false        # validate segment structure after every edit
//
//	[script]
//	timeout = "5s"              # Lua execution timeout, 0 disables
//	operation_limit = 10000000  # Lua document calls per run, 0 disables
//
//	[logging]
//	level = "info"        # debug, info, warn or error
//
// # Basic Usage
//
//	cfg, err := config.Load(config.WithFile("bined.toml"))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Cache.PageSize)
package config
