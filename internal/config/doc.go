// Package config loads and watches the server configuration file.
//
// Config fields:
//   - server.listen        TCP address of the command protocol (default ":6380")
//   - server.admin_listen  HTTP admin address; empty disables it (default ":8080")
//   - storage.data_dir     root of the per-client session directories (default "data")
//   - storage.autosave_file snapshot written on disconnect (default "autosave.json")
//   - storage.reap_interval expiry sweep period (default 1s)
//   - storage.save_retry   max_retries, base_backoff, max_backoff for autosave
//   - log.level / log.format / log.buffer
//
// Load(path) applies defaults before unmarshalling, then validates. A
// missing file yields the defaults.
//
// Watch(ctx, path, logger, onChange) uses fsnotify to detect file changes
// and calls onChange with the newly parsed Config.
package config
