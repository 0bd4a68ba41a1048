package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the process-wide config whenever the settings file changes.
// onReload, when non-nil, runs after each successful reload. Watch returns
// once ctx is cancelled.
func Watch(ctx context.Context, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace settings.json by
	// rename, which drops a file-level watch.
	if err := watcher.Add(DataDir()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != SettingsPath() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			cfg, err := Reload()
			if err != nil {
				log.Warn().Err(err).Msg("Settings reload failed")
				continue
			}
			log.Info().Msg("Settings reloaded")
			if onReload != nil {
				onReload(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Settings watcher error")
		}
	}
}
