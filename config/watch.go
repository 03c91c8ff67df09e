// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-loads the configuration file whenever it changes and hands the
// result to onReload. Load errors keep the previous configuration in
// place; the server only sees configs that parsed. The returned stop
// function ends the watch.
func Watch(path string, onReload func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors and config management
	// tools usually replace the file, which ends the watch on the old
	// inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				log.Infof("Configuration file %s changed, reloading", path)
				conf, err := Load(path)
				if err != nil {
					log.Errorf("Ignoring configuration reload: %v", err)
					continue
				}
				onReload(conf)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Error watching configuration file: %v", err)
			}
		}
	}()

	return watcher.Close, nil
}
