/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ryantm/sozu/internal/logger"
)

// Watcher reloads path on every write event and hands the freshly
// loaded ProxyConfig to onReload. This is additive to the control
// channel: nothing about the control-channel design precludes
// synthesizing orders from a file edit.
type Watcher struct {
	w        *fsnotify.Watcher
	path     string
	onReload func(*ProxyConfig)
	log      logger.Logger
	done     chan struct{}
}

// WatchFile starts watching path's containing directory (fsnotify
// tracks directories more reliably across editors' atomic-rename
// saves than watching the file itself) and calls onReload with the
// freshly parsed config after every write.
func WatchFile(path string, log logger.Logger, onReload func(*ProxyConfig)) (*Watcher, error) {
	if log == nil {
		log = logger.Noop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{w: fw, path: filepath.Clean(path), onReload: onReload, log: log, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warnf("config reload failed: %v", err)
				continue
			}
			w.onReload(cfg)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.Warnf("config watcher error: %v", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
