// Package filesync 把本地文件绑定到一个房间：文件就是编辑器缓冲区。
package filesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
)

// Sender 接收本地编辑，*syncclient.Client 满足该接口
type Sender interface {
	SendCodeUpdate(roomID uint, code string, language domain.Language)
}

// Binder 监听文件变化并把内容作为本地编辑发送，同时把远端代码写回文件。
type Binder struct {
	path    string
	roomID  uint
	sender  Sender
	watcher *fsnotify.Watcher
	log     *logrus.Entry

	mu   sync.Mutex
	last string // 最近一次发送或写入的内容
	seen bool
}

// New 创建 Binder 并开始监听文件所在目录。
// 监听目录而不是文件本身，这样原子替换（写临时文件再 rename）也能被看到。
func New(path string, roomID uint, sender Sender) (*Binder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Binder{
		path:    abs,
		roomID:  roomID,
		sender:  sender,
		watcher: watcher,
		log:     logrus.WithFields(logrus.Fields{"component": "filesync", "room_id": roomID, "file": abs}),
	}, nil
}

// Run 处理文件事件直到 ctx 结束或 watcher 关闭
func (b *Binder) Run(ctx context.Context) error {
	defer b.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-b.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != b.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			b.fileChanged()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return nil
			}
			b.log.WithError(err).Error("File watcher error")
		}
	}
}

func (b *Binder) fileChanged() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.log.WithError(err).Warn("Failed to read bound file")
		}
		return
	}
	code := string(data)

	b.mu.Lock()
	if b.seen && code == b.last {
		b.mu.Unlock()
		return
	}
	b.last, b.seen = code, true
	b.mu.Unlock()

	b.log.WithField("bytes", len(data)).Debug("Local edit")
	b.sender.SendCodeUpdate(b.roomID, code, "")
}

// Apply 把远端代码原子地写入文件。写入产生的文件事件会因内容相同被忽略。
func (b *Binder) Apply(code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+filepath.Base(b.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(code); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace %s: %w", b.path, err)
	}
	b.last, b.seen = code, true
	return nil
}
