// Package jsonl 实现异步 JSONL 变更日志写入。
// Manager 的每次成功变更作为一行 JSON 投递到带缓冲的 channel，
// 编码与文件 I/O 在后台 goroutine 完成，不阻塞缓存操作。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("writer 已关闭")

// ErrFull 缓冲区已满，记录被丢弃
var ErrFull = errors.New("writer 缓冲区已满")

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Options 写入器选项
type Options struct {
	// BufferSize channel 容量，<=0 时为 1000
	BufferSize int
	// DropWhenFull 缓冲区满时丢弃并返回 ErrFull，而不是阻塞调用方
	DropWhenFull bool
}

// Writer 异步 JSONL 写入器
type Writer struct {
	path string
	ch   chan op
	drop bool

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	// sendMu 保证 Close 之后不会再向已关闭的 channel 发送
	sendMu sync.RWMutex

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	wg sync.WaitGroup
}

// NewWriter 创建 JSONL 写入器（追加模式）
// 参数 path: 输出文件路径，父目录不存在时自动创建
func NewWriter(path string, opts Options) (*Writer, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan op, opts.BufferSize),
		drop: opts.DropWhenFull,
	}

	w.wg.Add(1)
	go w.loop(f)

	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 投递一条记录
// DropWhenFull 模式下缓冲区满时立即返回 ErrFull。
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed.Load() {
		return ErrClosed
	}

	req := op{typ: opWrite, val: v}
	if !w.drop {
		w.ch <- req
		return nil
	}
	select {
	case w.ch <- req:
		return nil
	default:
		w.dropped.Add(1)
		return ErrFull
	}
}

// Flush 等待已投递的记录写入文件
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed.Load() {
		return nil
	}
	done := make(chan error, 1)
	w.ch <- op{typ: opFlush, done: done}
	return <-done
}

// Close 关闭写入器（会先 flush）
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		w.closed.Store(true)
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.closeErr = <-done
		close(w.ch)
	})
	w.wg.Wait()
	return w.closeErr
}

// Counters 写入、丢弃与编码失败计数
func (w *Writer) Counters() (written, dropped, failed int64) {
	return w.written.Load(), w.dropped.Load(), w.failed.Load()
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<16)
	reply := func(err error, done chan error) {
		if done != nil {
			done <- err
		}
	}

	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				w.failed.Add(1)
				continue
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				w.failed.Add(1)
				continue
			}
			w.written.Add(1)
		case opFlush:
			reply(bw.Flush(), req.done)
		case opClose:
			reply(bw.Flush(), req.done)
			return
		}
	}
}
