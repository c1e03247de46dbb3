// Package jsonl 信号与指标的 JSONL 落盘。
// 写入是异步的：调用方只投递记录，JSON 编码与文件 I/O
// 在每个文件独立的后台 goroutine 中完成，不阻塞行情路径。
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

type cmdKind int

const (
	cmdAppend cmdKind = iota
	cmdFlush
	cmdClose
)

// cmd 后台循环的一次操作
// ack 仅在 flush/close 时使用，携带落盘结果
type cmd struct {
	kind cmdKind
	rec  any
	ack  chan error
}

// Writer 单文件异步 JSONL 写入器
// 一个 Writer 对应一个追加写的 .jsonl 文件
type Writer struct {
	// path 输出文件路径
	path string
	// cmds 投递通道，容量即写入缓冲
	cmds chan cmd

	closeOnce sync.Once
	closeErr  error
	closed    int32

	sendMu sync.Mutex

	wg sync.WaitGroup
}

// NewWriter 创建写入器并启动后台落盘循环
// 参数 path: 输出文件路径，目录不存在时自动创建
// 参数 bufferSize: 投递通道容量，打满后 Write 阻塞
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
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
		cmds: make(chan cmd, bufferSize),
	}

	w.wg.Add(1)
	go w.run(f)

	return w, nil
}

// Write 投递一条记录，编码与落盘由后台完成
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	if atomic.LoadInt32(&w.closed) == 1 {
		return fmt.Errorf("writer 已关闭")
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return fmt.Errorf("writer 已关闭")
	}
	w.cmds <- cmd{kind: cmdAppend, rec: v}
	return nil
}

// Flush 排空缓冲并等待落盘完成
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	if atomic.LoadInt32(&w.closed) == 1 {
		return nil
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return nil
	}
	ack := make(chan error, 1)
	w.cmds <- cmd{kind: cmdFlush, ack: ack}
	return <-ack
}

// Close 落盘剩余记录并关闭文件，重复调用安全
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		atomic.StoreInt32(&w.closed, 1)
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		ack := make(chan error, 1)
		w.cmds <- cmd{kind: cmdClose, ack: ack}
		w.closeErr = <-ack
		close(w.cmds)
	})
	w.wg.Wait()
	return w.closeErr
}

// run 后台落盘循环，cmdClose 后退出
func (w *Writer) run(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)

	reply := func(ack chan error, err error) {
		if ack != nil {
			ack <- err
		}
	}

	for c := range w.cmds {
		switch c.kind {
		case cmdAppend:
			// 单条记录编码或写入失败只丢弃该条，不中断后续落盘
			appendRecord(bw, c.rec)
		case cmdFlush:
			reply(c.ack, bw.Flush())
		case cmdClose:
			reply(c.ack, bw.Flush())
			return
		}
	}
}

// appendRecord 编码一条记录并追加换行
func appendRecord(bw *bufio.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := bw.Write(b); err != nil {
		return
	}
	_ = bw.WriteByte('\n')
}
