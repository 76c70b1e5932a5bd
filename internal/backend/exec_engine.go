package backend

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// ExecEngine 子进程推理引擎：驱动 llama.cpp 风格的命令行程序，增量从
// 其标准输出读取。进程生命周期与 TokenSource 绑定，Close 杀掉进程。
type ExecEngine struct {
	Binary string
}

// NewExecEngine 创建子进程引擎
func NewExecEngine(binary string) *ExecEngine {
	return &ExecEngine{Binary: binary}
}

// Open 启动推理进程
func (e *ExecEngine) Open(modelPath, prompt string, params GenerationParams) (TokenSource, error) {
	if e.Binary == "" {
		return nil, fmt.Errorf("inference binary not configured")
	}
	args := []string{
		"-m", modelPath,
		"-p", prompt,
		"-n", strconv.Itoa(params.MaxTokens),
		"--temp", strconv.FormatFloat(float64(params.Temperature), 'f', -1, 32),
		"--top-p", strconv.FormatFloat(float64(params.TopP), 'f', -1, 32),
	}
	cmd := exec.Command(e.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start inference process error: %w", err)
	}
	return &processSource{cmd: cmd, reader: bufio.NewReader(stdout)}, nil
}

// processSource 从推理进程标准输出按块读增量
type processSource struct {
	cmd    *exec.Cmd
	reader *bufio.Reader

	mu     sync.Mutex
	closed bool
}

const readChunkSize = 64

func (p *processSource) Next() (string, error) {
	buf := make([]byte, readChunkSize)
	n, err := p.reader.Read(buf)
	if n > 0 {
		return string(buf[:n]), nil
	}
	if err == io.EOF {
		// 正常收尾，回收进程
		if waitErr := p.wait(); waitErr != nil {
			return "", fmt.Errorf("inference process error: %w", waitErr)
		}
		return "", io.EOF
	}
	return "", err
}

func (p *processSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}

// wait 回收自然退出的进程，与 Close 的 Wait 互斥
func (p *processSource) wait() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.cmd.Wait()
}
