package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("IMGCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--trim"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
	if !opts.trimOnly {
		t.Fatalf("--trim 应被解析")
	}
}

func TestParseCLIFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--bogus"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunCheckConfigUnknownBackend(t *testing.T) {
	configPath := writeConfigFile(t, fmt.Sprintf(`
SourceRoot = "%s"

[Cache]
Backend = "floppy"
`, t.TempDir()))

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code == 0 {
		t.Fatalf("未注册的后端应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "floppy") {
		t.Fatalf("错误信息应包含后端名称: %s", stdErrBuffer().String())
	}
}

func TestRunTrimWithMemoryBackend(t *testing.T) {
	configPath := writeConfigFile(t, fmt.Sprintf(`
SourceRoot = "%s"

[Cache]
Backend = "memory"
`, t.TempDir()))

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, trimOnly: true})
	if code != 0 {
		t.Fatalf("trim 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	if !strings.Contains(stdOutBuffer().String(), "removed 0 expired entries") {
		t.Fatalf("trim 输出不符合预期: %s", stdOutBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "imgcache") {
		t.Fatalf("version 输出应包含 imgcache 标识")
	}
}
