package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStandaloneBinaryVersionAndHelpWorkOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	buildDir := t.TempDir()
	binaryPath := filepath.Join(buildDir, "swapgate")

	build := exec.Command("go", "build", "-ldflags", "-X main.version=9.9.9", "-o", binaryPath, "./cmd/swapgate")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	outside := t.TempDir()
	copiedBinary := filepath.Join(outside, "swapgate")
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	if err := os.WriteFile(copiedBinary, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}

	version := exec.Command(copiedBinary, "version")
	version.Dir = outside
	out, err := version.CombinedOutput()
	if err != nil {
		t.Fatalf("version failed: %v\n%s", err, string(out))
	}
	if !strings.Contains(string(out), "swapgate 9.9.9") {
		t.Fatalf("unexpected version output: %s", string(out))
	}

	help := exec.Command(copiedBinary, "--help")
	help.Dir = outside
	out, err = help.CombinedOutput()
	if err != nil {
		t.Fatalf("--help failed: %v\n%s", err, string(out))
	}
	for _, sub := range []string{"serve", "price", "quote", "swap", "rate-limit"} {
		if !strings.Contains(string(out), sub) {
			t.Errorf("help output missing %q command", sub)
		}
	}

	// A malformed amount is rejected locally before any network call.
	price := exec.Command(copiedBinary, "price", "--sell", "ETH", "--buy", "USDC", "--amount=abc")
	price.Dir = outside
	if out, err := price.CombinedOutput(); err == nil {
		t.Fatalf("expected price with negative amount to fail:\n%s", string(out))
	}
}
