package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/logging"
)

// Resolver receives asynchronous install results.
type Resolver interface {
	Resolve(token int, succeeded bool) bool
}

// Commander runs a binary with arguments.
type Commander interface {
	Exec(ctx context.Context, name string, args []string, stdin io.Reader) (executor.Result, error)
}

// ADBPlatform is a SessionPlatform that stages parts locally and installs
// them on the attached device with adb. The platform result arrives when the
// adb process exits.
type ADBPlatform struct {
	cmd        Commander
	adb        string
	serial     string
	stagingDir string
	resolver   Resolver

	wg sync.WaitGroup
}

func NewADBPlatform(cmd Commander, adb, serial, stagingDir string, resolver Resolver) *ADBPlatform {
	if adb == "" {
		adb = "adb"
	}
	return &ADBPlatform{cmd: cmd, adb: adb, serial: serial, stagingDir: stagingDir, resolver: resolver}
}

func (p *ADBPlatform) args(rest ...string) []string {
	var args []string
	if p.serial != "" {
		args = append(args, "-s", p.serial)
	}
	return append(args, rest...)
}

// Available checks that adb exists and a device is attached.
func (p *ADBPlatform) Available(ctx context.Context) error {
	if _, err := exec.LookPath(p.adb); err != nil {
		return fmt.Errorf("%s not found: %w", p.adb, err)
	}
	res, err := p.cmd.Exec(ctx, p.adb, p.args("get-state"), nil)
	if err != nil {
		return err
	}
	if state := strings.TrimSpace(res.Stdout); !res.Success() || state != "device" {
		return fmt.Errorf("no device attached (%s)", strings.TrimSpace(res.Output()))
	}
	return nil
}

func (p *ADBPlatform) CreateSession(ctx context.Context, packageName string, parts int) (PackageSession, error) {
	if err := os.MkdirAll(p.stagingDir, 0700); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(p.stagingDir, packageName+"-*")
	if err != nil {
		return nil, err
	}
	return &adbSession{platform: p, dir: dir, packageName: packageName}, nil
}

// Wait blocks until every commit handed to adb has resolved.
func (p *ADBPlatform) Wait() {
	p.wg.Wait()
}

type adbSession struct {
	platform    *ADBPlatform
	dir         string
	packageName string
	files       []string
}

func (s *adbSession) OpenWrite(name string, size int64) (SessionWriter, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if !strings.HasSuffix(path, ".apk") {
		path += ".apk"
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s.files = append(s.files, path)
	return f, nil
}

func (s *adbSession) Commit(ctx context.Context, token int) error {
	if len(s.files) == 0 {
		return fmt.Errorf("session has no files")
	}

	args := s.platform.args("install", "-r")
	if len(s.files) > 1 {
		args = s.platform.args("install-multiple", "-r")
	}
	args = append(args, s.files...)

	p := s.platform
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer os.RemoveAll(s.dir)

		res, err := p.cmd.Exec(context.WithoutCancel(ctx), p.adb, args, nil)
		ok := err == nil && res.Success() && !strings.Contains(res.Stdout, "Failure")
		if !ok {
			log.Warn("adb install failed",
				"token", token,
				logging.KeyPackage, s.packageName,
				"exitCode", res.ExitCode,
				"output", res.Output(),
				logging.KeyError, err,
			)
		}
		p.resolver.Resolve(token, ok)
	}()
	return nil
}

func (s *adbSession) Abandon() error {
	return os.RemoveAll(s.dir)
}
