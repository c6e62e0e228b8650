//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/magefile/mage/sh"
)

const (
	pgImage     = "postgres:16-alpine"
	pgContainer = "entitymap-test-pg"
	pgPort      = "55432"
	pgPassword  = "entitymap"

	// envTestDSN enables the Postgres store tests in internal/sqlite.
	envTestDSN = "ENTITYMAP_TEST_POSTGRES_DSN"
)

// containerRuntime returns "podman" or "docker" if a working runtime is
// available, or "" if neither is usable.
func containerRuntime() string {
	for _, name := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(name); err != nil {
			continue
		}
		if exec.Command(name, "info").Run() != nil {
			fmt.Fprintf(os.Stderr, "WARNING: %s found on PATH but not usable (is the daemon/machine running?)\n", name)
			continue
		}
		return name
	}
	return ""
}

// waitForPostgres polls pg_isready inside the container.
func waitForPostgres(rt string) error {
	for i := 0; i < 30; i++ {
		if exec.Command(rt, "exec", pgContainer, "pg_isready", "-U", "postgres").Run() == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("postgres in %s did not become ready", pgContainer)
}

// Postgres starts a throwaway Postgres container, runs the store tests
// against it and removes the container.
func (Test) Postgres() error {
	rt := containerRuntime()
	if rt == "" {
		return fmt.Errorf("no container runtime found (tried podman, docker)")
	}
	_ = exec.Command(rt, "rm", "-f", pgContainer).Run()

	fmt.Fprintln(os.Stderr, "Starting", pgImage, "...")
	if err := sh.Run(rt, "run", "-d", "--rm",
		"--name", pgContainer,
		"-e", "POSTGRES_PASSWORD="+pgPassword,
		"-p", pgPort+":5432",
		pgImage); err != nil {
		return err
	}
	defer func() { _ = exec.Command(rt, "rm", "-f", pgContainer).Run() }()

	if err := waitForPostgres(rt); err != nil {
		return err
	}
	dsn := strings.Join([]string{
		"postgres://postgres:", pgPassword, "@localhost:", pgPort, "/postgres?sslmode=disable",
	}, "")
	return sh.RunWithV(map[string]string{envTestDSN: dsn}, binGo, "test", "-v", "-run", "Postgres", "./internal/sqlite/...")
}
