// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/scratch-foundation/scratchbox/lib/attachment"
	"github.com/scratch-foundation/scratchbox/lib/bundle"
	"github.com/scratch-foundation/scratchbox/lib/config"
	"github.com/scratch-foundation/scratchbox/lib/version"
	"github.com/scratch-foundation/scratchbox/memfs"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Set up logging.
	logLevel := slog.LevelInfo
	if os.Getenv("SCRATCHBOX_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger)
	case "sweep":
		err = sweepCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("scratchbox %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if code, ok := isExitError(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`scratchbox - Run commands in private tmpfs scratch directories

USAGE
    scratchbox <command> [flags] [-- <args>...]

COMMANDS
    run      Acquire a scratch directory and run a command in its home
    sweep    Retry cleanup of leftover scratch directories
    version  Show version

EXAMPLES
    # Run a command; its working directory is the scratch home
    scratchbox run -- python3 main.py

    # Stage input attachments first, collect outputs as JSON
    scratchbox run --inputs inputs.json -- python3 main.py

    # Pack collected outputs into a tar.zst bundle
    scratchbox run --bundle outputs.tar.zst -- ./build.sh

ENVIRONMENT
    SCRATCHBOX_CONFIG  Path to the YAML config file
    SCRATCHBOX_DEBUG   Enable debug logging
`)
}

// loadConfig loads the configuration from an explicit path if given,
// otherwise from SCRATCHBOX_CONFIG or the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// runCmd implements the "run" command.
func runCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)

	configPath := fs.String("config", "", "Config file (overrides SCRATCHBOX_CONFIG)")
	inputsPath := fs.String("inputs", "", "JSON array of input attachments ('-' for stdin)")
	bundlePath := fs.String("bundle", "", "Write collected outputs as tar.zst to this path")
	outputJSON := fs.Bool("json", true, "Print collected outputs as a JSON array on stdout")

	fs.Usage = func() {
		fmt.Print(`scratchbox run - Run a command in a scratch directory

USAGE
    scratchbox run [flags] -- <command> [args...]

FLAGS
`)
		fmt.Print(fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	command := fs.Args()
	if len(command) == 0 {
		return fmt.Errorf("command is required after --")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	inputs, err := readInputs(*inputsPath)
	if err != nil {
		return err
	}

	pool, err := memfs.NewPool(cfg.PoolOptions(), logger)
	if err != nil {
		return err
	}

	dir, err := pool.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := dir.Release(); releaseErr != nil {
			logger.Error("failed to release scratch directory", "name", dir.Name(), "error", releaseErr)
		}
	}()

	// Stage inputs at the directory root inside the write-elevation
	// bracket, then execute with the root locked back down.
	if len(inputs) > 0 {
		err := dir.WithWrite(func() error {
			for _, att := range inputs {
				if err := att.SaveTo(dir.Root()); err != nil {
					return err
				}
				logger.Debug("staged input attachment", "path", att.Path(), "size", att.Size())
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	runErr := execute(command, dir.Home(), logger)

	// Collect outputs even when the command failed: partial results are
	// still results, and the exit code is propagated afterwards.
	var outputs []*attachment.Attachment
	for att, err := range dir.Attachments() {
		if err != nil {
			return err
		}
		logger.Info("collected output attachment",
			"path", att.Path(),
			"size", att.Size(),
			"digest", att.Digest(),
		)
		outputs = append(outputs, att)
	}

	if *bundlePath != "" {
		if err := writeBundle(*bundlePath, outputs); err != nil {
			return err
		}
	}
	if *outputJSON {
		wire := make([]attachment.OutputFile, 0, len(outputs))
		for _, att := range outputs {
			wire = append(wire, att.ToTransport())
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(wire); err != nil {
			return fmt.Errorf("encoding outputs: %w", err)
		}
	}

	return runErr
}

// readInputs parses a JSON array of wire-format input files and validates
// each through the attachment codec. An empty path means no inputs; "-"
// reads from stdin.
func readInputs(path string) ([]*attachment.Attachment, error) {
	if path == "" {
		return nil, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading inputs: %w", err)
	}

	var files []attachment.File
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parsing inputs: %w", err)
	}

	attachments := make([]*attachment.Attachment, 0, len(files))
	for _, file := range files {
		att, err := attachment.FromTransport(file)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

// execute runs the command with the scratch home as its working directory.
// The child is the external executor: it gets a minimal environment so
// nothing from the invoking shell leaks into the sandboxed process.
func execute(command []string, home string, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = home
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + home,
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	logger.Info("running command in scratch directory", "home", home, "command", command)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &exitError{code: exitErr.ExitCode()}
		}
		return fmt.Errorf("running command: %w", err)
	}
	return nil
}

// writeBundle packs outputs into a tar.zst file.
func writeBundle(path string, outputs []*attachment.Attachment) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating bundle %s: %w", path, err)
	}
	if err := bundle.Write(file, outputs); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing bundle %s: %w", path, err)
	}
	return nil
}

// sweepCmd implements the "sweep" command.
func sweepCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("sweep", pflag.ExitOnError)
	configPath := fs.String("config", "", "Config file (overrides SCRATCHBOX_CONFIG)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pool, err := memfs.NewPool(cfg.PoolOptions(), logger)
	if err != nil {
		return err
	}

	reclaimed, retained, err := pool.Sweep()
	if err != nil {
		return err
	}

	for _, name := range reclaimed {
		fmt.Printf("reclaimed %s\n", name)
	}
	for _, name := range retained {
		fmt.Printf("retained  %s (still present, name stays reserved)\n", name)
	}
	if len(reclaimed) == 0 && len(retained) == 0 {
		fmt.Println("nothing to sweep")
	}
	return nil
}

// exitError carries a non-zero exit code from the executed command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

// isExitError checks if an error is an exitError and returns the code.
func isExitError(err error) (int, bool) {
	if exitErr, ok := err.(*exitError); ok {
		return exitErr.code, true
	}
	return 0, false
}
