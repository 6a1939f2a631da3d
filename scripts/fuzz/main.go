// Fuzz runner for Beacon.
//
// Runs every fuzz target for FUZZ_TIME (default 30s) and writes a summary to
// target/reports/fuzz.txt. Exits non-zero when any target finds a failing
// input.
//
// Usage:
//
//	go run ./scripts/fuzz
//	FUZZ_TIME=2m go run ./scripts/fuzz
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type target struct {
	Name string
	Pkg  string
}

var targets = []target{
	{Name: "FuzzEval", Pkg: "./internal/expr/"},
	{Name: "FuzzSub", Pkg: "./internal/expr/"},
	{Name: "FuzzExpandEnvVars", Pkg: "./internal/config/"},
	{Name: "FuzzFormatBytes", Pkg: "./templates/"},
}

type result struct {
	target
	Elapsed time.Duration
	Execs   int64
	Corpus  int
	OK      bool
}

var (
	reExecs  = regexp.MustCompile(`execs:\s+(\d+)`)
	reCorpus = regexp.MustCompile(`new interesting:\s+(\d+)`)
)

func main() {
	root, err := moduleRoot()
	if err != nil {
		log.Fatal(err)
	}
	fuzzTime := os.Getenv("FUZZ_TIME")
	if fuzzTime == "" {
		fuzzTime = "30s"
	}

	var results []result
	failed := 0
	for _, t := range targets {
		fmt.Printf("==> %s %s\n", t.Pkg, t.Name)
		r := run(root, t, fuzzTime)
		if !r.OK {
			failed++
		}
		results = append(results, r)
	}

	dir := filepath.Join(root, "target", "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}
	out := filepath.Join(dir, "fuzz.txt")
	if err := os.WriteFile(out, report(results, fuzzTime), 0o644); err != nil {
		log.Fatalf("writing fuzz report: %v", err)
	}
	fmt.Printf("\nreport written to %s\n", out)

	if failed > 0 {
		fmt.Printf("%d of %d targets failed\n", failed, len(targets))
		os.Exit(1)
	}
}

func run(root string, t target, fuzzTime string) result {
	cmd := exec.Command("go", "test", "-run=^$", "-fuzz=^"+t.Name+"$", "-fuzztime="+fuzzTime, t.Pkg)
	cmd.Dir = root
	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)

	start := time.Now()
	err := cmd.Run()
	r := result{target: t, Elapsed: time.Since(start)}

	output := buf.String()
	if m := reExecs.FindAllStringSubmatch(output, -1); len(m) > 0 {
		r.Execs, _ = strconv.ParseInt(m[len(m)-1][1], 10, 64)
	}
	if m := reCorpus.FindAllStringSubmatch(output, -1); len(m) > 0 {
		r.Corpus, _ = strconv.Atoi(m[len(m)-1][1])
	}
	// The fuzz timer can race test teardown and report a deadline error even
	// though no failing input was written.
	r.OK = err == nil || (strings.Contains(output, "context deadline exceeded") &&
		!strings.Contains(output, "Failing input written to"))
	return r
}

func report(results []result, fuzzTime string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Beacon fuzz report  %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "%s %s/%s, %s per target\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH, fuzzTime)
	fmt.Fprintf(&b, "%-20s %-22s %-6s %12s %8s %10s\n", "target", "package", "status", "execs", "corpus", "elapsed")
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%-20s %-22s %-6s %12d %8d %10s\n",
			r.Name, r.Pkg, status, r.Execs, r.Corpus, r.Elapsed.Round(time.Second))
	}
	return []byte(b.String())
}

func moduleRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("locating script source")
	}
	for dir := filepath.Dir(file); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", file)
		}
		dir = parent
	}
}
