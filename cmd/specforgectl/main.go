// Command specforgectl is a minimal HTTP client for the specforge server,
// following the teacher's cmd/specmcp stdlib-flag subcommand style (no
// cobra) rather than reaching for an out-of-pack CLI framework.
//
// Usage:
//
//	specforgectl health
//	specforgectl list
//	specforgectl get <generator-id>
//	specforgectl generate -generator <id> -spec-file <path> [-tenant <id>]
//
// The server address is taken from -host, or the CODEGEN_HOST environment
// variable (spec.md §6), defaulting to http://localhost:3000.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "health":
		err = runHealth(args)
	case "list":
		err = runList(args)
	case "get":
		err = runGet(args)
	case "generate":
		err = runGenerate(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "specforgectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: specforgectl <command> [flags]

commands:
  health                                   check server health
  list                                     list registered generators
  get <generator-id>                       fetch one generator's manifest
  generate -generator <id> -spec-file <f>  run a generation request`)
}

func defaultHost() string {
	if h := os.Getenv("CODEGEN_HOST"); h != "" {
		return h
	}
	return "http://localhost:3000"
}

func newClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	host := fs.String("host", defaultHost(), "specforge server address")
	fs.Parse(args)

	return getJSON(*host+"/health", os.Stdout)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	host := fs.String("host", defaultHost(), "specforge server address")
	fs.Parse(args)

	return getJSON(*host+"/api/generators", os.Stdout)
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	host := fs.String("host", defaultHost(), "specforge server address")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: specforgectl get <generator-id>")
	}
	id := fs.Arg(0)

	return getJSON(*host+"/api/generators/"+id, os.Stdout)
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	host := fs.String("host", defaultHost(), "specforge server address")
	generatorID := fs.String("generator", "", "generator id (required)")
	specFile := fs.String("spec-file", "", "path to a JSON file holding the spec (required)")
	tenant := fs.String("tenant", "", "tenant id (default: \"default\")")
	fs.Parse(args)

	if *generatorID == "" || *specFile == "" {
		return fmt.Errorf("usage: specforgectl generate -generator <id> -spec-file <path> [-tenant <id>]")
	}

	specBytes, err := os.ReadFile(*specFile)
	if err != nil {
		return fmt.Errorf("reading spec file: %w", err)
	}
	var spec any
	if err := json.Unmarshal(specBytes, &spec); err != nil {
		return fmt.Errorf("parsing spec file as JSON: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"generatorId": *generatorID,
		"spec":        spec,
		"tenantId":    *tenant,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	resp, err := newClient().Post(*host+"/api/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("requesting generate: %w", err)
	}
	defer resp.Body.Close()

	return printResponse(resp, os.Stdout)
}

func getJSON(url string, w io.Writer) error {
	resp, err := newClient().Get(url)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	return printResponse(resp, w)
}

func printResponse(resp *http.Response, w io.Writer) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Fprintln(w, string(raw))
	} else {
		fmt.Fprintln(w, pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
