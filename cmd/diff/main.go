package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/lychee-technology/registra"
)

// diff compares two schema document files and prints the compatibility
// report. Exit status 0 means no breaking changes, 1 means breaking, 2 means
// the inputs could not be read.

func main() {
	var pretty bool
	flag.BoolVar(&pretty, "pretty", true, "indent the JSON report")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [-pretty] <baseline.json> <candidate.json>\n", os.Args[0])
		os.Exit(2)
	}

	baseline, err := loadDocument(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "baseline: %v\n", err)
		os.Exit(2)
	}
	candidate, err := loadDocument(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidate: %v\n", err)
		os.Exit(2)
	}

	report := registra.Diff(baseline, candidate)

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(map[string]any{
		"report": report,
		"class":  report.Classify(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
		os.Exit(2)
	}

	if report.IsBreaking {
		os.Exit(1)
	}
}

func loadDocument(path string) (*registra.SchemaDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := registra.ParseSchemaDocument(data)
	if err != nil {
		return nil, err
	}
	if err := registra.ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
