package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) renderCmd() *cobra.Command {
	var (
		sets   []string
		output string
		jobs   int
	)
	cmd := &cobra.Command{
		Use:   "render [flags] TEMPLATE...",
		Short: "Render templates with data files and --set values",
		Long: `Render each TEMPLATE ("-" reads standard input) with the merged data
files and --set key=value assignments. Values are parsed as YAML scalars and
dotted keys build nested mappings.

With one template, -o names the output file. With several, -o names a
directory that receives one file per template.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.data(sets)
			if err != nil {
				return err
			}

			outs := make([]bytes.Buffer, len(args))
			var g errgroup.Group
			g.SetLimit(max(jobs, 1))
			for i, path := range args {
				g.Go(func() error {
					tmpl, err := a.compile(path)
					if err != nil {
						return err
					}
					if err := tmpl.Render(&outs[i], data); err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			a.logger.Debug("rendered templates", "count", len(args))
			return a.write(args, outs, output)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a variable (key=value, repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, or directory for several templates")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "templates rendered in parallel")
	return cmd
}

func (a *app) write(args []string, outs []bytes.Buffer, output string) error {
	switch {
	case output == "":
		for i := range outs {
			if _, err := outs[i].WriteTo(a.stdout); err != nil {
				return err
			}
		}
		return nil
	case len(args) == 1 && !strings.HasSuffix(output, string(os.PathSeparator)):
		return os.WriteFile(output, outs[0].Bytes(), 0o644)
	}
	names, err := outputNames(args)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return err
	}
	for i, name := range names {
		if err := os.WriteFile(filepath.Join(output, name), outs[i].Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// outputNames maps each template to its file name in the output directory.
// Two templates may not share one.
func outputNames(args []string) ([]string, error) {
	names := make([]string, len(args))
	seen := make(map[string]string, len(args))
	for i, path := range args {
		name := filepath.Base(path)
		if path == "-" {
			name = "stdin.html"
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%s and %s would both be written to %s", prev, path, name)
		}
		seen[name] = path
		names[i] = name
	}
	return names, nil
}
