package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oarkflow/synth"
)

func (a *app) checkCmd() *cobra.Command {
	var exts []string
	cmd := &cobra.Command{
		Use:   "check [flags] PATH...",
		Short: "Compile templates and report syntax errors",
		Long: `Compile every template named on the command line. Directories are
searched recursively for files with one of the --ext extensions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collect(args, exts)
			if err != nil {
				return err
			}
			ok := color.New(color.FgGreen, color.Bold).SprintFunc()
			fail := color.New(color.FgRed, color.Bold).SprintFunc()

			failed := 0
			for _, file := range files {
				if _, err := a.compile(file); err != nil {
					failed++
					fmt.Fprintf(a.stdout, "%s %s: %v\n", fail("FAIL"), file, err)
					continue
				}
				fmt.Fprintf(a.stdout, "%s   %s\n", ok("ok"), file)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d templates failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&exts, "ext", synth.DefaultExtensions, "template extensions searched in directories")
	return cmd
}

// collect expands directories into the template files below them.
func collect(paths, exts []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		if path == "-" {
			files = append(files, path)
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && slices.ContainsFunc(exts, func(ext string) bool {
				return strings.HasSuffix(p, ext)
			}) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
