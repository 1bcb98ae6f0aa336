package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oarkflow/synth"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		sets   []string
		output string
		exts   []string
	)
	cmd := &cobra.Command{
		Use:   "watch [flags] DIR",
		Short: "Recompile templates in DIR as they change",
		Long: `Watch DIR for template changes. Every successful recompile is rendered
into the -o directory, or only reported when -o is not given. A template that
stops compiling keeps its last good output. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.data(sets)
			if err != nil {
				return err
			}
			if output != "" {
				if filepath.Clean(output) == filepath.Clean(args[0]) {
					return fmt.Errorf("output directory must differ from the watched directory")
				}
				if err := os.MkdirAll(output, 0o755); err != nil {
					return err
				}
			}

			rm, err := synth.NewReloadManager(a.options()...)
			if err != nil {
				return err
			}
			defer rm.Stop()

			w := &watcher{app: a, data: data, output: output}
			if err := rm.WatchDirectory(args[0], exts...); err != nil {
				return err
			}
			for _, file := range rm.Watched() {
				tmpl, err := rm.GetTemplate(file)
				w.reloaded(file, tmpl, err)
			}
			rm.AddCallback(w.reloaded)
			rm.Start()
			a.logger.Info("watching templates", "dir", args[0], "files", len(rm.Watched()))

			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a variable (key=value, repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory receiving rendered output")
	cmd.Flags().StringSliceVar(&exts, "ext", synth.DefaultExtensions, "template extensions to watch")
	return cmd
}

type watcher struct {
	*app
	data   map[string]any
	output string
}

func (w *watcher) reloaded(file string, tmpl *synth.Template, err error) {
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.logger.Info("template removed", "file", file)
		if w.output != "" {
			_ = os.Remove(filepath.Join(w.output, filepath.Base(file)))
		}
		return
	case err != nil:
		fmt.Fprintf(w.stderr, "%s %s: %v\n", fail("FAIL"), file, err)
		return
	}
	if err := w.render(file, tmpl); err != nil {
		fmt.Fprintf(w.stderr, "%s %s: %v\n", fail("FAIL"), file, err)
		return
	}
	w.logger.Info("template rendered", "file", file)
}

func (w *watcher) render(file string, tmpl *synth.Template) error {
	if w.output == "" {
		return tmpl.RenderToDiscard(w.data)
	}
	b, err := tmpl.RenderToBytes(w.data)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.output, filepath.Base(file)), b, 0o644)
}
