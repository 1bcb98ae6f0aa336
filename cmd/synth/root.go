package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/oarkflow/synth"
	"github.com/oarkflow/synth/internal/config"
	"github.com/oarkflow/synth/internal/datafile"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.New(), stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "synth",
		Short: "Render Django, SSI and HTML::Template templates",
		Long: `synth compiles and renders templates in three dialects through one kernel.

The dialect follows the file extension (.shtml is SSI, .tmpl is HTML::Template,
anything else Django) unless --dialect is given.

Configuration comes from flags, SYNTH_* environment variables and .synth.yaml.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is .synth.yaml, can also use SYNTH_CONFIG_FILE)")
	flags.String("dialect", "", "template dialect: django, ssi or tmpl")
	flags.StringSliceP("dir", "I", nil, "template directories searched by include and extends")
	flags.Bool("autoescape", true, "HTML-escape variable output")
	flags.Int("max-depth", 0, "maximum include and extends nesting (0 for the default)")
	flags.Bool("allow-exec", false, "enable the SSI exec directive")
	flags.StringSliceP("data", "d", nil, "YAML, TOML, JSON or msgpack data files")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("color", "auto", "colorize output (auto|on|off)")

	for key, flag := range map[string]string{
		"dialect":     "dialect",
		"directories": "dir",
		"max_depth":   "max-depth",
		"allow_exec":  "allow-exec",
		"data":        "data",
		"log.level":   "log-level",
		"log.format":  "log-format",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(a.renderCmd(), a.checkCmd(), a.watchCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	// Autoescape has no default so each dialect keeps its own; only an
	// explicit flag overrides it.
	if cmd.Flags().Changed("autoescape") {
		on, _ := cmd.Flags().GetBool("autoescape")
		a.v.Set("autoescape", on)
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logger(a.stderr)

	mode, _ := cmd.Flags().GetString("color")
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		f, ok := a.stdout.(*os.File)
		color.NoColor = !ok || !term.IsTerminal(int(f.Fd()))
	default:
		return fmt.Errorf("unknown color mode %q", mode)
	}
	return nil
}

func (a *app) options() []synth.Option {
	return a.cfg.Options(a.logger)
}

// data merges the configured data files with --set assignments.
func (a *app) data(assignments []string) (map[string]any, error) {
	data, err := datafile.LoadAll(a.cfg.Data...)
	if err != nil {
		return nil, err
	}
	set, err := datafile.ParseAssignments(assignments)
	if err != nil {
		return nil, err
	}
	datafile.Merge(data, set)
	return data, nil
}

// compile reads a template file, or stdin for "-".
func (a *app) compile(path string) (*synth.Template, error) {
	if path != "-" {
		return synth.CompileFile(path, a.options()...)
	}
	src, err := io.ReadAll(a.stdin)
	if err != nil {
		return nil, err
	}
	return synth.Compile(string(src), a.options()...)
}
