package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sitepipe/internal/core"
)

const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Action is what an invocation asks for.
type Action string

const (
	ActionPipeline Action = "pipeline"
	ActionStage    Action = "stage"
	ActionVersion  Action = "version"
	ActionHelp     Action = "help"
)

type TraceConfig struct {
	Enabled bool
	Path    string
}

// CLIInvocation is the canonical description of a run. WorkDir is absolute;
// a relative trace path is resolved against it.
type CLIInvocation struct {
	Action   Action
	WorkDir  string
	Variant  core.Variant
	Category core.Category
	Verbose  bool
	Trace    TraceConfig
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

type flags struct {
	workDir string
	verbose bool
	trace   string
}

// newRootCommand builds the command tree. Commands only record what was
// asked for in inv; nothing runs during parsing.
func newRootCommand(inv *CLIInvocation, f *flags, out io.Writer) *cobra.Command {
	pipeline := func(v core.Variant) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			inv.Action = ActionPipeline
			inv.Variant = v
			return nil
		}
	}

	root := &cobra.Command{
		Use:           "sitepipe",
		Short:         "Static-site asset pipeline with a live-reloading dev server",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          pipeline(core.VariantPreview),
	}
	root.SetOut(out)
	root.SetErr(out)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&f.workDir, "workdir", ".", "Project root containing package.json")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&f.trace, "trace", "", "Write the canonical run trace to this path")

	root.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Build the preview site, serve it and rebuild on change",
		Args:  cobra.NoArgs,
		RunE:  pipeline(core.VariantPreview),
	})
	root.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build the minified site, serve it and rebuild on change",
		Args:  cobra.NoArgs,
		RunE:  pipeline(core.VariantBuild),
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			inv.Action = ActionVersion
			return nil
		},
	})

	for _, cat := range core.AllCategories() {
		for _, v := range core.AllVariants() {
			root.AddCommand(stageCommand(inv, cat, v))
		}
	}
	return root
}

func stageCommand(inv *CLIInvocation, cat core.Category, v core.Variant) *cobra.Command {
	use := string(cat)
	if v == core.VariantBuild {
		use += "-build"
	}
	cmd := &cobra.Command{
		Use:     use,
		Short:   fmt.Sprintf("Run the %s stage of the %s variant once", cat, v),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			inv.Action = ActionStage
			inv.Variant = v
			inv.Category = cat
			return nil
		},
	}
	for _, alias := range categoryAliases[cat] {
		if v == core.VariantBuild {
			alias += "-build"
		}
		cmd.Aliases = append(cmd.Aliases, alias)
	}
	return cmd
}

// categoryAliases names stage commands after the tool or shorthand a user
// may know them by.
var categoryAliases = map[core.Category][]string{
	core.CategoryMiscellaneous: {"misc"},
	core.CategoryStyles:        {"sass"},
	core.CategoryTemplates:     {"gohtml"},
	core.CategoryScripts:       {"js"},
	core.CategoryImages:        {"img"},
}

// ParseInvocation parses CLI arguments into a canonical CLIInvocation. Help
// output, if requested, goes to out.
func ParseInvocation(args []string, out io.Writer) (CLIInvocation, error) {
	var inv CLIInvocation
	var f flags
	root := newRootCommand(&inv, &f, out)
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		var invErr *InvocationError
		if errors.As(err, &invErr) {
			return CLIInvocation{}, err
		}
		return CLIInvocation{}, invalidInvocationf("%v", err)
	}
	if inv.Action == "" {
		// --help or a bare help command ran.
		inv.Action = ActionHelp
		return inv, nil
	}

	workDir, err := filepath.Abs(filepath.Clean(f.workDir))
	if err != nil {
		return CLIInvocation{}, invalidInvocationf("--workdir: %v", err)
	}
	inv.WorkDir = workDir
	inv.Verbose = f.verbose

	if strings.TrimSpace(f.trace) != "" {
		resolved, err := resolveUnderWorkDir(workDir, f.trace)
		if err != nil {
			return CLIInvocation{}, err
		}
		inv.Trace = TraceConfig{Enabled: true, Path: resolved}
	}
	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode maps an error to its semantic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch {
	case errors.Is(err, core.ErrConfiguration):
		return ExitConfigError
	case errors.Is(err, core.ErrCleanup), errors.Is(err, core.ErrServerBind),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitPipelineFailure
	default:
		return ExitInternalError
	}
}
