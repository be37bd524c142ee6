package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/revivr"
	"github.com/loykin/revivr/internal/config"
	"github.com/loykin/revivr/internal/logger"
)

var version = "dev"

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := 0
	root := createRootCommand(stdout, stderr, &code)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, logger.Tag, err)
		return 1
	}
	return code
}

// createRootCommand builds the single revivr command. Flag parsing is done by
// hand so that flags revivr does not know reach the dev server untouched.
func createRootCommand(stdout, stderr io.Writer, code *int) *cobra.Command {
	root := &cobra.Command{
		Use:   "revivr [script] [flags] [-- args]",
		Short: "Keep a JavaScript dev server alive through cache corruption and port conflicts",
		Long: `revivr runs a package.json script through your package manager, watches its
output, and restarts it when the build cache corrupts or the port is taken.

Examples:
  revivr                         # npm run dev
  revivr dev --turbo             # --turbo is passed to the script
  revivr start --port 4000 --no-clean
  REVIVR_DEBOUNCE=2s revivr`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			known, rest := splitArgs(fs, args)
			if err := fs.Parse(known); err != nil {
				return err
			}
			if help, _ := fs.GetBool("help"); help {
				return cmd.Help()
			}
			if v, _ := fs.GetBool("version"); v {
				_, err := fmt.Fprintln(stdout, "revivr", version)
				return err
			}

			v := config.New()
			if err := config.BindFlags(v, fs); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			c, err := revivr.Run(cmd.Context(), revivr.Options{
				Config: cfg,
				Args:   rest,
				Stdout: stdout,
				Stderr: stderr,
			})
			if err != nil {
				return err
			}
			*code = c
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	fs := root.Flags()
	config.AddFlags(fs)
	fs.BoolP("help", "h", false, "help for revivr")
	fs.Bool("version", false, "print the version")
	return root
}
