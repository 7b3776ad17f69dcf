package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LiamSnow/liamsnow.com/internal/config"
	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/route"
	"github.com/LiamSnow/liamsnow.com/internal/site"
	"github.com/LiamSnow/liamsnow.com/internal/table"
)

var buildFast bool

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the site once and print the route table",
	Long: `Build every artifact, compile it into its serving buffers and print one
line per route. Exits non-zero if any artifact fails, listing each failure.

Examples:
  liamsnow-com build
  liamsnow-com build --build-command "make site"
  liamsnow-com build --fast   # skip compression`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildFast, "fast", false, "Skip brotli compression")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	pipeline := site.NewPipeline(newBuilder(cfg), table.NewStore(), logger)
	t, err := pipeline.Compile(cmd.Context(), buildFast)
	if err != nil {
		errs := siteerrors.Flatten(err)
		for _, e := range errs {
			label := "error:"
			if siteerrors.IsBuildError(e) {
				label = "build error:"
			}
			fmt.Fprintln(cmd.ErrOrStderr(), label, e)
		}
		return fmt.Errorf("build failed with %d error(s)", len(errs))
	}

	return printRoutes(cmd.OutOrStdout(), t)
}

func printRoutes(out io.Writer, t *table.Table) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tIDENTITY\tBROTLI\tETAG")

	var identity, compressed int
	for _, url := range t.URLs() {
		r, _ := t.Lookup(url)
		body := len(route.Body(r.Identity))
		br := len(route.Body(r.Brotli))
		identity += body
		compressed += br
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", url, body, br, r.ETag)
	}

	fmt.Fprintf(w, "%d routes\t%d\t%d\t\n", t.Len(), identity, compressed)
	return w.Flush()
}
