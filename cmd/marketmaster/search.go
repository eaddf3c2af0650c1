package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/app"
	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/search"
)

// copyLink writes the shareable page URL to the system clipboard.
var copyLink = clipboard.WriteAll

type searchOptions struct {
	lang     string
	copyLink bool
}

func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search [keyword]",
		Short: "Search listings for a keyword",
		Long: `Validates, translates and looks up a keyword. When the backend has no
listings yet it schedules a crawl; the keyword is then kept as pending and
the notification channel is opened for this session.

Without a keyword the search carried by --url is run.`,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			return runSearch(cmd, args, a, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.lang, "lang", "", "language the keyword is written in (default search.display_language)")
	cmd.Flags().BoolVar(&opts.copyLink, "copy-link", false, "copy the shareable search URL to the clipboard")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string, a *app.App, opts *searchOptions) error {
	keyword := strings.Join(args, " ")
	if keyword == "" {
		if !a.Search.Mount() {
			return errors.New("no keyword given and the search URL carries none")
		}
	} else {
		a.Search.Search(keyword, opts.lang, true)
	}
	if err := a.Search.Await(cmd.Context()); err != nil {
		return err
	}

	st := a.Search.State()
	out := cmd.OutOrStdout()
	switch st.Phase {
	case search.PhaseDisplaying:
		if err := printProducts(out, st.Products); err != nil {
			return err
		}
	case search.PhaseAwaitingCrawl:
		// The notice itself is printed by the event sink.
		a.Logger.Debug("crawl scheduled", zap.String("keyword", st.Keyword))
	case search.PhaseFailed:
		return fmt.Errorf("search %q: %w", st.Keyword, st.Err)
	}

	if opts.copyLink {
		link := a.Location.String()
		if err := copyLink(link); err != nil {
			a.Logger.Warn("copy link to clipboard", zap.Error(err))
			fmt.Fprintln(out, link)
		} else {
			fmt.Fprintf(out, "link copied: %s\n", link)
		}
	}
	return nil
}

func printProducts(w io.Writer, products []market.Product) error {
	if len(products) == 0 {
		_, err := fmt.Fprintln(w, "no products found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tRATING\tREVIEWS")
	for _, p := range products {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Title, p.Price, p.Rating, p.ReviewCount)
	}
	return tw.Flush()
}
