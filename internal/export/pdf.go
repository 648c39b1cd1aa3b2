package export

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/gosimple/slug"
)

const pdfTimeout = 30 * time.Second

// browserCandidates are tried in order when locating a headless browser.
var browserCandidates = []string{"chromium", "chromium-browser", "google-chrome", "headless-shell"}

var lookPath = exec.LookPath

func findBrowser() (string, error) {
	for _, name := range browserCandidates {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium binary on PATH", ErrPDFDependencyMissing)
}

// Boards are wider than they are tall, so pages print landscape on US letter.
func printBoard(ctx context.Context, out *[]byte) error {
	data, _, err := page.PrintToPDF().
		WithPrintBackground(true).
		WithLandscape(true).
		WithPaperWidth(11).
		WithPaperHeight(8.5).
		WithMarginTop(0.4).
		WithMarginBottom(0.4).
		WithMarginLeft(0.4).
		WithMarginRight(0.4).
		Do(ctx)
	*out = data
	return err
}

// renderPDF loads html into a blank headless tab and prints it.
func renderPDF(ctx context.Context, html string) ([]byte, error) {
	browser, err := findBrowser()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browser),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady(".lists", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return printBoard(ctx, &pdf)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print board pdf: %w", err)
	}
	return pdf, nil
}

// exportFilename names a download after the board slug, falling back to a
// slug of the title.
func exportFilename(board Board, format Format) string {
	name := board.Slug
	if name == "" {
		name = slug.Make(board.Title)
	}
	if name == "" {
		name = "board"
	}
	return name + "." + string(format)
}
