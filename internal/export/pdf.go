package export

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfTimeout = 30 * time.Second

// Boards render one column per lane, so the sheet is A3 landscape.
const (
	sheetWidthIn  = 16.54
	sheetHeightIn = 11.69
	sheetMarginIn = 0.4
)

var chromeBinaries = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}

func findChrome() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chrome or chromium binary on PATH", ErrPDFDependencyMissing)
}

// renderPDF prints the board page with headless Chrome.
func renderPDF(ctx context.Context, html, title string) (*Result, error) {
	chrome, err := findChrome()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chrome),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var data []byte
	printPage := chromedp.ActionFunc(func(ctx context.Context) error {
		out, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithLandscape(true).
			WithPaperWidth(sheetWidthIn).
			WithPaperHeight(sheetHeightIn).
			WithMarginTop(sheetMarginIn).
			WithMarginBottom(sheetMarginIn).
			WithMarginLeft(sheetMarginIn).
			WithMarginRight(sheetMarginIn).
			WithPreferCSSPageSize(false).
			Do(ctx)
		data = out
		return err
	})

	// Data URLs do not decode '+' as a space, so url.QueryEscape is unusable here.
	target := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)
	if err := chromedp.Run(browserCtx, chromedp.Navigate(target), chromedp.WaitReady("body"), printPage); err != nil {
		return nil, fmt.Errorf("print board pdf: %w", err)
	}

	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
