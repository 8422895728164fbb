package pricing

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/normalize"
)

// EstimateRequest identifies the vehicle to value. Make and Model are
// mandatory; Year, Mileage and Zipcode refine the estimate when known.
type EstimateRequest struct {
	Make    string
	Model   string
	Year    *int
	Mileage *float64
	Zipcode string
}

// Estimate is a market value range for one vehicle.
type Estimate struct {
	MinPrice    float64   `json:"min_price"`
	AvgPrice    float64   `json:"avg_price"`
	MaxPrice    float64   `json:"max_price"`
	EstimatedAt time.Time `json:"estimated_at"`
}

// Estimator produces market value estimates.
type Estimator interface {
	Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error)
	Close() error
}

const (
	defaultEstimateURL = "https://www.autoscout24.be/fr/evaluer-votre-voiture/"
	defaultZipcode     = "1000"

	estimatorUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// Valuation pages render results client-side, so values are read from
// the live DOM through fallback chains like the mail extractor uses.
var (
	minPriceSelectors = []string{
		`[data-qa-selector="price-range-min"]`,
		`.price-range .min-price`,
		`.price-range span:first-child`,
	}
	avgPriceSelectors = []string{
		`[data-qa-selector="price-average"]`,
		`.price-average`,
		`.estimated-value`,
	}
	maxPriceSelectors = []string{
		`[data-qa-selector="price-range-max"]`,
		`.price-range .max-price`,
		`.price-range span:last-child`,
	}
)

// BrowserEstimator drives the public valuation form in headless Chrome.
// The browser starts lazily on first use and is reused across requests;
// each request gets its own tab and timeout.
type BrowserEstimator struct {
	estimateURL string
	execPath    string
	headless    bool
	timeout     time.Duration
	logger      zerolog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// BrowserOption customises a BrowserEstimator.
type BrowserOption func(*BrowserEstimator)

func WithEstimateURL(url string) BrowserOption {
	return func(e *BrowserEstimator) {
		if url != "" {
			e.estimateURL = url
		}
	}
}

func WithChromePath(path string) BrowserOption {
	return func(e *BrowserEstimator) { e.execPath = path }
}

func WithHeadless(headless bool) BrowserOption {
	return func(e *BrowserEstimator) { e.headless = headless }
}

func WithTimeout(timeout time.Duration) BrowserOption {
	return func(e *BrowserEstimator) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func NewBrowserEstimator(logger zerolog.Logger, opts ...BrowserOption) *BrowserEstimator {
	e := &BrowserEstimator{
		estimateURL: defaultEstimateURL,
		headless:    true,
		timeout:     90 * time.Second,
		logger:      logger.With().Str("component", "estimator").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *BrowserEstimator) ensureBrowser() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil && e.browserCtx.Err() == nil {
		return e.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(estimatorUserAgent),
	)
	if e.execPath != "" {
		opts = append(opts, chromedp.ExecPath(e.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Starting the browser here surfaces a missing Chrome binary on the
	// first request instead of deep inside the form flow.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, apperr.NewEstimation("browser", "starting headless Chrome", err)
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	return browserCtx, nil
}

func (e *BrowserEstimator) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	if req.Make == "" || req.Model == "" {
		return nil, apperr.NewValidation("estimator", "make and model are required for an estimate")
	}

	browserCtx, err := e.ensureBrowser()
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, e.timeout)
	defer cancelTimeout()

	// The caller's context governs cancellation of the whole request.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(e.estimateURL),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return nil, apperr.NewEstimation("browser", fmt.Sprintf("loading valuation page for %s %s", req.Make, req.Model), err)
	}

	e.acceptCookies(tabCtx)

	if err := e.fillForm(tabCtx, req); err != nil {
		return nil, err
	}

	if err := chromedp.Run(tabCtx,
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	); err != nil {
		return nil, apperr.NewEstimation("browser", "submitting valuation form", err)
	}

	estimate, err := e.readResult(tabCtx)
	if err != nil {
		return nil, err
	}
	e.logger.Debug().
		Str("make", req.Make).
		Str("model", req.Model).
		Float64("avg", estimate.AvgPrice).
		Float64("min", estimate.MinPrice).
		Float64("max", estimate.MaxPrice).
		Msg("Estimated vehicle value")
	return estimate, nil
}

// acceptCookies dismisses the consent banner when present. The banner
// only shows on fresh browser profiles, so failure is not an error.
func (e *BrowserEstimator) acceptCookies(ctx context.Context) {
	for _, sel := range []string{
		`#onetrust-accept-btn-handler`,
		`button.onetrust-accept-btn-handler`,
	} {
		clickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := chromedp.Run(clickCtx, chromedp.Click(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			_ = chromedp.Run(ctx, chromedp.Sleep(time.Second))
			return
		}
	}
	e.logger.Debug().Msg("No cookie banner found, continuing")
}

// fillForm walks the vehicle selection widgets. Make and model are
// search-as-you-type comboboxes where the first suggestion is taken.
func (e *BrowserEstimator) fillForm(ctx context.Context, req EstimateRequest) error {
	if err := e.selectCombobox(ctx, `[data-qa-selector="make-selector"]`, req.Make); err != nil {
		return apperr.NewEstimation("browser", fmt.Sprintf("selecting make %q", req.Make), err)
	}
	if err := e.selectCombobox(ctx, `[data-qa-selector="model-selector"]`, req.Model); err != nil {
		return apperr.NewEstimation("browser", fmt.Sprintf("selecting model %q", req.Model), err)
	}

	var actions []chromedp.Action
	if req.Year != nil {
		actions = append(actions, chromedp.SetValue(`select[name="year"]`, strconv.Itoa(*req.Year), chromedp.ByQuery))
	}
	if req.Mileage != nil {
		actions = append(actions, chromedp.SendKeys(`input[name="mileage"]`, strconv.Itoa(int(*req.Mileage)), chromedp.ByQuery))
	}
	zipcode := req.Zipcode
	if zipcode == "" {
		zipcode = defaultZipcode
	}
	actions = append(actions, chromedp.SendKeys(`input[name="zipcode"]`, zipcode, chromedp.ByQuery))

	for _, action := range actions {
		fieldCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := chromedp.Run(fieldCtx, action)
		cancel()
		if err != nil {
			// Optional refinement fields vary between page versions.
			e.logger.Debug().Err(err).Msg("Optional form field unavailable")
		}
	}
	return nil
}

func (e *BrowserEstimator) selectCombobox(ctx context.Context, selector, value string) error {
	fieldCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	return chromedp.Run(fieldCtx,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.SendKeys(`input[placeholder="Rechercher..."]`, value, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.Click(`li[role="option"]`, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
}

// readResult scrapes the rendered price range. A page that only exposes
// the average gets a ±10% range derived from it.
func (e *BrowserEstimator) readResult(ctx context.Context) (*Estimate, error) {
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(`[data-qa-selector="price-average"], .price-average, .estimated-value`, chromedp.ByQuery))
	cancel()
	if err != nil {
		return nil, apperr.NewEstimation("browser", "valuation result never appeared", err)
	}

	minVal := normalize.ParseNumber(e.textFromChain(ctx, minPriceSelectors))
	avgVal := normalize.ParseNumber(e.textFromChain(ctx, avgPriceSelectors))
	maxVal := normalize.ParseNumber(e.textFromChain(ctx, maxPriceSelectors))

	if avgVal == nil && minVal != nil && maxVal != nil {
		mid := (*minVal + *maxVal) / 2
		avgVal = &mid
	}
	if avgVal == nil {
		return nil, apperr.NewEstimation("browser", "no usable price in valuation result", nil)
	}
	if minVal == nil {
		low := *avgVal * 0.9
		minVal = &low
	}
	if maxVal == nil {
		high := *avgVal * 1.1
		maxVal = &high
	}

	return &Estimate{
		MinPrice:    *minVal,
		AvgPrice:    *avgVal,
		MaxPrice:    *maxVal,
		EstimatedAt: time.Now(),
	}, nil
}

func (e *BrowserEstimator) textFromChain(ctx context.Context, selectors []string) string {
	for _, sel := range selectors {
		textCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		var value string
		err := chromedp.Run(textCtx, chromedp.Text(sel, &value, chromedp.ByQuery))
		cancel()
		if err != nil {
			continue
		}
		if cleaned := normalize.CleanText(value); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

func (e *BrowserEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCancel != nil {
		e.browserCancel()
		e.browserCancel = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.browserCtx = nil
	return nil
}
