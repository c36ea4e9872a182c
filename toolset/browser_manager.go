package toolset

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserManager owns a single lazily-started headless browser page shared
// by every browser_* tool registered with it, across all runs, until Close.
type BrowserManager struct {
	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	headless bool
}

// NewBrowserManager returns a manager whose browser isn't launched until
// Page is first called.
func NewBrowserManager(headless bool) *BrowserManager {
	return &BrowserManager{headless: headless}
}

// Available checks whether a Chrome/Chromium binary can be found, without
// launching it.
func (bm *BrowserManager) Available() bool {
	if _, has := launcher.LookPath(); has {
		return true
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil && p != "" {
			return true
		}
	}
	return false
}

// Page returns the shared page, launching the browser and opening a blank
// tab on first use.
func (bm *BrowserManager) Page() (*rod.Page, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if bm.page != nil {
		return bm.page, nil
	}

	if bm.browser == nil {
		l := launcher.New().Headless(bm.headless)
		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("connect to browser: %w", err)
		}
		bm.browser = browser
	}

	page, err := bm.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	bm.page = page
	return page, nil
}

// Close closes the page and browser, if started.
func (bm *BrowserManager) Close() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if bm.page != nil {
		_ = bm.page.Close()
		bm.page = nil
	}
	if bm.browser != nil {
		err := bm.browser.Close()
		bm.browser = nil
		return err
	}
	return nil
}
