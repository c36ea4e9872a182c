package toolset

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// BrowserNavigateTool loads a URL and returns the resulting page title and
// a text excerpt.
type BrowserNavigateTool struct {
	Manager *BrowserManager
}

func (t *BrowserNavigateTool) Name() string { return "browser_navigate" }
func (t *BrowserNavigateTool) Description() string {
	return "Navigate the browser to a URL and return page title and text"
}
func (t *BrowserNavigateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to navigate to"},
		},
		"required": []string{"url"},
	}
}

func (t *BrowserNavigateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	page, err := t.Manager.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_ = page.Context(waitCtx).WaitLoad() // best-effort; page may be usable even if this times out

	title := ""
	if res, err := page.Eval(`() => document.title`); err == nil && res != nil {
		title = res.Value.String()
	}
	text := ""
	if res, err := page.Eval(`() => document.body ? document.body.innerText : ""`); err == nil && res != nil {
		text = res.Value.String()
	}
	if len(text) > 2000 {
		text = text[:2000]
	}

	return map[string]any{"title": title, "text": text}, nil
}

// BrowserScreenshotTool captures the current page as a base64-encoded PNG.
type BrowserScreenshotTool struct {
	Manager *BrowserManager
}

func (t *BrowserScreenshotTool) Name() string        { return "browser_screenshot" }
func (t *BrowserScreenshotTool) Description() string { return "Take a screenshot of the current browser page" }
func (t *BrowserScreenshotTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *BrowserScreenshotTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	page, err := t.Manager.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}
	png, err := page.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return map[string]any{"image_base64": base64.StdEncoding.EncodeToString(png)}, nil
}

// BrowserClickTool clicks an element by CSS selector.
type BrowserClickTool struct {
	Manager *BrowserManager
}

func (t *BrowserClickTool) Name() string { return "browser_click" }
func (t *BrowserClickTool) Description() string {
	return "Click an element on the current browser page by CSS selector"
}
func (t *BrowserClickTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selector": map[string]any{"type": "string", "description": "CSS selector of element to click"},
		},
		"required": []string{"selector"},
	}
}

func (t *BrowserClickTool) Execute(_ context.Context, args map[string]any) (any, error) {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}

	page, err := t.Manager.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}
	el, err := page.Element(selector)
	if err != nil {
		return map[string]any{"success": false, "error": fmt.Sprintf("element not found: %v", err)}, nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true}, nil
}

// BrowserExtractTool extracts text and HTML from elements matching a CSS
// selector.
type BrowserExtractTool struct {
	Manager *BrowserManager
}

func (t *BrowserExtractTool) Name() string { return "browser_extract" }
func (t *BrowserExtractTool) Description() string {
	return "Extract text and HTML from elements matching a CSS selector"
}
func (t *BrowserExtractTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selector": map[string]any{"type": "string", "description": "CSS selector to extract elements from"},
		},
		"required": []string{"selector"},
	}
}

func (t *BrowserExtractTool) Execute(_ context.Context, args map[string]any) (any, error) {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}

	page, err := t.Manager.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}
	els, err := page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}

	elements := make([]map[string]any, 0, len(els))
	for _, el := range els {
		text, _ := el.Text()
		html, _ := el.HTML()
		elements = append(elements, map[string]any{"text": strings.TrimSpace(text), "html": html})
	}
	return map[string]any{"elements": elements}, nil
}

// BrowserFillTool fills a form input identified by a CSS selector.
type BrowserFillTool struct {
	Manager *BrowserManager
}

func (t *BrowserFillTool) Name() string        { return "browser_fill" }
func (t *BrowserFillTool) Description() string { return "Fill an input element on the current browser page" }
func (t *BrowserFillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selector": map[string]any{"type": "string", "description": "CSS selector of the input element"},
			"value":    map[string]any{"type": "string", "description": "Value to fill in"},
		},
		"required": []string{"selector", "value"},
	}
}

func (t *BrowserFillTool) Execute(_ context.Context, args map[string]any) (any, error) {
	selector, _ := args["selector"].(string)
	value, _ := args["value"].(string)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}

	page, err := t.Manager.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}
	el, err := page.Element(selector)
	if err != nil {
		return map[string]any{"success": false, "error": fmt.Sprintf("element not found: %v", err)}, nil
	}
	if err := el.Input(value); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true}, nil
}
