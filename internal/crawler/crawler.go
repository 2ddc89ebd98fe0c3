package crawler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// maxTextLen caps element text reported to the planner
const maxTextLen = 100

// Options configures the browser
type Options struct {
	Width       int
	Height      int
	Headless    bool
	LoadTimeout time.Duration
	ProfileDir  string // Chrome/Chromium profile directory for authenticated sessions
}

// Browser wraps a rod browser and its single page. It implements Surface
// and executor.Navigator; all DOM access goes through the one page.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	logger  *zap.Logger
}

var _ Surface = (*Browser)(nil)

// Open launches a browser, loads url and waits for tagged elements to render
func Open(ctx context.Context, rawURL string, opts Options, logger *zap.Logger) (*Browser, error) {
	if opts.LoadTimeout == 0 {
		opts.LoadTimeout = 30 * time.Second
	}

	path, _ := launcher.LookPath()
	l := launcher.New().Bin(path).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b := &Browser{browser: browser, opts: opts, logger: logger.Named("browser")}

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	b.page = page

	if opts.Width > 0 && opts.Height > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	if err := page.Timeout(opts.LoadTimeout).WaitLoad(); err != nil {
		b.Close()
		return nil, fmt.Errorf("page did not load: %w", err)
	}

	// Don't hang on persistent connections (WebSockets, polling, etc.)
	page.Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	// SPAs need time to download bundles and hydrate before markers appear.
	b.waitForTaggedElements(5 * time.Second)

	b.logger.Debug("page ready", zap.String("url", rawURL))
	return b, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
}

// Screen implements Surface
func (b *Browser) Screen(ctx context.Context) (string, error) {
	res, err := b.page.Context(ctx).Eval(`(attr) => {
		const el = document.querySelector('[' + attr + ']');
		return el ? (el.getAttribute(attr) || '') : '';
	}`, AttrScreen)
	if err != nil {
		return "", fmt.Errorf("failed to read screen marker: %w", err)
	}
	return res.Value.Str(), nil
}

// Elements implements Surface
func (b *Browser) Elements(ctx context.Context) ([]RawElement, error) {
	res, err := b.page.Context(ctx).Eval(`(idAttr, roleAttr) => {
		return Array.from(document.querySelectorAll('[' + idAttr + ']')).map(el => {
			const r = el.getBoundingClientRect();
			const value = ('value' in el && typeof el.value === 'string') ? el.value : '';
			return {
				id: el.getAttribute(idAttr) || '',
				role: el.getAttribute(roleAttr) || '',
				text: (el.innerText || el.textContent || el.getAttribute('aria-label') || '').trim(),
				value: value,
				width: r.width,
				height: r.height,
				disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true'
			};
		});
	}`, AttrID, AttrRole)
	if err != nil {
		return nil, fmt.Errorf("failed to extract elements: %w", err)
	}

	var out []RawElement
	for _, v := range res.Value.Arr() {
		out = append(out, RawElement{
			ID:       v.Get("id").Str(),
			Role:     v.Get("role").Str(),
			Text:     truncate(v.Get("text").Str(), maxTextLen),
			Value:    v.Get("value").Str(),
			Width:    v.Get("width").Num(),
			Height:   v.Get("height").Num(),
			Disabled: v.Get("disabled").Bool(),
		})
	}
	return out, nil
}

// Find implements Surface
func (b *Browser) Find(ctx context.Context, id string) (Handle, bool, error) {
	els, err := b.page.Context(ctx).Elements(idSelector(id))
	if err != nil {
		return nil, false, fmt.Errorf("failed to query element %q: %w", id, err)
	}
	if len(els) == 0 {
		return nil, false, nil
	}
	if len(els) > 1 {
		b.logger.Debug("duplicate element id, acting on first match", zap.String("id", id), zap.Int("matches", len(els)))
	}
	return &rodHandle{el: els[0].Context(ctx)}, true, nil
}

// Navigate performs a client-side navigation to target. Same-origin paths go
// through the history API so SPA routers pick them up without a reload.
func (b *Browser) Navigate(ctx context.Context, target string) error {
	page := b.page.Context(ctx)

	info, err := page.Info()
	if err != nil {
		return fmt.Errorf("failed to read page info: %w", err)
	}
	dest, sameOrigin, err := resolveTarget(info.URL, target)
	if err != nil {
		return err
	}

	if !sameOrigin {
		if err := page.Navigate(dest); err != nil {
			return fmt.Errorf("failed to navigate to %s: %w", dest, err)
		}
		return page.Timeout(b.opts.LoadTimeout).WaitLoad()
	}

	_, err = page.Eval(`(to) => {
		window.history.pushState({}, '', to);
		window.dispatchEvent(new PopStateEvent('popstate', { state: {} }));
	}`, dest)
	if err != nil {
		return fmt.Errorf("client-side navigation to %s failed: %w", dest, err)
	}
	return nil
}

// Screenshot captures the viewport as an image
func (b *Browser) Screenshot(ctx context.Context) (image.Image, error) {
	data, err := b.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ElementCenter returns the viewport center of the first element tagged id
func (b *Browser) ElementCenter(ctx context.Context, id string) (x, y int, ok bool) {
	els, err := b.page.Context(ctx).Elements(idSelector(id))
	if err != nil || len(els) == 0 {
		return 0, 0, false
	}

	box, err := els[0].Shape()
	if err != nil || len(box.Quads) == 0 {
		return 0, 0, false
	}

	quad := box.Quads[0]
	centerX := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	centerY := (quad[1] + quad[3] + quad[5] + quad[7]) / 4
	return int(centerX), int(centerY), true
}

// waitForTaggedElements polls until tagged elements appear or timeout
func (b *Browser) waitForTaggedElements(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	checkInterval := 200 * time.Millisecond

	for time.Now().Before(deadline) {
		res, err := b.page.Eval(`(attr) => document.querySelectorAll('[' + attr + ']').length`, AttrID)
		if err == nil && res.Value.Int() > 0 {
			return
		}
		time.Sleep(checkInterval)
	}
	b.logger.Warn("no tagged elements rendered before timeout", zap.Duration("timeout", timeout))
}

type rodHandle struct {
	el *rod.Element
}

func (h *rodHandle) Click(ctx context.Context) error {
	_, err := h.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func (h *rodHandle) IsTextInput(ctx context.Context) (bool, error) {
	res, err := h.el.Context(ctx).Eval(`() => {
		if (this.isContentEditable) return true;
		const tag = this.tagName.toLowerCase();
		if (tag === 'textarea') return true;
		if (tag !== 'input') return false;
		const type = (this.getAttribute('type') || 'text').toLowerCase();
		return ['text', 'email', 'password', 'search', 'tel', 'url', 'number',
			'date', 'datetime-local', 'month', 'time', 'week'].includes(type);
	}`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (h *rodHandle) SetValue(ctx context.Context, value string) error {
	// The native setter is used so framework-managed inputs see the change.
	_, err := h.el.Context(ctx).Eval(`(v) => {
		if (this.isContentEditable) {
			this.textContent = v;
		} else {
			const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
			const desc = Object.getOwnPropertyDescriptor(proto, 'value');
			if (desc && desc.set) { desc.set.call(this, v); } else { this.value = v; }
		}
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	return err
}

// idSelector builds an attribute selector matching a tagged id exactly
func idSelector(id string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(id)
	return fmt.Sprintf(`[%s="%s"]`, AttrID, escaped)
}

// resolveTarget resolves target against the current page URL and reports
// whether the result shares the page's origin
func resolveTarget(current, target string) (string, bool, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", false, fmt.Errorf("invalid current url %q: %w", current, err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", false, fmt.Errorf("invalid navigation target %q: %w", target, err)
	}
	dest := base.ResolveReference(ref)
	if dest.Scheme == base.Scheme && dest.Host == base.Host {
		return dest.RequestURI(), true, nil
	}
	return dest.String(), false, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
