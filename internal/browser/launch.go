// internal/browser/launch.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/librus-sync/internal/config"
)

// launchFlag is a single Chrome command line switch. Value is either a bool
// (presence) or a string.
type launchFlag struct {
	Name  string
	Value interface{}
}

// launchFlags builds the Chrome switches for the configured browser. Kept as
// plain data so the launch profile can be inspected without starting Chrome.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := []launchFlag{
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"no-sandbox", true},
		{"disable-setuid-sandbox", true},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-dev-shm-usage", true},
		{"disable-gpu", true},
		{"disable-background-networking", true},
		{"disable-extensions", true},
		{"mute-audio", true},
		{"headless", cfg.Headless},
	}
	if cfg.Headless {
		flags = append(flags, launchFlag{"hide-scrollbars", true})
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags = append(flags, launchFlag{"window-size", windowSize(cfg.Viewport)})
	}
	if cfg.UserAgent != "" {
		flags = append(flags, launchFlag{"user-agent", cfg.UserAgent})
	}
	if cfg.Locale != "" {
		flags = append(flags, launchFlag{"lang", cfg.Locale})
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags, launchFlag{"ignore-certificate-errors", true})
	}

	// Additional switches from config; key=value pairs keep their value.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			flags = append(flags, launchFlag{key, value})
		} else {
			flags = append(flags, launchFlag{arg, true})
		}
	}
	return flags
}

func windowSize(v config.ViewportConfig) string {
	return fmt.Sprintf("%d,%d", v.Width, v.Height)
}

// allocatorOptions converts the launch profile into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig, userDataDir string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{}
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(userDataDir))
	}
	return opts
}
