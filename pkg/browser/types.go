package browser

// BrowserError is a coded browser failure.
type BrowserError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *BrowserError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	ErrCodeNavigation         = "NAVIGATION_ERROR"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeBrowserCrash       = "BROWSER_CRASH"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
)

// KnownPaths are the system locations probed for a Chromium-family binary.
var KnownPaths = []string{
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium-browser-stable",
	"/usr/bin/google-chrome-stable",
}

// DefaultFlags are passed to every launched browser, in addition to
// headless and no-sandbox.
var DefaultFlags = []string{
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
	"disable-extensions",
	"disable-software-rasterizer",
	"no-zygote",
	"window-size=1920,1080",
}
