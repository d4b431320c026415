package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/ibeckermayer/xhscollect/internal/config"
)

func TestOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	headful := Options(config.BrowserConfig{Headless: false})
	headless := Options(config.BrowserConfig{Headless: true, WindowWidth: 1280, WindowHeight: 800})

	assert.Greater(t, len(headful), base)
	assert.Equal(t, len(headful)+1, len(headless), "headless adds disable-gpu")
}
